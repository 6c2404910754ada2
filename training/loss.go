package training

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Loss builds adversarial loss nodes from critic score nodes. Both methods
// return minimization objectives for the respective optimizer.
type Loss interface {
	// Discriminator builds the critic loss from the critic's scores on
	// real and fake samples
	Discriminator(realScores, fakeScores *gorgonia.Node) (*gorgonia.Node, error)

	// Generator builds the generator loss from the critic's scores on
	// fake samples
	Generator(fakeScores *gorgonia.Node) (*gorgonia.Node, error)
}

// WassersteinLoss is the critic objective of Arjovsky et al. The critic
// maximizes mean(real) - mean(fake); framed for a minimizing optimizer the
// loss is mean(fake) - mean(real), so the metric trends negative as the
// critic improves. The generator minimizes -mean(fake).
type WassersteinLoss struct{}

// Discriminator returns mean(fake) - mean(real)
func (WassersteinLoss) Discriminator(realScores, fakeScores *gorgonia.Node) (*gorgonia.Node, error) {
	realMean, err := gorgonia.Mean(realScores)
	if err != nil {
		return nil, errors.Wrap(err, "mean of real scores")
	}
	fakeMean, err := gorgonia.Mean(fakeScores)
	if err != nil {
		return nil, errors.Wrap(err, "mean of fake scores")
	}
	loss, err := gorgonia.Sub(fakeMean, realMean)
	if err != nil {
		return nil, errors.Wrap(err, "wasserstein loss")
	}
	return loss, nil
}

// Generator returns -mean(fake)
func (WassersteinLoss) Generator(fakeScores *gorgonia.Node) (*gorgonia.Node, error) {
	fakeMean, err := gorgonia.Mean(fakeScores)
	if err != nil {
		return nil, errors.Wrap(err, "mean of fake scores")
	}
	loss, err := gorgonia.Neg(fakeMean)
	if err != nil {
		return nil, errors.Wrap(err, "negate")
	}
	return loss, nil
}

// StandardLoss is the original minimax GAN objective with the
// non-saturating generator variant. Scores are logits; probabilities go
// through a sigmoid with a small epsilon inside each log.
type StandardLoss struct{}

const logEpsilon = 1e-8

// Discriminator returns -mean(log(sigmoid(real))) - mean(log(1 - sigmoid(fake)))
func (StandardLoss) Discriminator(realScores, fakeScores *gorgonia.Node) (*gorgonia.Node, error) {
	realTerm, err := logProb(realScores, false)
	if err != nil {
		return nil, errors.Wrap(err, "real term")
	}
	fakeTerm, err := logProb(fakeScores, true)
	if err != nil {
		return nil, errors.Wrap(err, "fake term")
	}
	sum, err := gorgonia.Add(realTerm, fakeTerm)
	if err != nil {
		return nil, errors.Wrap(err, "bce sum")
	}
	loss, err := gorgonia.Neg(sum)
	if err != nil {
		return nil, errors.Wrap(err, "negate")
	}
	return loss, nil
}

// Generator returns -mean(log(sigmoid(fake)))
func (StandardLoss) Generator(fakeScores *gorgonia.Node) (*gorgonia.Node, error) {
	term, err := logProb(fakeScores, false)
	if err != nil {
		return nil, errors.Wrap(err, "fake term")
	}
	loss, err := gorgonia.Neg(term)
	if err != nil {
		return nil, errors.Wrap(err, "negate")
	}
	return loss, nil
}

// logProb builds mean(log(sigmoid(scores))) or, with complement set,
// mean(log(1 - sigmoid(scores)))
func logProb(scores *gorgonia.Node, complement bool) (*gorgonia.Node, error) {
	p, err := gorgonia.Sigmoid(scores)
	if err != nil {
		return nil, errors.Wrap(err, "sigmoid")
	}
	if complement {
		one := gorgonia.NewConstant(float32(1.0))
		if p, err = gorgonia.Sub(one, p); err != nil {
			return nil, errors.Wrap(err, "complement")
		}
	}
	eps := gorgonia.NewConstant(float32(logEpsilon))
	safe, err := gorgonia.Add(p, eps)
	if err != nil {
		return nil, errors.Wrap(err, "epsilon shift")
	}
	logP, err := gorgonia.Log(safe)
	if err != nil {
		return nil, errors.Wrap(err, "log")
	}
	return gorgonia.Mean(logP)
}
