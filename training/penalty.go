package training

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/tsawler/go-wgan/layers"
)

// normEpsilon guards the gradient-norm sqrt against the zero-gradient
// singularity at norm 0
const normEpsilon = 1e-8

// gradientPenalty is the WGAN-GP soft constraint (Gulrajani et al., 2017).
//
// It penalizes deviation of the critic's input-gradient norm from 1 at
// points interpolated between real and fake samples, optionally adding the
// drift term of Progressive GAN to keep critic outputs near zero.
//
// The interpolation point x_hat is an input leaf: bind fills its value from
// the current real and fake minibatches before each run, and build wires the
// symbolic gradient of the critic at x_hat into the critic loss. The critic
// loss is then differentiated again with respect to the critic weights, so
// the penalty participates in the same gradient computation as the
// adversarial term.
type gradientPenalty struct {
	coeff      float64
	driftCoeff float64

	mb         int
	sampleSize int

	epsilon distuv.Uniform

	xHat    *gorgonia.Node
	xHatVal *tensor.Dense
}

// newGradientPenalty creates an evaluator for minibatches of mb samples
// with the given per-sample image shape
func newGradientPenalty(coeff, driftCoeff float64, mb int, imageShape []int, src rand.Source) *gradientPenalty {
	size := 1
	for _, d := range imageShape {
		size *= d
	}
	shape := append([]int{mb}, imageShape...)
	return &gradientPenalty{
		coeff:      coeff,
		driftCoeff: driftCoeff,
		mb:         mb,
		sampleSize: size,
		epsilon:    distuv.Uniform{Min: 0, Max: 1, Src: src},
		xHatVal: tensor.New(
			tensor.WithShape(shape...),
			tensor.WithBacking(make([]float32, mb*size)),
		),
	}
}

// Coeff returns the penalty coefficient
func (gp *gradientPenalty) Coeff() float64 {
	return gp.coeff
}

// build declares the x_hat input on g and returns the penalty node
//
//	coeff * mean((||∂critic(x_hat)/∂x_hat|| - 1)^2) + driftCoeff * mean(critic(real)^2)
//
// realIn is the critic graph's real-minibatch input, used only by the drift
// term, which is computed on real samples without interpolation.
func (gp *gradientPenalty) build(g *gorgonia.ExprGraph, critic *layers.Instance, realIn *gorgonia.Node) (*gorgonia.Node, error) {
	shape := gp.xHatVal.Shape()
	gp.xHat = gorgonia.NewTensor(g, tensor.Float32, len(shape),
		gorgonia.WithShape(shape...),
		gorgonia.WithName("x_hat"),
	)

	dHat, err := critic.Fwd(gp.xHat)
	if err != nil {
		return nil, errors.Wrap(err, "critic forward on x_hat")
	}
	dHatSum, err := gorgonia.Sum(dHat)
	if err != nil {
		return nil, errors.Wrap(err, "sum of interpolated scores")
	}

	// Gradient of the critic output with respect to the interpolated
	// samples. These nodes stay in the graph, so the outer critic-loss
	// gradient differentiates through them.
	inputGrads, err := gorgonia.Grad(dHatSum, gp.xHat)
	if err != nil {
		return nil, errors.Wrap(err, "gradient of critic at x_hat")
	}
	grad := inputGrads[0]

	sq, err := gorgonia.Square(grad)
	if err != nil {
		return nil, errors.Wrap(err, "squared gradient")
	}
	axes := make([]int, len(shape)-1)
	for i := range axes {
		axes[i] = i + 1
	}
	sumSq, err := gorgonia.Sum(sq, axes...)
	if err != nil {
		return nil, errors.Wrap(err, "per-sample squared norm")
	}
	shifted, err := gorgonia.Add(sumSq, gorgonia.NewConstant(float32(normEpsilon)))
	if err != nil {
		return nil, errors.Wrap(err, "norm epsilon")
	}
	norm, err := gorgonia.Sqrt(shifted)
	if err != nil {
		return nil, errors.Wrap(err, "gradient norm")
	}
	deviation, err := gorgonia.Sub(norm, gorgonia.NewConstant(float32(1.0)))
	if err != nil {
		return nil, errors.Wrap(err, "norm deviation")
	}
	devSq, err := gorgonia.Square(deviation)
	if err != nil {
		return nil, errors.Wrap(err, "squared deviation")
	}
	penalty, err := gorgonia.Mean(devSq)
	if err != nil {
		return nil, errors.Wrap(err, "penalty mean")
	}
	term, err := gorgonia.Mul(penalty, gorgonia.NewConstant(float32(gp.coeff)))
	if err != nil {
		return nil, errors.Wrap(err, "penalty scale")
	}

	if gp.driftCoeff > 0 {
		driftScores, err := critic.Fwd(realIn)
		if err != nil {
			return nil, errors.Wrap(err, "critic forward for drift term")
		}
		driftSq, err := gorgonia.Square(driftScores)
		if err != nil {
			return nil, errors.Wrap(err, "squared real scores")
		}
		drift, err := gorgonia.Mean(driftSq)
		if err != nil {
			return nil, errors.Wrap(err, "drift mean")
		}
		scaledDrift, err := gorgonia.Mul(drift, gorgonia.NewConstant(float32(gp.driftCoeff)))
		if err != nil {
			return nil, errors.Wrap(err, "drift scale")
		}
		if term, err = gorgonia.Add(term, scaledDrift); err != nil {
			return nil, errors.Wrap(err, "penalty plus drift")
		}
	}

	return term, nil
}

// bind draws one uniform epsilon per sample and fills the x_hat input with
// epsilon*real + (1-epsilon)*fake, broadcasting each sample's epsilon over
// its spatial and channel dimensions. Must not be called with an empty
// minibatch; the caller skips empty slices.
func (gp *gradientPenalty) bind(real, fake *tensor.Dense) error {
	realData := real.Data().([]float32)
	fakeData := fake.Data().([]float32)
	xHatData := gp.xHatVal.Data().([]float32)
	if len(realData) != len(xHatData) || len(fakeData) != len(xHatData) {
		return errors.Errorf("x_hat size %d does not match real %d / fake %d",
			len(xHatData), len(realData), len(fakeData))
	}

	for i := 0; i < gp.mb; i++ {
		eps := float32(gp.epsilon.Rand())
		base := i * gp.sampleSize
		for j := base; j < base+gp.sampleSize; j++ {
			xHatData[j] = eps*realData[j] + (1-eps)*fakeData[j]
		}
	}
	return gorgonia.Let(gp.xHat, gp.xHatVal)
}
