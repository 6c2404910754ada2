package training

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/tsawler/go-wgan/layers"
	"github.com/tsawler/go-wgan/optimizer"
)

// criticStepper runs the discriminator side of one outer training iteration.
// The variant is chosen once at trainer construction and fixed for the
// trainer's lifetime.
type criticStepper interface {
	// Step consumes a real batch of iterations()*minibatch samples and
	// performs up to iterations() critic updates
	Step(realImages *tensor.Dense) error

	// iterations returns the effective n_critic
	iterations() int

	// penaltyCoeff returns the gradient-penalty coefficient, with ok set
	// only in gradient-penalty mode
	penaltyCoeff() (float64, bool)
}

// criticUpdate is the critic training step. One instance owns a static
// expression graph over minibatch-sized inputs, a tape machine, and the
// critic solver; every call to Step re-binds the inputs and reruns the tape
// n_critic times over consecutive slices of the real batch.
//
// The loop is strictly sequential: each iteration's solver update mutates
// the critic weight backings in place, so the next iteration's forward pass
// sees the updated parameters.
type criticUpdate struct {
	nCritic int
	mb      int

	sampler *fakeSampler

	realIn *gorgonia.Node
	fakeIn *gorgonia.Node

	vm         gorgonia.VM
	solver     gorgonia.Solver
	valueGrads []gorgonia.ValueGrad
	lossVal    gorgonia.Value

	// clip mode only: projection applied to every critic weight after
	// every solver step
	constraint    *WeightClipConstraint
	criticWeights []*layers.Weight

	// gradient-penalty mode only
	penalty *gradientPenalty

	metric *MeanMetric
}

// newCriticUpdate builds the critic step graph: one concatenated critic
// pass over [real; fake], split back into per-side scores, the configured
// adversarial loss, and (in penalty mode) the gradient-penalty term inside
// the same differentiation scope.
func newCriticUpdate(
	cfg *GANConfig,
	gen, critic *layers.Network,
	loss Loss,
	nCritic int,
	constraint *WeightClipConstraint,
	penalty *gradientPenalty,
	metric *MeanMetric,
	src rand.Source,
) (*criticUpdate, error) {
	sampler, err := newFakeSampler(gen, cfg, src)
	if err != nil {
		return nil, errors.Wrap(err, "fake sampler")
	}

	mb := cfg.MinibatchSize
	inputShape := append([]int{mb}, cfg.ImageShape()...)

	g := gorgonia.NewGraph()
	realIn := gorgonia.NewTensor(g, tensor.Float32, len(inputShape),
		gorgonia.WithShape(inputShape...),
		gorgonia.WithName("real_batch"),
	)
	fakeIn := gorgonia.NewTensor(g, tensor.Float32, len(inputShape),
		gorgonia.WithShape(inputShape...),
		gorgonia.WithName("fake_batch"),
	)

	criticInst, err := critic.Instance(g)
	if err != nil {
		return nil, errors.Wrap(err, "critic instance")
	}

	// Single critic pass over the concatenation, split back into scores
	joint, err := gorgonia.Concat(0, realIn, fakeIn)
	if err != nil {
		return nil, errors.Wrap(err, "concat real and fake")
	}
	scores, err := criticInst.Fwd(joint)
	if err != nil {
		return nil, errors.Wrap(err, "critic forward")
	}
	realScores, err := gorgonia.Slice(scores, gorgonia.S(0, mb))
	if err != nil {
		return nil, errors.Wrap(err, "real scores")
	}
	fakeScores, err := gorgonia.Slice(scores, gorgonia.S(mb, 2*mb))
	if err != nil {
		return nil, errors.Wrap(err, "fake scores")
	}

	totalLoss, err := loss.Discriminator(realScores, fakeScores)
	if err != nil {
		return nil, errors.Wrap(err, "adversarial loss")
	}
	if penalty != nil {
		term, err := penalty.build(g, criticInst, realIn)
		if err != nil {
			return nil, errors.Wrap(err, "gradient penalty")
		}
		if totalLoss, err = gorgonia.Add(totalLoss, term); err != nil {
			return nil, errors.Wrap(err, "loss plus penalty")
		}
	}

	cu := &criticUpdate{
		nCritic:       nCritic,
		mb:            mb,
		sampler:       sampler,
		realIn:        realIn,
		fakeIn:        fakeIn,
		constraint:    constraint,
		criticWeights: critic.Weights(),
		penalty:       penalty,
		metric:        metric,
	}

	gorgonia.Read(totalLoss, &cu.lossVal)

	learnables := criticInst.Learnables()
	if _, err := gorgonia.Grad(totalLoss, learnables...); err != nil {
		return nil, errors.Wrap(err, "critic gradients")
	}

	cu.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...))
	cu.valueGrads = gorgonia.NodesToValueGrads(learnables)

	cu.solver, err = optimizer.NewSolver(cfg.DOptimizer)
	if err != nil {
		return nil, errors.Wrap(err, "critic solver")
	}
	return cu, nil
}

// Step runs up to nCritic critic updates over consecutive minibatch slices
// of realImages. The batch is expected to hold nCritic*mb samples; slices
// that run past the batch (an under-sized or exhausted tail) are skipped
// rather than flagged, so a batch smaller than one minibatch degenerates to
// zero updates and leaves the metric untouched. The generator is sampled,
// never mutated.
func (cu *criticUpdate) Step(realImages *tensor.Dense) error {
	shape := realImages.Shape()
	if len(shape) != len(cu.realIn.Shape()) {
		return errors.Errorf("real batch must be %d-dimensional, got shape %v",
			len(cu.realIn.Shape()), shape)
	}
	n := shape[0]

	for idx := 0; idx < cu.nCritic; idx++ {
		start := idx * cu.mb
		end := start + cu.mb
		if end > n {
			// Batch exhausted; not an error
			continue
		}
		view, err := realImages.Slice(tensor.S(start, end))
		if err != nil {
			return errors.Wrapf(err, "real batch slice [%d:%d]", start, end)
		}
		realMB := view.Materialize().(*tensor.Dense)

		fake, err := cu.sampler.sample()
		if err != nil {
			return errors.Wrap(err, "generator sample")
		}

		if err := gorgonia.Let(cu.realIn, realMB); err != nil {
			return errors.Wrap(err, "bind real batch")
		}
		if err := gorgonia.Let(cu.fakeIn, fake); err != nil {
			return errors.Wrap(err, "bind fake batch")
		}
		if cu.penalty != nil {
			if err := cu.penalty.bind(realMB, fake); err != nil {
				return errors.Wrap(err, "bind x_hat")
			}
		}

		if err := cu.vm.RunAll(); err != nil {
			return errors.Wrapf(err, "critic iteration %d", idx)
		}
		lossValue, err := scalarValue(cu.lossVal)
		if err != nil {
			return errors.Wrap(err, "critic loss value")
		}

		if err := cu.solver.Step(cu.valueGrads); err != nil {
			return errors.Wrapf(err, "critic solver step %d", idx)
		}
		cu.vm.Reset()

		if cu.constraint != nil {
			for _, w := range cu.criticWeights {
				if err := cu.constraint.Apply(w.Value); err != nil {
					return errors.Wrapf(err, "clip %s", w.Name)
				}
			}
		}

		cu.metric.Update(lossValue)
	}
	return nil
}

func (cu *criticUpdate) iterations() int {
	return cu.nCritic
}

func (cu *criticUpdate) penaltyCoeff() (float64, bool) {
	if cu.penalty == nil {
		return 0, false
	}
	return cu.penalty.Coeff(), true
}

// fakeSampler runs the generator forward on fresh standard-normal latent
// noise. It owns its own graph and tape machine; the generator weights are
// shared backings, so samples always reflect the generator's current
// parameters even though generator updates happen on a different graph.
type fakeSampler struct {
	noise    distuv.Normal
	noiseVal *tensor.Dense
	noiseIn  *gorgonia.Node
	fakeVal  gorgonia.Value
	vm       gorgonia.VM
}

func newFakeSampler(gen *layers.Network, cfg *GANConfig, src rand.Source) (*fakeSampler, error) {
	s := &fakeSampler{
		noise: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		noiseVal: tensor.New(
			tensor.WithShape(cfg.MinibatchSize, cfg.LatentDim),
			tensor.WithBacking(make([]float32, cfg.MinibatchSize*cfg.LatentDim)),
		),
	}

	g := gorgonia.NewGraph()
	s.noiseIn = gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(cfg.MinibatchSize, cfg.LatentDim),
		gorgonia.WithName("latent_noise"),
	)
	genInst, err := gen.Instance(g)
	if err != nil {
		return nil, errors.Wrap(err, "generator instance")
	}
	fake, err := genInst.Fwd(s.noiseIn)
	if err != nil {
		return nil, errors.Wrap(err, "generator forward")
	}
	gorgonia.Read(fake, &s.fakeVal)
	s.vm = gorgonia.NewTapeMachine(g)
	return s, nil
}

// sample draws fresh latent noise and returns a detached copy of the
// generated minibatch
func (s *fakeSampler) sample() (*tensor.Dense, error) {
	data := s.noiseVal.Data().([]float32)
	for i := range data {
		data[i] = float32(s.noise.Rand())
	}
	if err := gorgonia.Let(s.noiseIn, s.noiseVal); err != nil {
		return nil, errors.Wrap(err, "bind noise")
	}
	if err := s.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "generator run")
	}
	out, ok := s.fakeVal.(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("unexpected generator output value %T", s.fakeVal)
	}
	detached := out.Clone().(*tensor.Dense)
	s.vm.Reset()
	return detached, nil
}

// newStandardNormal builds the standard-normal latent distribution
func newStandardNormal(src rand.Source) distuv.Normal {
	return distuv.Normal{Mu: 0, Sigma: 1, Src: src}
}

// scalarValue extracts a float from a scalar gorgonia value
func scalarValue(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, errors.New("value not computed")
	}
	switch data := v.Data().(type) {
	case float32:
		return float64(data), nil
	case float64:
		return data, nil
	case []float32:
		if len(data) == 1 {
			return float64(data[0]), nil
		}
	case []float64:
		if len(data) == 1 {
			return data[0], nil
		}
	}
	return 0, errors.Errorf("value is not scalar: %v", v.Shape())
}
