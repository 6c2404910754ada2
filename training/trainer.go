package training

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/tsawler/go-wgan/layers"
	"github.com/tsawler/go-wgan/optimizer"
)

// stepVariant tags the critic-step implementation a trainer is built with.
// The variant is resolved once from the configuration at construction; it is
// a capability decision, not a per-call branch.
type stepVariant int

const (
	baseCriticStep stepVariant = iota
	wassersteinClipCriticStep
	wassersteinGradientPenaltyCriticStep
)

func (v stepVariant) String() string {
	switch v {
	case baseCriticStep:
		return "base"
	case wassersteinClipCriticStep:
		return "wasserstein_clip"
	case wassersteinGradientPenaltyCriticStep:
		return "wasserstein_gradient_penalty"
	default:
		return fmt.Sprintf("Unknown(%d)", int(v))
	}
}

type stepConstructor func(t *GANTrainer, src rand.Source) (criticStepper, error)

// stepConstructors is the closed set of critic-step strategies, keyed by
// variant and evaluated exactly once per trainer
var stepConstructors = map[stepVariant]stepConstructor{
	baseCriticStep:                       newBaseStep,
	wassersteinClipCriticStep:            newClipStep,
	wassersteinGradientPenaltyCriticStep: newGradientPenaltyStep,
}

// resolveStepVariant maps the validated configuration to a step variant
func resolveStepVariant(cfg *GANConfig) (stepVariant, error) {
	if cfg.Loss != LossWasserstein {
		return baseCriticStep, nil
	}
	switch cfg.Wasserstein {
	case ClipWeights:
		return wassersteinClipCriticStep, nil
	case GradientPenalty:
		return wassersteinGradientPenaltyCriticStep, nil
	default:
		return 0, fmt.Errorf("wasserstein loss requires a wasserstein_type")
	}
}

func newBaseStep(t *GANTrainer, src rand.Source) (criticStepper, error) {
	// The base algorithm runs a single critic pass per outer iteration
	return newCriticUpdate(t.cfg, t.generator, t.critic, t.loss, 1, nil, nil, t.dMetric, src)
}

func newClipStep(t *GANTrainer, src rand.Source) (criticStepper, error) {
	constraint, err := NewWeightClipConstraint(t.cfg.ClipValue)
	if err != nil {
		return nil, err
	}
	return newCriticUpdate(t.cfg, t.generator, t.critic, t.loss, t.cfg.NCritic, constraint, nil, t.dMetric, src)
}

func newGradientPenaltyStep(t *GANTrainer, src rand.Source) (criticStepper, error) {
	penalty := newGradientPenalty(
		t.cfg.GradientPenaltyCoeff,
		t.cfg.DriftTermCoeff,
		t.cfg.MinibatchSize,
		t.cfg.ImageShape(),
		src,
	)
	return newCriticUpdate(t.cfg, t.generator, t.critic, t.loss, t.cfg.NCritic, nil, penalty, t.dMetric, src)
}

// GANTrainer owns one generator/critic pair, their solvers, and the critic
// step variant resolved from the configuration. All state is exclusively
// owned; training steps are synchronous and single-threaded.
type GANTrainer struct {
	cfg *GANConfig

	generator *layers.Network
	critic    *layers.Network

	loss    Loss
	stepper criticStepper
	genStep *generatorUpdate

	dMetric *MeanMetric
	gMetric *MeanMetric

	log *logrus.Entry
}

// NewGANTrainer validates the configuration, compiles both networks, and
// builds the trainer with the critic-step variant the configuration selects.
// Misconfiguration fails here, never mid-training.
func NewGANTrainer(cfg *GANConfig, genSpec, criticSpec *layers.ModelSpec) (*GANTrainer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trainer configuration: %v", err)
	}

	variant, err := resolveStepVariant(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid trainer configuration: %v", err)
	}

	gen, err := genSpec.Compile(cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to compile generator: %v", err)
	}
	critic, err := criticSpec.Compile(cfg.Seed + 1)
	if err != nil {
		return nil, fmt.Errorf("failed to compile critic: %v", err)
	}

	t := &GANTrainer{
		cfg:       cfg,
		generator: gen,
		critic:    critic,
		dMetric:   NewMeanMetric("d_loss"),
		gMetric:   NewMeanMetric("g_loss"),
		log:       logrus.WithField("component", "gan_trainer"),
	}

	if cfg.Loss == LossWasserstein {
		t.loss = WassersteinLoss{}
	} else {
		t.loss = StandardLoss{}
	}

	src := rand.NewSource(cfg.Seed)
	construct := stepConstructors[variant]
	if t.stepper, err = construct(t, src); err != nil {
		return nil, fmt.Errorf("failed to build critic step: %v", err)
	}
	if t.genStep, err = newGeneratorUpdate(t, src); err != nil {
		return nil, fmt.Errorf("failed to build generator step: %v", err)
	}

	fields := logrus.Fields{
		"variant":  variant.String(),
		"n_critic": t.stepper.iterations(),
	}
	switch variant {
	case wassersteinClipCriticStep:
		fields["clip_value"] = cfg.ClipValue
	case wassersteinGradientPenaltyCriticStep:
		fields["gradient_penalty"] = cfg.GradientPenaltyCoeff
		fields["drift_term"] = cfg.DriftTermCoeff
	}
	t.log.WithFields(fields).Info("configured critic update step")

	return t, nil
}

// Config returns the trainer's configuration
func (t *GANTrainer) Config() *GANConfig {
	return t.cfg
}

// Generator returns the generator network
func (t *GANTrainer) Generator() *layers.Network {
	return t.generator
}

// Critic returns the critic network
func (t *GANTrainer) Critic() *layers.Network {
	return t.critic
}

// NCritic returns the effective number of critic updates per generator update
func (t *GANTrainer) NCritic() int {
	return t.stepper.iterations()
}

// GradientPenalty returns the effective gradient-penalty coefficient; ok is
// false unless the trainer is in gradient-penalty mode
func (t *GANTrainer) GradientPenalty() (coeff float64, ok bool) {
	return t.stepper.penaltyCoeff()
}

// DiscriminatorStep performs one critic update step on a batch of real
// images shaped (NCritic*MinibatchSize, H, W, C). It mutates critic
// parameters, critic optimizer state, and the critic loss metric; the
// generator is only sampled.
func (t *GANTrainer) DiscriminatorStep(realImages *tensor.Dense) error {
	return t.stepper.Step(realImages)
}

// GeneratorStep performs one generator update on fresh latent noise. It
// mutates generator parameters, generator optimizer state, and the
// generator loss metric; the critic is only evaluated.
func (t *GANTrainer) GeneratorStep() error {
	return t.genStep.step()
}

// DiscriminatorLoss returns the mean critic loss since the last reset
func (t *GANTrainer) DiscriminatorLoss() float64 {
	return t.dMetric.Result()
}

// GeneratorLoss returns the mean generator loss since the last reset
func (t *GANTrainer) GeneratorLoss() float64 {
	return t.gMetric.Result()
}

// ResetMetrics clears both loss accumulators
func (t *GANTrainer) ResetMetrics() {
	t.dMetric.Reset()
	t.gMetric.Reset()
}

// Train runs the outer loop for the given number of epochs: one critic
// update step followed by one generator step per loader batch, with epoch
// metrics logged and reset between epochs.
func (t *GANTrainer) Train(loader *DataLoader, epochs int) error {
	if epochs < 1 {
		return fmt.Errorf("epochs must be >= 1, got %d", epochs)
	}
	for epoch := 1; epoch <= epochs; epoch++ {
		loader.Reset()
		batches := 0
		for {
			batch, err := loader.Next()
			if err != nil {
				return fmt.Errorf("epoch %d: %v", epoch, err)
			}
			if batch == nil {
				break
			}
			if err := t.DiscriminatorStep(batch); err != nil {
				return fmt.Errorf("epoch %d discriminator step: %v", epoch, err)
			}
			if err := t.GeneratorStep(); err != nil {
				return fmt.Errorf("epoch %d generator step: %v", epoch, err)
			}
			batches++
		}
		t.log.WithFields(logrus.Fields{
			"epoch":   epoch,
			"batches": batches,
			"d_loss":  t.DiscriminatorLoss(),
			"g_loss":  t.GeneratorLoss(),
		}).Info("epoch complete")
		t.ResetMetrics()
	}
	return nil
}

// generatorUpdate is the generator training step. Its graph runs the
// generator forward on latent noise and scores the result with a
// value-sharing instance of the critic; only the generator's learnables
// receive gradients, so critic weights are read, never written.
type generatorUpdate struct {
	noiseVal *tensor.Dense
	noiseIn  *gorgonia.Node
	noise    noiseFiller

	vm         gorgonia.VM
	solver     gorgonia.Solver
	valueGrads []gorgonia.ValueGrad
	lossVal    gorgonia.Value

	metric *MeanMetric
}

// noiseFiller abstracts the latent distribution for the generator step
type noiseFiller interface {
	Rand() float64
}

func newGeneratorUpdate(t *GANTrainer, src rand.Source) (*generatorUpdate, error) {
	cfg := t.cfg
	gu := &generatorUpdate{
		noiseVal: tensor.New(
			tensor.WithShape(cfg.MinibatchSize, cfg.LatentDim),
			tensor.WithBacking(make([]float32, cfg.MinibatchSize*cfg.LatentDim)),
		),
		noise:  newStandardNormal(src),
		metric: t.gMetric,
	}

	g := gorgonia.NewGraph()
	gu.noiseIn = gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(cfg.MinibatchSize, cfg.LatentDim),
		gorgonia.WithName("latent_noise"),
	)

	genInst, err := t.generator.Instance(g)
	if err != nil {
		return nil, errors.Wrap(err, "generator instance")
	}
	criticInst, err := t.critic.Instance(g)
	if err != nil {
		return nil, errors.Wrap(err, "critic instance")
	}

	fake, err := genInst.Fwd(gu.noiseIn)
	if err != nil {
		return nil, errors.Wrap(err, "generator forward")
	}
	scores, err := criticInst.Fwd(fake)
	if err != nil {
		return nil, errors.Wrap(err, "critic forward")
	}
	loss, err := t.loss.Generator(scores)
	if err != nil {
		return nil, errors.Wrap(err, "generator loss")
	}
	gorgonia.Read(loss, &gu.lossVal)

	learnables := genInst.Learnables()
	if _, err := gorgonia.Grad(loss, learnables...); err != nil {
		return nil, errors.Wrap(err, "generator gradients")
	}
	gu.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...))
	gu.valueGrads = gorgonia.NodesToValueGrads(learnables)

	if gu.solver, err = optimizer.NewSolver(cfg.GOptimizer); err != nil {
		return nil, errors.Wrap(err, "generator solver")
	}
	return gu, nil
}

func (gu *generatorUpdate) step() error {
	data := gu.noiseVal.Data().([]float32)
	for i := range data {
		data[i] = float32(gu.noise.Rand())
	}
	if err := gorgonia.Let(gu.noiseIn, gu.noiseVal); err != nil {
		return errors.Wrap(err, "bind noise")
	}
	if err := gu.vm.RunAll(); err != nil {
		return errors.Wrap(err, "generator run")
	}
	lossValue, err := scalarValue(gu.lossVal)
	if err != nil {
		return errors.Wrap(err, "generator loss value")
	}
	if err := gu.solver.Step(gu.valueGrads); err != nil {
		return errors.Wrap(err, "generator solver step")
	}
	gu.vm.Reset()
	gu.metric.Update(lossValue)
	return nil
}
