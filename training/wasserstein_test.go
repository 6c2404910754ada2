package training

import (
	"math"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/tsawler/go-wgan/layers"
	"github.com/tsawler/go-wgan/optimizer"
)

// countingSolver stands in for a gorgonia solver so tests can observe how
// many optimizer updates a critic step performs
type countingSolver struct {
	steps int
}

func (s *countingSolver) Step([]gorgonia.ValueGrad) error {
	s.steps++
	return nil
}

func tinyGeneratorSpec(cfg *GANConfig) *layers.ModelSpec {
	features := cfg.ImageHeight * cfg.ImageWidth * cfg.ImageChannels
	return layers.NewModelSpec("generator",
		layers.NewDense("hidden", cfg.LatentDim, 8),
		layers.NewLeakyReLU(0.2),
		layers.NewDense("output", 8, features),
		layers.NewTanh(),
		layers.NewReshape(cfg.ImageShape()...),
	)
}

func tinyCriticSpec(cfg *GANConfig) *layers.ModelSpec {
	features := cfg.ImageHeight * cfg.ImageWidth * cfg.ImageChannels
	return layers.NewModelSpec("critic",
		layers.NewFlatten(),
		layers.NewDense("hidden", features, 8),
		layers.NewLeakyReLU(0.2),
		layers.NewDense("score", 8, 1),
	)
}

func newTestTrainer(t *testing.T, cfg *GANConfig) *GANTrainer {
	t.Helper()
	trainer, err := NewGANTrainer(cfg, tinyGeneratorSpec(cfg), tinyCriticSpec(cfg))
	if err != nil {
		t.Fatalf("NewGANTrainer failed: %v", err)
	}
	return trainer
}

// realBatch builds a deterministic batch of n images in [-1, 1]
func realBatch(cfg *GANConfig, n int) *tensor.Dense {
	size := cfg.ImageHeight * cfg.ImageWidth * cfg.ImageChannels
	backing := make([]float32, n*size)
	for i := range backing {
		backing[i] = float32(math.Sin(float64(i)))
	}
	shape := append([]int{n}, cfg.ImageShape()...)
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

func snapshotWeights(net *layers.Network) [][]float32 {
	out := make([][]float32, 0, len(net.Weights()))
	for _, w := range net.Weights() {
		data := w.Value.Data().([]float32)
		stored := make([]float32, len(data))
		copy(stored, data)
		out = append(out, stored)
	}
	return out
}

func weightsEqual(net *layers.Network, snapshot [][]float32) bool {
	for i, w := range net.Weights() {
		data := w.Value.Data().([]float32)
		for j := range data {
			if data[j] != snapshot[i][j] {
				return false
			}
		}
	}
	return true
}

func maxAbsWeight(net *layers.Network) float64 {
	max := 0.0
	for _, w := range net.Weights() {
		for _, v := range w.Value.Data().([]float32) {
			if a := math.Abs(float64(v)); a > max {
				max = a
			}
		}
	}
	return max
}

// TestCriticStepUpdateCount tests that a full batch of n_critic minibatches
// yields exactly n_critic optimizer updates
func TestCriticStepUpdateCount(t *testing.T) {
	cfg := validClipConfig()
	cfg.NCritic = 2
	trainer := newTestTrainer(t, cfg)

	stub := &countingSolver{}
	trainer.stepper.(*criticUpdate).solver = stub

	if err := trainer.DiscriminatorStep(realBatch(cfg, 8)); err != nil {
		t.Fatalf("DiscriminatorStep failed: %v", err)
	}

	if stub.steps != 2 {
		t.Errorf("Expected 2 optimizer updates, got %d", stub.steps)
	}
	if trainer.dMetric.Count() != 2 {
		t.Errorf("Expected 2 metric updates, got %d", trainer.dMetric.Count())
	}
}

// TestCriticStepBatchSmallerThanMinibatch tests graceful degradation to
// zero updates with the metric left untouched
func TestCriticStepBatchSmallerThanMinibatch(t *testing.T) {
	cfg := validClipConfig()
	cfg.NCritic = 2
	trainer := newTestTrainer(t, cfg)

	stub := &countingSolver{}
	trainer.stepper.(*criticUpdate).solver = stub

	if err := trainer.DiscriminatorStep(realBatch(cfg, 3)); err != nil {
		t.Fatalf("DiscriminatorStep failed: %v", err)
	}

	if stub.steps != 0 {
		t.Errorf("Expected 0 optimizer updates for an under-sized batch, got %d", stub.steps)
	}
	if trainer.dMetric.Count() != 0 {
		t.Errorf("Expected the metric to be untouched, got %d updates", trainer.dMetric.Count())
	}
}

// TestCriticStepPartialTailSkipped tests that a partial trailing slice is
// skipped without error
func TestCriticStepPartialTailSkipped(t *testing.T) {
	cfg := validClipConfig()
	cfg.NCritic = 2
	trainer := newTestTrainer(t, cfg)

	stub := &countingSolver{}
	trainer.stepper.(*criticUpdate).solver = stub

	// 6 samples: one full minibatch of 4, then a tail of 2
	if err := trainer.DiscriminatorStep(realBatch(cfg, 6)); err != nil {
		t.Fatalf("DiscriminatorStep failed: %v", err)
	}

	if stub.steps != 1 {
		t.Errorf("Expected 1 optimizer update, got %d", stub.steps)
	}
}

// TestClipModeScenario tests the full weight-clipping path: n_critic=2,
// minibatch 4, batch 8, clip 0.5. After one step the critic weights are all
// inside the bound and the generator is untouched.
func TestClipModeScenario(t *testing.T) {
	cfg := validClipConfig()
	cfg.NCritic = 2
	cfg.ClipValue = 0.5
	trainer := newTestTrainer(t, cfg)

	// Plant a weight far outside the clip range
	trainer.critic.Weights()[0].Value.Data().([]float32)[0] = 5.0
	genBefore := snapshotWeights(trainer.generator)

	if err := trainer.DiscriminatorStep(realBatch(cfg, 8)); err != nil {
		t.Fatalf("DiscriminatorStep failed: %v", err)
	}

	if trainer.dMetric.Count() != 2 {
		t.Errorf("Expected 2 critic updates, got %d", trainer.dMetric.Count())
	}
	if max := maxAbsWeight(trainer.critic); max > 0.5 {
		t.Errorf("Expected all critic weights in [-0.5, 0.5], max abs is %f", max)
	}
	if !weightsEqual(trainer.generator, genBefore) {
		t.Error("Generator weights changed during a critic step")
	}
}

// TestGradientPenaltyModeNeverClips tests that a weight planted outside the
// clip range survives a gradient-penalty step unclamped
func TestGradientPenaltyModeNeverClips(t *testing.T) {
	cfg := validPenaltyConfig()
	cfg.NCritic = 2
	// Near-zero learning rate so the planted weight barely moves
	cfg.DOptimizer.LearningRate = 1e-8
	trainer := newTestTrainer(t, cfg)

	trainer.critic.Weights()[0].Value.Data().([]float32)[0] = 5.0

	if err := trainer.DiscriminatorStep(realBatch(cfg, 8)); err != nil {
		t.Fatalf("DiscriminatorStep failed: %v", err)
	}

	if max := maxAbsWeight(trainer.critic); max < 1.0 {
		t.Errorf("Expected the planted weight to persist unclamped, max abs is %f", max)
	}
	if trainer.dMetric.Count() != 2 {
		t.Errorf("Expected 2 critic updates, got %d", trainer.dMetric.Count())
	}
}

// TestVariantSelection tests the construction-time dispatch and the
// read-only accessors it determines
func TestVariantSelection(t *testing.T) {
	clip := newTestTrainer(t, validClipConfig())
	if clip.NCritic() != 5 {
		t.Errorf("Clip mode: expected NCritic 5, got %d", clip.NCritic())
	}
	if _, ok := clip.GradientPenalty(); ok {
		t.Error("Clip mode: expected no gradient-penalty coefficient")
	}

	penalty := newTestTrainer(t, validPenaltyConfig())
	coeff, ok := penalty.GradientPenalty()
	if !ok {
		t.Fatal("Penalty mode: expected a gradient-penalty coefficient")
	}
	if coeff != 10.0 {
		t.Errorf("Penalty mode: expected coefficient 10.0, got %g", coeff)
	}

	stdCfg := validClipConfig()
	stdCfg.Loss = LossStandard
	stdCfg.Wasserstein = WassersteinUnspecified
	stdCfg.ClipValue = 0
	stdCfg.NCritic = 3
	std := newTestTrainer(t, stdCfg)
	if std.NCritic() != 1 {
		t.Errorf("Standard mode: expected effective NCritic 1, got %d", std.NCritic())
	}
	if _, ok := std.GradientPenalty(); ok {
		t.Error("Standard mode: expected no gradient-penalty coefficient")
	}
}

// TestResolveStepVariant tests the enum mapping directly
func TestResolveStepVariant(t *testing.T) {
	cases := []struct {
		name     string
		cfg      *GANConfig
		expected stepVariant
	}{
		{"clip", validClipConfig(), wassersteinClipCriticStep},
		{"penalty", validPenaltyConfig(), wassersteinGradientPenaltyCriticStep},
	}
	for _, c := range cases {
		got, err := resolveStepVariant(c.cfg)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", c.name, err)
		}
		if got != c.expected {
			t.Errorf("%s: expected %v, got %v", c.name, c.expected, got)
		}
	}

	std := validClipConfig()
	std.Loss = LossStandard
	if got, err := resolveStepVariant(std); err != nil || got != baseCriticStep {
		t.Errorf("Standard: expected base variant, got %v (err %v)", got, err)
	}
}

// TestTrainerMisconfigurationFailsFast tests that invalid constraint
// combinations are rejected at construction, never mid-training
func TestTrainerMisconfigurationFailsFast(t *testing.T) {
	both := validClipConfig()
	both.GradientPenaltyCoeff = 10.0
	if _, err := NewGANTrainer(both, tinyGeneratorSpec(both), tinyCriticSpec(both)); err == nil {
		t.Error("Expected error when both constraints are configured")
	}

	neither := validClipConfig()
	neither.ClipValue = 0
	if _, err := NewGANTrainer(neither, tinyGeneratorSpec(neither), tinyCriticSpec(neither)); err == nil {
		t.Error("Expected error when no constraint is configured")
	}

	badOpt := validClipConfig()
	badOpt.DOptimizer = optimizer.Config{Type: optimizer.RMSProp}
	if _, err := NewGANTrainer(badOpt, tinyGeneratorSpec(badOpt), tinyCriticSpec(badOpt)); err == nil {
		t.Error("Expected error for an invalid optimizer configuration")
	}
}
