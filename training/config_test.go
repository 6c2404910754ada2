package training

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-wgan/optimizer"
)

func validClipConfig() *GANConfig {
	return &GANConfig{
		Loss:          LossWasserstein,
		Wasserstein:   ClipWeights,
		NCritic:       5,
		ClipValue:     0.01,
		MinibatchSize: 4,
		LatentDim:     16,
		ImageHeight:   4,
		ImageWidth:    4,
		ImageChannels: 1,
		Seed:          1,
		DOptimizer:    optimizer.DefaultRMSPropConfig(),
		GOptimizer:    optimizer.DefaultRMSPropConfig(),
	}
}

func validPenaltyConfig() *GANConfig {
	cfg := validClipConfig()
	cfg.Wasserstein = GradientPenalty
	cfg.ClipValue = 0
	cfg.GradientPenaltyCoeff = 10.0
	cfg.DOptimizer = optimizer.DefaultAdamConfig()
	cfg.GOptimizer = optimizer.DefaultAdamConfig()
	return cfg
}

// TestGANConfigValidate tests fail-fast construction-time validation
func TestGANConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*GANConfig)
		wantErr bool
	}{
		{"valid clip mode", func(c *GANConfig) {}, false},
		{"zero n_critic", func(c *GANConfig) { c.NCritic = 0 }, true},
		{"zero minibatch", func(c *GANConfig) { c.MinibatchSize = 0 }, true},
		{"zero latent dim", func(c *GANConfig) { c.LatentDim = 0 }, true},
		{"zero image dims", func(c *GANConfig) { c.ImageHeight = 0 }, true},
		{"negative drift", func(c *GANConfig) { c.DriftTermCoeff = -1 }, true},
		{"both constraints", func(c *GANConfig) { c.GradientPenaltyCoeff = 10 }, true},
		{"neither constraint", func(c *GANConfig) { c.ClipValue = 0 }, true},
		{"type disagrees with values", func(c *GANConfig) {
			c.Wasserstein = GradientPenalty
		}, true},
		{"unspecified wasserstein type", func(c *GANConfig) {
			c.Wasserstein = WassersteinUnspecified
		}, true},
		{"bad optimizer", func(c *GANConfig) { c.DOptimizer.LearningRate = 0 }, true},
	}

	for _, c := range cases {
		cfg := validClipConfig()
		c.mutate(cfg)
		err := cfg.Validate()
		if c.wantErr && err == nil {
			t.Errorf("%s: expected error, got nil", c.name)
		}
		if !c.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", c.name, err)
		}
	}

	if err := validPenaltyConfig().Validate(); err != nil {
		t.Errorf("valid penalty mode: unexpected error: %v", err)
	}
}

// TestGANConfigStandardModeIgnoresConstraints tests that the exclusive
// constraint rule only binds Wasserstein trainers
func TestGANConfigStandardModeIgnoresConstraints(t *testing.T) {
	cfg := validClipConfig()
	cfg.Loss = LossStandard
	cfg.Wasserstein = WassersteinUnspecified
	cfg.ClipValue = 0

	if err := cfg.Validate(); err != nil {
		t.Errorf("Unexpected error for standard mode: %v", err)
	}
}

// TestDiscriminatorBatchSize tests the expected critic-step batch sizing
func TestDiscriminatorBatchSize(t *testing.T) {
	cfg := validClipConfig()
	if got := cfg.DiscriminatorBatchSize(); got != 20 {
		t.Errorf("Expected 20, got %d", got)
	}
}

// TestParseLossType tests loss name resolution
func TestParseLossType(t *testing.T) {
	for name, expected := range map[string]LossType{
		"":            LossStandard,
		"standard":    LossStandard,
		"wasserstein": LossWasserstein,
	} {
		got, err := ParseLossType(name)
		if err != nil {
			t.Errorf("ParseLossType(%q) failed: %v", name, err)
		}
		if got != expected {
			t.Errorf("ParseLossType(%q): expected %v, got %v", name, expected, got)
		}
	}
	if _, err := ParseLossType("hinge"); err == nil {
		t.Error("Expected error for unknown loss name")
	}
}

// TestParseWassersteinType tests constraint name resolution
func TestParseWassersteinType(t *testing.T) {
	for name, expected := range map[string]WassersteinType{
		"":                 WassersteinUnspecified,
		"clip_weights":     ClipWeights,
		"gradient_penalty": GradientPenalty,
	} {
		got, err := ParseWassersteinType(name)
		if err != nil {
			t.Errorf("ParseWassersteinType(%q) failed: %v", name, err)
		}
		if got != expected {
			t.Errorf("ParseWassersteinType(%q): expected %v, got %v", name, expected, got)
		}
	}
	if _, err := ParseWassersteinType("spectral_norm"); err == nil {
		t.Error("Expected error for unknown constraint name")
	}
}

// TestLoadGANConfig tests loading a YAML configuration with viper
func TestLoadGANConfig(t *testing.T) {
	yaml := `
loss: wasserstein
wasserstein_type: clip_weights
n_critic: 3
clip_value: 0.05
minibatch_size: 8
latent_dim: 32
image:
  height: 8
  width: 8
  channels: 1
d_optimizer:
  type: rmsprop
  learning_rate: 0.0001
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadGANConfig(path)
	if err != nil {
		t.Fatalf("LoadGANConfig failed: %v", err)
	}

	if cfg.Loss != LossWasserstein {
		t.Errorf("Expected wasserstein loss, got %v", cfg.Loss)
	}
	if cfg.Wasserstein != ClipWeights {
		t.Errorf("Expected clip_weights, got %v", cfg.Wasserstein)
	}
	if cfg.NCritic != 3 {
		t.Errorf("Expected n_critic 3, got %d", cfg.NCritic)
	}
	if cfg.ClipValue != 0.05 {
		t.Errorf("Expected clip_value 0.05, got %g", cfg.ClipValue)
	}
	if cfg.MinibatchSize != 8 {
		t.Errorf("Expected minibatch_size 8, got %d", cfg.MinibatchSize)
	}
	if cfg.DOptimizer.Type != optimizer.RMSProp {
		t.Errorf("Expected RMSProp discriminator optimizer, got %v", cfg.DOptimizer.Type)
	}
	if cfg.DOptimizer.LearningRate != 0.0001 {
		t.Errorf("Expected learning rate 0.0001, got %g", cfg.DOptimizer.LearningRate)
	}
	// Drift term defaults to 0 when absent
	if cfg.DriftTermCoeff != 0 {
		t.Errorf("Expected default drift_term 0, got %g", cfg.DriftTermCoeff)
	}
}

// TestLoadGANConfigMisconfigured tests that an invalid file fails at load time
func TestLoadGANConfigMisconfigured(t *testing.T) {
	yaml := `
loss: wasserstein
wasserstein_type: clip_weights
clip_value: 0.05
gradient_penalty: 10.0
minibatch_size: 8
latent_dim: 32
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := LoadGANConfig(path); err == nil {
		t.Error("Expected error for config with both constraints")
	}
}
