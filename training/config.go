package training

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/tsawler/go-wgan/optimizer"
)

// LossType selects the adversarial objective the trainer is built around
type LossType int

const (
	LossStandard LossType = iota
	LossWasserstein
)

func (lt LossType) String() string {
	switch lt {
	case LossStandard:
		return "standard"
	case LossWasserstein:
		return "wasserstein"
	default:
		return fmt.Sprintf("Unknown(%d)", int(lt))
	}
}

// ParseLossType resolves a loss name from configuration
func ParseLossType(name string) (LossType, error) {
	switch name {
	case "standard", "":
		return LossStandard, nil
	case "wasserstein":
		return LossWasserstein, nil
	default:
		return 0, fmt.Errorf("unknown loss type %q", name)
	}
}

// WassersteinType selects how the critic's Lipschitz constraint is enforced
type WassersteinType int

const (
	WassersteinUnspecified WassersteinType = iota
	ClipWeights
	GradientPenalty
)

func (wt WassersteinType) String() string {
	switch wt {
	case WassersteinUnspecified:
		return "unspecified"
	case ClipWeights:
		return "clip_weights"
	case GradientPenalty:
		return "gradient_penalty"
	default:
		return fmt.Sprintf("Unknown(%d)", int(wt))
	}
}

// ParseWassersteinType resolves a constraint name from configuration
func ParseWassersteinType(name string) (WassersteinType, error) {
	switch name {
	case "":
		return WassersteinUnspecified, nil
	case "clip_weights":
		return ClipWeights, nil
	case "gradient_penalty":
		return GradientPenalty, nil
	default:
		return 0, fmt.Errorf("unknown wasserstein type %q", name)
	}
}

// GANConfig is the immutable training configuration, read once at trainer
// construction. Exactly one of weight clipping and gradient penalty may be
// active for a Wasserstein trainer.
type GANConfig struct {
	Loss        LossType
	Wasserstein WassersteinType

	// NCritic is the number of critic updates per generator update
	NCritic int

	// ClipValue bounds critic weights in clip mode
	ClipValue float64

	// GradientPenaltyCoeff scales the gradient-norm penalty in penalty mode
	GradientPenaltyCoeff float64

	// DriftTermCoeff scales the drift penalty mean(critic(real)^2) in
	// penalty mode; 0 disables the term
	DriftTermCoeff float64

	MinibatchSize int
	LatentDim     int

	// Image dimensions of a real sample (height, width, channels)
	ImageHeight   int
	ImageWidth    int
	ImageChannels int

	Seed uint64

	DOptimizer optimizer.Config
	GOptimizer optimizer.Config
}

// Validate fails fast on construction-time misconfiguration
func (c *GANConfig) Validate() error {
	if c.NCritic < 1 {
		return fmt.Errorf("n_critic must be >= 1, got %d", c.NCritic)
	}
	if c.MinibatchSize < 1 {
		return fmt.Errorf("minibatch_size must be >= 1, got %d", c.MinibatchSize)
	}
	if c.LatentDim < 1 {
		return fmt.Errorf("latent_dim must be >= 1, got %d", c.LatentDim)
	}
	if c.ImageHeight < 1 || c.ImageWidth < 1 || c.ImageChannels < 1 {
		return fmt.Errorf("image dimensions must be positive, got %dx%dx%d",
			c.ImageHeight, c.ImageWidth, c.ImageChannels)
	}
	if c.DriftTermCoeff < 0 {
		return fmt.Errorf("drift_term must be non-negative, got %g", c.DriftTermCoeff)
	}

	if c.Loss == LossWasserstein {
		hasClip := c.ClipValue > 0
		hasPenalty := c.GradientPenaltyCoeff > 0
		switch {
		case hasClip && hasPenalty:
			return fmt.Errorf("both clip_value (%g) and gradient_penalty (%g) configured: exactly one constraint may be active",
				c.ClipValue, c.GradientPenaltyCoeff)
		case !hasClip && !hasPenalty:
			return fmt.Errorf("wasserstein loss requires either clip_value or gradient_penalty to be configured")
		case c.Wasserstein == ClipWeights && !hasClip:
			return fmt.Errorf("wasserstein_type is clip_weights but clip_value is not positive")
		case c.Wasserstein == GradientPenalty && !hasPenalty:
			return fmt.Errorf("wasserstein_type is gradient_penalty but gradient_penalty coefficient is not positive")
		case c.Wasserstein == WassersteinUnspecified:
			return fmt.Errorf("wasserstein loss requires wasserstein_type to be set")
		}
	}

	if err := c.DOptimizer.Validate(); err != nil {
		return fmt.Errorf("discriminator optimizer: %v", err)
	}
	if err := c.GOptimizer.Validate(); err != nil {
		return fmt.Errorf("generator optimizer: %v", err)
	}
	return nil
}

// DiscriminatorBatchSize returns the real-batch size one critic update step
// expects from the caller: NCritic minibatches worth of samples
func (c *GANConfig) DiscriminatorBatchSize() int {
	return c.NCritic * c.MinibatchSize
}

// ImageShape returns the per-sample shape (height, width, channels)
func (c *GANConfig) ImageShape() []int {
	return []int{c.ImageHeight, c.ImageWidth, c.ImageChannels}
}

// LoadGANConfig reads a trainer configuration from a YAML file with viper,
// applying the usual WGAN paper defaults, and validates it.
func LoadGANConfig(path string) (*GANConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("loss", "standard")
	v.SetDefault("n_critic", 5)
	v.SetDefault("clip_value", 0.0)
	v.SetDefault("gradient_penalty", 0.0)
	v.SetDefault("drift_term", 0.0)
	v.SetDefault("minibatch_size", 64)
	v.SetDefault("latent_dim", 128)
	v.SetDefault("image.height", 28)
	v.SetDefault("image.width", 28)
	v.SetDefault("image.channels", 1)
	v.SetDefault("seed", 42)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %v", path, err)
	}

	lossType, err := ParseLossType(v.GetString("loss"))
	if err != nil {
		return nil, err
	}
	wType, err := ParseWassersteinType(v.GetString("wasserstein_type"))
	if err != nil {
		return nil, err
	}

	cfg := &GANConfig{
		Loss:                 lossType,
		Wasserstein:          wType,
		NCritic:              v.GetInt("n_critic"),
		ClipValue:            v.GetFloat64("clip_value"),
		GradientPenaltyCoeff: v.GetFloat64("gradient_penalty"),
		DriftTermCoeff:       v.GetFloat64("drift_term"),
		MinibatchSize:        v.GetInt("minibatch_size"),
		LatentDim:            v.GetInt("latent_dim"),
		ImageHeight:          v.GetInt("image.height"),
		ImageWidth:           v.GetInt("image.width"),
		ImageChannels:        v.GetInt("image.channels"),
		Seed:                 v.GetUint64("seed"),
		DOptimizer:           defaultDOptimizer(lossType, wType),
		GOptimizer:           optimizer.DefaultAdamConfig(),
	}

	// Non-wasserstein trainers run a single critic pass per step
	if lossType != LossWasserstein {
		cfg.NCritic = 1
	}

	if err := loadOptimizer(v, "d_optimizer", &cfg.DOptimizer); err != nil {
		return nil, err
	}
	if err := loadOptimizer(v, "g_optimizer", &cfg.GOptimizer); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %v", path, err)
	}
	return cfg, nil
}

func defaultDOptimizer(loss LossType, wt WassersteinType) optimizer.Config {
	if loss == LossWasserstein && wt == ClipWeights {
		return optimizer.DefaultRMSPropConfig()
	}
	return optimizer.DefaultAdamConfig()
}

func loadOptimizer(v *viper.Viper, key string, cfg *optimizer.Config) error {
	if !v.IsSet(key) {
		return nil
	}
	if v.IsSet(key + ".type") {
		t, err := optimizer.ParseType(v.GetString(key + ".type"))
		if err != nil {
			return fmt.Errorf("%s: %v", key, err)
		}
		cfg.Type = t
	}
	if v.IsSet(key + ".learning_rate") {
		cfg.LearningRate = v.GetFloat64(key + ".learning_rate")
	}
	if v.IsSet(key + ".rho") {
		cfg.Rho = v.GetFloat64(key + ".rho")
	}
	if v.IsSet(key + ".beta1") {
		cfg.Beta1 = v.GetFloat64(key + ".beta1")
	}
	if v.IsSet(key + ".beta2") {
		cfg.Beta2 = v.GetFloat64(key + ".beta2")
	}
	if v.IsSet(key + ".epsilon") {
		cfg.Epsilon = v.GetFloat64(key + ".epsilon")
	}
	if v.IsSet(key + ".clip") {
		cfg.Clip = v.GetFloat64(key + ".clip")
	}
	return nil
}
