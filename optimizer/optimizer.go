package optimizer

import (
	"fmt"

	"gorgonia.org/gorgonia"
)

// Type represents the optimization algorithm used for a network
type Type int

const (
	SGD Type = iota
	RMSProp
	Adam
)

func (t Type) String() string {
	switch t {
	case SGD:
		return "SGD"
	case RMSProp:
		return "RMSProp"
	case Adam:
		return "Adam"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// ParseType resolves an optimizer name from configuration
func ParseType(name string) (Type, error) {
	switch name {
	case "sgd":
		return SGD, nil
	case "rmsprop":
		return RMSProp, nil
	case "adam":
		return Adam, nil
	default:
		return 0, fmt.Errorf("unknown optimizer type %q", name)
	}
}

// Config holds the hyperparameters for a single optimizer
type Config struct {
	Type         Type    `json:"type"`
	LearningRate float64 `json:"learning_rate"`
	Rho          float64 `json:"rho"`   // RMSProp decay
	Beta1        float64 `json:"beta1"` // Adam
	Beta2        float64 `json:"beta2"` // Adam
	Epsilon      float64 `json:"epsilon"`
	Clip         float64 `json:"clip"` // gradient clip, 0 disables
}

// DefaultSGDConfig returns the default SGD configuration
func DefaultSGDConfig() Config {
	return Config{
		Type:         SGD,
		LearningRate: 0.01,
	}
}

// DefaultRMSPropConfig returns the RMSProp configuration used by the
// weight-clipping Wasserstein setup (Arjovsky et al., 2017)
func DefaultRMSPropConfig() Config {
	return Config{
		Type:         RMSProp,
		LearningRate: 5e-5,
		Rho:          0.9,
		Epsilon:      1e-8,
	}
}

// DefaultAdamConfig returns the Adam configuration used by the
// gradient-penalty Wasserstein setup (Gulrajani et al., 2017)
func DefaultAdamConfig() Config {
	return Config{
		Type:         Adam,
		LearningRate: 1e-4,
		Beta1:        0.0,
		Beta2:        0.9,
		Epsilon:      1e-8,
	}
}

// Validate checks the hyperparameters for the configured type
func (c Config) Validate() error {
	if c.LearningRate <= 0 {
		return fmt.Errorf("%s: learning rate must be positive, got %g", c.Type, c.LearningRate)
	}
	if c.Clip < 0 {
		return fmt.Errorf("%s: gradient clip must be non-negative, got %g", c.Type, c.Clip)
	}
	switch c.Type {
	case SGD, RMSProp, Adam:
		return nil
	default:
		return fmt.Errorf("unknown optimizer type %d", int(c.Type))
	}
}

// NewSolver builds the gorgonia solver for the configuration. The returned
// solver updates parameter values in place, which is what lets networks
// share weight backings across expression graphs.
func NewSolver(c Config) (gorgonia.Solver, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid optimizer configuration: %v", err)
	}

	opts := []gorgonia.SolverOpt{gorgonia.WithLearnRate(c.LearningRate)}
	if c.Clip > 0 {
		opts = append(opts, gorgonia.WithClip(c.Clip))
	}

	switch c.Type {
	case SGD:
		return gorgonia.NewVanillaSolver(opts...), nil
	case RMSProp:
		if c.Rho > 0 {
			opts = append(opts, gorgonia.WithRho(c.Rho))
		}
		if c.Epsilon > 0 {
			opts = append(opts, gorgonia.WithEps(c.Epsilon))
		}
		return gorgonia.NewRMSPropSolver(opts...), nil
	case Adam:
		opts = append(opts, gorgonia.WithBeta1(c.Beta1), gorgonia.WithBeta2(c.Beta2))
		if c.Epsilon > 0 {
			opts = append(opts, gorgonia.WithEps(c.Epsilon))
		}
		return gorgonia.NewAdamSolver(opts...), nil
	default:
		return nil, fmt.Errorf("unknown optimizer type %d", int(c.Type))
	}
}
