package layers

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	ReLU
	LeakyReLU
	Sigmoid
	Tanh
	Flatten
	Reshape
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case ReLU:
		return "ReLU"
	case LeakyReLU:
		return "LeakyReLU"
	case Sigmoid:
		return "Sigmoid"
	case Tanh:
		return "Tanh"
	case Flatten:
		return "Flatten"
	case Reshape:
		return "Reshape"
	default:
		return "Unknown"
	}
}

// LayerSpec defines layer configuration for model compilation.
// This is pure configuration - no execution logic.
type LayerSpec struct {
	Type LayerType `json:"type"`
	Name string    `json:"name"`

	// Dense parameters
	InputSize  int `json:"input_size,omitempty"`
	OutputSize int `json:"output_size,omitempty"`

	// LeakyReLU negative slope
	Alpha float64 `json:"alpha,omitempty"`

	// Reshape target shape, excluding the batch dimension
	TargetShape []int `json:"target_shape,omitempty"`
}

// NewDense creates a dense layer specification
func NewDense(name string, inputSize, outputSize int) LayerSpec {
	return LayerSpec{
		Type:       Dense,
		Name:       name,
		InputSize:  inputSize,
		OutputSize: outputSize,
	}
}

// NewReLU creates a ReLU activation specification
func NewReLU() LayerSpec {
	return LayerSpec{Type: ReLU}
}

// NewLeakyReLU creates a leaky ReLU activation specification with the given negative slope
func NewLeakyReLU(alpha float64) LayerSpec {
	return LayerSpec{Type: LeakyReLU, Alpha: alpha}
}

// NewSigmoid creates a sigmoid activation specification
func NewSigmoid() LayerSpec {
	return LayerSpec{Type: Sigmoid}
}

// NewTanh creates a tanh activation specification
func NewTanh() LayerSpec {
	return LayerSpec{Type: Tanh}
}

// NewFlatten creates a layer that flattens all non-batch dimensions
func NewFlatten() LayerSpec {
	return LayerSpec{Type: Flatten}
}

// NewReshape creates a layer that reshapes the non-batch dimensions to targetShape
func NewReshape(targetShape ...int) LayerSpec {
	return LayerSpec{Type: Reshape, TargetShape: targetShape}
}

// ModelSpec defines a complete neural network model as layer configuration
type ModelSpec struct {
	Name   string      `json:"name"`
	Layers []LayerSpec `json:"layers"`
}

// NewModelSpec creates a model specification from a sequence of layer specs
func NewModelSpec(name string, specs ...LayerSpec) *ModelSpec {
	return &ModelSpec{Name: name, Layers: specs}
}

// Validate checks that the layer sequence is structurally sound
func (ms *ModelSpec) Validate() error {
	if ms.Name == "" {
		return fmt.Errorf("model spec must have a name")
	}
	if len(ms.Layers) == 0 {
		return fmt.Errorf("model %s has no layers", ms.Name)
	}
	for i, l := range ms.Layers {
		switch l.Type {
		case Dense:
			if l.InputSize <= 0 || l.OutputSize <= 0 {
				return fmt.Errorf("model %s layer %d (Dense): input and output sizes must be positive, got %d and %d",
					ms.Name, i, l.InputSize, l.OutputSize)
			}
		case Reshape:
			if len(l.TargetShape) == 0 {
				return fmt.Errorf("model %s layer %d (Reshape): target shape is empty", ms.Name, i)
			}
			for _, d := range l.TargetShape {
				if d <= 0 {
					return fmt.Errorf("model %s layer %d (Reshape): target shape %v has non-positive dimension",
						ms.Name, i, l.TargetShape)
				}
			}
		}
	}
	return nil
}

// ParameterCount returns the number of trainable scalars the compiled model will hold
func (ms *ModelSpec) ParameterCount() int64 {
	var count int64
	for _, l := range ms.Layers {
		if l.Type == Dense {
			count += int64(l.InputSize*l.OutputSize + l.OutputSize)
		}
	}
	return count
}

// Compile validates the spec and allocates the model's weight tensors.
// Dense kernels are initialized with Glorot uniform draws seeded by seed;
// biases start at zero. The returned Network owns the weight backings and
// can be instantiated onto any number of expression graphs.
func (ms *ModelSpec) Compile(seed uint64) (*Network, error) {
	if err := ms.Validate(); err != nil {
		return nil, err
	}

	net := &Network{spec: ms}
	src := rand.NewSource(seed)

	for i, l := range ms.Layers {
		if l.Type != Dense {
			continue
		}
		name := l.Name
		if name == "" {
			name = fmt.Sprintf("dense_%d", i)
		}

		limit := math.Sqrt(6.0 / float64(l.InputSize+l.OutputSize))
		dist := distuv.Uniform{Min: -limit, Max: limit, Src: src}

		kernel := make([]float32, l.InputSize*l.OutputSize)
		for j := range kernel {
			kernel[j] = float32(dist.Rand())
		}

		w := &Weight{
			Name: fmt.Sprintf("%s.%s.kernel", ms.Name, name),
			Value: tensor.New(
				tensor.WithShape(l.InputSize, l.OutputSize),
				tensor.WithBacking(kernel),
			),
		}
		b := &Weight{
			Name: fmt.Sprintf("%s.%s.bias", ms.Name, name),
			Value: tensor.New(
				tensor.WithShape(1, l.OutputSize),
				tensor.WithBacking(make([]float32, l.OutputSize)),
			),
		}
		net.weights = append(net.weights, w, b)
	}

	return net, nil
}
