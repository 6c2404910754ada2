package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tsawler/go-wgan/layers"
)

// Checkpoint represents a complete GAN state: both networks' weights and
// training progress metadata
type Checkpoint struct {
	Generator []WeightTensor `json:"generator"`
	Critic    []WeightTensor `json:"critic"`

	TrainingState TrainingState `json:"training_state"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures the current training progress
type TrainingState struct {
	Epoch             int     `json:"epoch"`
	Step              int     `json:"step"`
	DiscriminatorLoss float64 `json:"discriminator_loss"`
	GeneratorLoss     float64 `json:"generator_loss"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

const checkpointVersion = "1.0.0"

// SaveCheckpoint writes both networks and the training state to path as JSON
func SaveCheckpoint(path string, generator, critic *layers.Network, state TrainingState) error {
	checkpoint := &Checkpoint{
		Generator:     extractWeights(generator),
		Critic:        extractWeights(critic),
		TrainingState: state,
		Metadata: CheckpointMetadata{
			Version:   checkpointVersion,
			Framework: "go-wgan",
			CreatedAt: time.Now().UTC(),
		},
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %v", path, err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint from path and restores the weights into
// the given networks in place. Both networks must already be compiled with
// architectures matching the checkpoint; every tensor is shape-checked
// before any data is copied.
func LoadCheckpoint(path string, generator, critic *layers.Network) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %v", path, err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %v", path, err)
	}

	if err := validateWeights(generator, checkpoint.Generator); err != nil {
		return nil, fmt.Errorf("generator mismatch: %v", err)
	}
	if err := validateWeights(critic, checkpoint.Critic); err != nil {
		return nil, fmt.Errorf("critic mismatch: %v", err)
	}

	restoreWeights(generator, checkpoint.Generator)
	restoreWeights(critic, checkpoint.Critic)
	return &checkpoint, nil
}

func extractWeights(net *layers.Network) []WeightTensor {
	weights := net.Weights()
	out := make([]WeightTensor, 0, len(weights))
	for _, w := range weights {
		data := w.Value.Data().([]float32)
		stored := make([]float32, len(data))
		copy(stored, data)
		out = append(out, WeightTensor{
			Name:  w.Name,
			Shape: append([]int(nil), w.Value.Shape()...),
			Data:  stored,
		})
	}
	return out
}

func validateWeights(net *layers.Network, stored []WeightTensor) error {
	weights := net.Weights()
	if len(weights) != len(stored) {
		return fmt.Errorf("expected %d weight tensors, checkpoint has %d", len(weights), len(stored))
	}
	for i, w := range weights {
		shape := w.Value.Shape()
		if len(shape) != len(stored[i].Shape) {
			return fmt.Errorf("tensor %s: rank %d does not match checkpoint rank %d",
				w.Name, len(shape), len(stored[i].Shape))
		}
		size := 1
		for d, dim := range shape {
			if dim != stored[i].Shape[d] {
				return fmt.Errorf("tensor %s: shape %v does not match checkpoint shape %v",
					w.Name, shape, stored[i].Shape)
			}
			size *= dim
		}
		if len(stored[i].Data) != size {
			return fmt.Errorf("tensor %s: %d values in checkpoint, expected %d",
				w.Name, len(stored[i].Data), size)
		}
	}
	return nil
}

func restoreWeights(net *layers.Network, stored []WeightTensor) {
	for i, w := range net.Weights() {
		copy(w.Value.Data().([]float32), stored[i].Data)
	}
}
