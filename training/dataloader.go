package training

import (
	"fmt"
	"math/rand"
	"sync"

	"gorgonia.org/tensor"
)

// Dataset is the real-sample collaborator the trainer consumes. Samples are
// flattened (height*width*channels) float32 slices; the loader reassembles
// them into 4D batches.
type Dataset interface {
	// Len returns the total number of samples
	Len() int

	// SampleShape returns the per-sample shape (height, width, channels)
	SampleShape() []int

	// Sample copies sample idx into dst, which is sized to hold exactly
	// one flattened sample
	Sample(idx int, dst []float32) error
}

// TensorDataset is an in-memory Dataset over a 4D (batch, height, width,
// channels) tensor of real samples
type TensorDataset struct {
	data  *tensor.Dense
	shape []int
	size  int
}

// NewTensorDataset wraps a 4D tensor of real samples
func NewTensorDataset(data *tensor.Dense) (*TensorDataset, error) {
	shape := data.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("dataset tensor must be 4-dimensional (batch, height, width, channels), got %v", shape)
	}
	return &TensorDataset{
		data:  data,
		shape: []int{shape[1], shape[2], shape[3]},
		size:  shape[1] * shape[2] * shape[3],
	}, nil
}

// Len returns the number of samples
func (ds *TensorDataset) Len() int {
	return ds.data.Shape()[0]
}

// SampleShape returns the per-sample shape
func (ds *TensorDataset) SampleShape() []int {
	return ds.shape
}

// Sample copies one flattened sample into dst
func (ds *TensorDataset) Sample(idx int, dst []float32) error {
	if idx < 0 || idx >= ds.Len() {
		return fmt.Errorf("sample index %d out of range [0, %d)", idx, ds.Len())
	}
	if len(dst) != ds.size {
		return fmt.Errorf("destination length %d does not match sample size %d", len(dst), ds.size)
	}
	src := ds.data.Data().([]float32)
	copy(dst, src[idx*ds.size:(idx+1)*ds.size])
	return nil
}

// DataLoader provides shuffled batching over a Dataset. Batches are sized
// for the critic update step: NCritic*MinibatchSize samples each, so one
// batch feeds one full outer training iteration.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a DataLoader yielding batches of batchSize samples
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) (*DataLoader, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be >= 1, got %d", batchSize)
	}
	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}, nil
}

// Len returns the number of batches in an epoch, counting a partial tail batch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader for a new epoch, reshuffling if enabled
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch as a 4D tensor, or nil when the epoch is
// complete. The tail batch may hold fewer than batchSize samples; the
// critic step skips the slices it cannot fill.
func (dl *DataLoader) Next() (*tensor.Dense, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil
	}

	end := dl.position + dl.batchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}
	count := end - dl.position

	shape := dl.dataset.SampleShape()
	size := 1
	for _, d := range shape {
		size *= d
	}

	backing := make([]float32, count*size)
	for i := 0; i < count; i++ {
		idx := dl.indices[dl.position+i]
		if err := dl.dataset.Sample(idx, backing[i*size:(i+1)*size]); err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
	}
	dl.position = end

	batchShape := append([]int{count}, shape...)
	return tensor.New(tensor.WithShape(batchShape...), tensor.WithBacking(backing)), nil
}
