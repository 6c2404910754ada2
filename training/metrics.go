package training

// MeanMetric is a running-mean accumulator for per-step loss values.
// It is exclusively owned by one trainer and never read concurrently
// with an update; callers read Result between steps.
type MeanMetric struct {
	name  string
	total float64
	count int
}

// NewMeanMetric creates a named running-mean accumulator
func NewMeanMetric(name string) *MeanMetric {
	return &MeanMetric{name: name}
}

// Name returns the metric's name
func (m *MeanMetric) Name() string {
	return m.name
}

// Update folds one value into the running mean
func (m *MeanMetric) Update(value float64) {
	m.total += value
	m.count++
}

// Result returns the mean of all values since the last Reset,
// or 0 if nothing has been recorded
func (m *MeanMetric) Result() float64 {
	if m.count == 0 {
		return 0
	}
	return m.total / float64(m.count)
}

// Count returns the number of values folded in since the last Reset
func (m *MeanMetric) Count() int {
	return m.count
}

// Reset clears the accumulator
func (m *MeanMetric) Reset() {
	m.total = 0
	m.count = 0
}
