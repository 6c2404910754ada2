package training

import (
	"fmt"

	"gorgonia.org/tensor"
)

// WeightClipConstraint projects critic weights into [-clipValue, clipValue]
// after every optimizer update, enforcing the approximate Lipschitz bound of
// the original Wasserstein GAN (Arjovsky et al., 2017). The projection is an
// explicit post-update step owned by the critic update loop, not a layer
// callback, so the update-then-clip ordering is directly observable.
type WeightClipConstraint struct {
	clipValue float32
}

// NewWeightClipConstraint creates a constraint clamping into [-clipValue, clipValue]
func NewWeightClipConstraint(clipValue float64) (*WeightClipConstraint, error) {
	if clipValue <= 0 {
		return nil, fmt.Errorf("clip value must be positive, got %g", clipValue)
	}
	return &WeightClipConstraint{clipValue: float32(clipValue)}, nil
}

// ClipValue returns the configured bound
func (c *WeightClipConstraint) ClipValue() float64 {
	return float64(c.clipValue)
}

// Apply clamps every element of w into [-clipValue, clipValue] in place.
// Elements already inside the bound are left untouched.
func (c *WeightClipConstraint) Apply(w *tensor.Dense) error {
	if _, err := tensor.Clamp(w, -c.clipValue, c.clipValue, tensor.UseUnsafe()); err != nil {
		return fmt.Errorf("weight clip failed: %v", err)
	}
	return nil
}
