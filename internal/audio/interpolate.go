package audio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// ResampleTime stretches or compresses the time axis by ratio using linear
// interpolation with aligned end points. The output has floor(Frames*ratio)
// frames and the same channel count.
func ResampleTime(f Features, ratio float64) (Features, error) {
	if err := f.Validate(); err != nil {
		return Features{}, err
	}
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return Features{}, fmt.Errorf("%w: invalid time ratio %v", ErrShape, ratio)
	}
	frames := int(math.Floor(float64(f.Frames) * ratio))
	if frames <= 0 {
		return Features{}, fmt.Errorf("%w: %d frames at ratio %v leaves nothing", ErrShape, f.Frames, ratio)
	}
	if frames == f.Frames {
		return f.Clone(), nil
	}

	out := NewFeatures(f.Channels, frames)
	if f.Frames == 1 {
		for c := 0; c < f.Channels; c++ {
			v := f.At(c, 0)
			ch := out.Channel(c)
			for t := range ch {
				ch[t] = v
			}
		}
		return out, nil
	}

	xs := make([]float64, f.Frames)
	for i := range xs {
		xs[i] = float64(i)
	}
	// align corners: output frame j samples source position j*(T-1)/(T'-1)
	step := 0.0
	if frames > 1 {
		step = float64(f.Frames-1) / float64(frames-1)
	}
	ys := make([]float64, f.Frames)
	for c := 0; c < f.Channels; c++ {
		for i, v := range f.Channel(c) {
			ys[i] = float64(v)
		}
		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, ys); err != nil {
			return Features{}, fmt.Errorf("fit channel %d: %w", c, err)
		}
		ch := out.Channel(c)
		last := float64(f.Frames - 1)
		for j := range ch {
			x := math.Min(float64(j)*step, last)
			ch[j] = float32(pl.Predict(x))
		}
	}
	return out, nil
}
