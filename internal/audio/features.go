// Package audio implements the signal-side helpers the synthesis engine
// combines: spectrogram (de)normalization, silence trimming, time-axis
// feature interpolation, reference clip features and WAV IO.
package audio

import (
	"errors"
	"fmt"
)

// ErrShape reports a feature matrix whose dimensions do not line up.
var ErrShape = errors.New("malformed feature matrix")

// Features is a [Channels x Frames] matrix stored channel-major, so the
// values of channel c occupy Data[c*Frames : (c+1)*Frames].
type Features struct {
	Channels int
	Frames   int
	Data     []float32
}

// NewFeatures allocates a zeroed matrix.
func NewFeatures(channels, frames int) Features {
	return Features{Channels: channels, Frames: frames, Data: make([]float32, channels*frames)}
}

// FromFrames builds a matrix from frame-major rows ([T][C]), the layout
// model runners emit.
func FromFrames(rows [][]float32) (Features, error) {
	if len(rows) == 0 {
		return Features{}, fmt.Errorf("%w: no frames", ErrShape)
	}
	channels := len(rows[0])
	if channels == 0 {
		return Features{}, fmt.Errorf("%w: frame 0 has no channels", ErrShape)
	}
	f := NewFeatures(channels, len(rows))
	for t, row := range rows {
		if len(row) != channels {
			return Features{}, fmt.Errorf("%w: frame %d has %d channels, want %d", ErrShape, t, len(row), channels)
		}
		for c, v := range row {
			f.Data[c*f.Frames+t] = v
		}
	}
	return f, nil
}

// Rows returns the matrix frame-major ([T][C]).
func (f Features) Rows() [][]float32 {
	rows := make([][]float32, f.Frames)
	for t := range rows {
		row := make([]float32, f.Channels)
		for c := range row {
			row[c] = f.Data[c*f.Frames+t]
		}
		rows[t] = row
	}
	return rows
}

// Validate checks that the dimensions are positive and match the data.
func (f Features) Validate() error {
	if f.Channels <= 0 || f.Frames <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrShape, f.Channels, f.Frames)
	}
	if len(f.Data) != f.Channels*f.Frames {
		return fmt.Errorf("%w: %d values for %dx%d", ErrShape, len(f.Data), f.Channels, f.Frames)
	}
	return nil
}

func (f Features) At(c, t int) float32 { return f.Data[c*f.Frames+t] }

// Channel returns the frames of channel c without copying.
func (f Features) Channel(c int) []float32 { return f.Data[c*f.Frames : (c+1)*f.Frames] }

// Clone returns a deep copy.
func (f Features) Clone() Features {
	out := f
	out.Data = append([]float32(nil), f.Data...)
	return out
}
