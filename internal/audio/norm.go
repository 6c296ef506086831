package audio

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Stats carries the normalization settings of one audio pipeline. The
// acoustic model and the vocoder each have their own.
type Stats struct {
	SignalNorm bool
	Symmetric  bool
	MaxNorm    float64
	ClipNorm   bool
	MinLevelDB float64
	RefLevelDB float64
	// Mean and Std, when set, replace the dB range scaling with per-channel
	// mean/variance scaling.
	Mean []float64
	Std  []float64
}

type statsFile struct {
	Mean []float64 `json:"mel_mean"`
	Std  []float64 `json:"mel_std"`
}

// LoadMeanStd reads per-channel statistics from a JSON file holding
// "mel_mean" and "mel_std" arrays.
func LoadMeanStd(path string) ([]float64, []float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read stats file: %w", err)
	}
	var sf statsFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, nil, fmt.Errorf("decode stats file: %w", err)
	}
	if len(sf.Mean) == 0 || len(sf.Mean) != len(sf.Std) {
		return nil, nil, fmt.Errorf("stats file %s: mel_mean and mel_std must be non-empty and equal length", path)
	}
	for i, s := range sf.Std {
		if s == 0 {
			return nil, nil, fmt.Errorf("stats file %s: mel_std[%d] is zero", path, i)
		}
	}
	return sf.Mean, sf.Std, nil
}

func (s Stats) hasMeanStd() bool { return len(s.Mean) > 0 }

func (s Stats) checkChannels(f Features) error {
	if s.hasMeanStd() && len(s.Mean) != f.Channels {
		return fmt.Errorf("%w: stats cover %d channels, features have %d", ErrShape, len(s.Mean), f.Channels)
	}
	return nil
}

// Normalize maps dB-scaled features into the model's normalized range.
func Normalize(f Features, s Stats) (Features, error) {
	if err := f.Validate(); err != nil {
		return Features{}, err
	}
	out := f.Clone()
	if !s.SignalNorm {
		return out, nil
	}
	if err := s.checkChannels(f); err != nil {
		return Features{}, err
	}
	for c := 0; c < out.Channels; c++ {
		ch := out.Channel(c)
		for t, v := range ch {
			x := float64(v)
			if s.hasMeanStd() {
				ch[t] = float32((x - s.Mean[c]) / s.Std[c])
				continue
			}
			x -= s.RefLevelDB
			n := (x - s.MinLevelDB) / -s.MinLevelDB
			if s.Symmetric {
				n = 2*s.MaxNorm*n - s.MaxNorm
				if s.ClipNorm {
					n = clamp(n, -s.MaxNorm, s.MaxNorm)
				}
			} else {
				n = s.MaxNorm * n
				if s.ClipNorm {
					n = clamp(n, 0, s.MaxNorm)
				}
			}
			ch[t] = float32(n)
		}
	}
	return out, nil
}

// Denormalize is the inverse of Normalize, returning dB-scaled features.
func Denormalize(f Features, s Stats) (Features, error) {
	if err := f.Validate(); err != nil {
		return Features{}, err
	}
	out := f.Clone()
	if !s.SignalNorm {
		return out, nil
	}
	if err := s.checkChannels(f); err != nil {
		return Features{}, err
	}
	for c := 0; c < out.Channels; c++ {
		ch := out.Channel(c)
		for t, v := range ch {
			x := float64(v)
			if s.hasMeanStd() {
				ch[t] = float32(x*s.Std[c] + s.Mean[c])
				continue
			}
			var d float64
			if s.Symmetric {
				if s.ClipNorm {
					x = clamp(x, -s.MaxNorm, s.MaxNorm)
				}
				d = (x+s.MaxNorm)*-s.MinLevelDB/(2*s.MaxNorm) + s.MinLevelDB
			} else {
				if s.ClipNorm {
					x = clamp(x, 0, s.MaxNorm)
				}
				d = x*-s.MinLevelDB/s.MaxNorm + s.MinLevelDB
			}
			ch[t] = float32(d + s.RefLevelDB)
		}
	}
	return out, nil
}

// AmpToDB converts a magnitude to decibels with a 1e-5 floor.
func AmpToDB(x float64) float64 {
	return 20 * math.Log10(math.Max(1e-5, x))
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(math.Max(x, lo), hi)
}
