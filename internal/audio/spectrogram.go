package audio

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// STFTParams configures the linear spectrogram front-end.
type STFTParams struct {
	FFTSize   int
	HopLength int
	WinLength int
}

// SoundNorm scales a waveform so its peak sits at 0.95.
func SoundNorm(wav []float32) []float32 {
	out := make([]float32, len(wav))
	if len(wav) == 0 {
		return out
	}
	abs := make([]float64, len(wav))
	for i, v := range wav {
		abs[i] = math.Abs(float64(v))
	}
	peak := floats.Max(abs)
	if peak == 0 {
		return out
	}
	scale := 0.95 / peak
	for i, v := range wav {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

// Spectrogram computes the dB magnitude STFT of wav as a
// [FFTSize/2+1 x Frames] matrix. Frames are centered with reflect padding,
// giving 1+len(wav)/HopLength frames. There is no length cap.
func Spectrogram(wav []float32, p STFTParams) (Features, error) {
	if p.FFTSize <= 0 || p.HopLength <= 0 || p.WinLength <= 0 || p.WinLength > p.FFTSize {
		return Features{}, fmt.Errorf("invalid stft params %+v", p)
	}
	if len(wav) == 0 {
		return Features{}, fmt.Errorf("%w: empty waveform", ErrShape)
	}
	pad := p.FFTSize / 2
	padded := reflectPad(wav, pad)
	window := hannWindow(p.WinLength, p.FFTSize)

	frames := 1 + len(wav)/p.HopLength
	bins := p.FFTSize/2 + 1
	out := NewFeatures(bins, frames)

	fft := fourier.NewFFT(p.FFTSize)
	buf := make([]float64, p.FFTSize)
	coeffs := make([]complex128, bins)
	for t := 0; t < frames; t++ {
		start := t * p.HopLength
		for i := range buf {
			idx := start + i
			if idx < len(padded) {
				buf[i] = padded[idx] * window[i]
			} else {
				buf[i] = 0
			}
		}
		coeffs = fft.Coefficients(coeffs, buf)
		for k := 0; k < bins; k++ {
			out.Data[k*frames+t] = float32(AmpToDB(cmplx.Abs(coeffs[k])))
		}
	}
	return out, nil
}

// hannWindow returns a periodic Hann window of winLength centered in a
// frame of fftSize samples.
func hannWindow(winLength, fftSize int) []float64 {
	w := make([]float64, fftSize)
	offset := (fftSize - winLength) / 2
	for i := 0; i < winLength; i++ {
		w[offset+i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(winLength))
	}
	return w
}

func reflectPad(wav []float32, pad int) []float64 {
	n := len(wav)
	out := make([]float64, n+2*pad)
	for i := range out {
		j := i - pad
		// reflect without repeating the edge sample
		for n > 1 && (j < 0 || j >= n) {
			if j < 0 {
				j = -j
			}
			if j >= n {
				j = 2*(n-1) - j
			}
		}
		if n == 1 {
			j = 0
		}
		out[i] = float64(wav[j])
	}
	return out
}
