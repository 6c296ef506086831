package audio

import "math"

// TrimPolicy decides how leading and trailing silence is removed.
type TrimPolicy struct {
	Enabled     bool
	TopDB       float64 // frames quieter than the loudest frame by more than TopDB are silent
	FrameLength int
	HopLength   int
}

const powerFloor = 1e-10

// TrimSilence cuts leading and trailing frames whose RMS energy sits more
// than TopDB below the loudest frame. Frames start on the hop grid and every
// kept frame lies wholly inside the result, so trimming the result again is
// a no-op. A fully silent waveform trims to empty.
func TrimSilence(wav []float32, p TrimPolicy) []float32 {
	if !p.Enabled || len(wav) == 0 || p.FrameLength <= 0 || p.HopLength <= 0 {
		return wav
	}
	power := framePower(wav, p.FrameLength, p.HopLength)

	maxPower := 0.0
	for _, v := range power {
		maxPower = math.Max(maxPower, v)
	}
	if maxPower <= powerFloor {
		return wav[:0]
	}
	ref := 10 * math.Log10(math.Max(powerFloor, maxPower))

	first, last := -1, -1
	for i, v := range power {
		db := 10*math.Log10(math.Max(powerFloor, v)) - ref
		if db > -p.TopDB {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return wav[:0]
	}
	start := first * p.HopLength
	end := min(last*p.HopLength+p.FrameLength, len(wav))
	if start >= end {
		return wav[:0]
	}
	return wav[start:end]
}

// framePower returns the mean square of frames starting at i*hop. Full
// frames come first; a shorter tail frame covers any samples they miss.
func framePower(wav []float32, frameLength, hop int) []float64 {
	full := 0
	if len(wav) >= frameLength {
		full = 1 + (len(wav)-frameLength)/hop
	}
	n := full
	if full == 0 || ((full-1)*hop+frameLength < len(wav) && full*hop < len(wav)) {
		n++
	}
	power := make([]float64, n)
	for i := range power {
		lo := i * hop
		hi := min(lo+frameLength, len(wav))
		var sum float64
		for _, v := range wav[lo:hi] {
			sum += float64(v) * float64(v)
		}
		power[i] = sum / float64(frameLength)
	}
	return power
}
