package synth

// Assembler joins trimmed segments with a fixed block of silence between
// consecutive segments.
type Assembler struct {
	Padding int
}

// Assemble returns a new slice; the segments are not modified.
func (a Assembler) Assemble(segments [][]float32) []float32 {
	if len(segments) == 0 {
		return []float32{}
	}
	total := 0
	for _, s := range segments {
		total += len(s)
	}
	pad := max(a.Padding, 0)
	total += pad * (len(segments) - 1)

	out := make([]float32, 0, total)
	for i, s := range segments {
		if i > 0 {
			out = append(out, make([]float32, pad)...)
		}
		out = append(out, s...)
	}
	return out
}
