package audio

import "math"

// Stats summarizes one block of decoded samples.
type Stats struct {
	Samples   int
	Zero      int
	NonFinite int
	Min       float32
	Max       float32
	RMS       float32
}

// ZeroRatio returns the fraction of samples that are exactly zero.
func (s Stats) ZeroRatio() float64 {
	if s.Samples == 0 {
		return 1
	}

	return float64(s.Zero) / float64(s.Samples)
}

// Analyze computes Stats over normalized samples. Non-finite samples are counted
// but excluded from Min, Max and RMS.
func Analyze(samples []float32) Stats {
	st := Stats{Samples: len(samples), Min: float32(math.Inf(1)), Max: float32(math.Inf(-1))}

	var sum float64
	finite := 0
	for _, s := range samples {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			st.NonFinite++

			continue
		}
		if s == 0 {
			st.Zero++
		}
		st.Min = min(st.Min, s)
		st.Max = max(st.Max, s)
		sum += f * f
		finite++
	}

	if finite == 0 {
		st.Min, st.Max = 0, 0

		return st
	}
	st.RMS = float32(math.Sqrt(sum / float64(finite)))

	return st
}
