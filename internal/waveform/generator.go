package waveform

import "math"

// Generator maps a position within one cycle, normalized to [0, 1), to an
// amplitude in [-1, 1]. Frequency scaling is left to the caller.
type Generator func(phase float64) float64

// Sine generates sin(2π·phase).
func Sine(phase float64) float64 {
	return math.Sin(2 * math.Pi * phase)
}

// Triangle ramps linearly from -1 up to 1 at half a cycle and back down.
func Triangle(phase float64) float64 {
	r := math.Floor(phase + 0.5)
	sign := 1.0
	if math.Mod(r, 2) != 0 {
		sign = -1
	}
	// the conversion keeps the compiler from fusing this into an FMA
	return float64(4*(phase-r)*sign) - 1
}

// Sawtooth ramps linearly from -1 to 1 once per cycle. Phase is reduced
// modulo 1, so any real input yields a valid sawtooth.
func Sawtooth(phase float64) float64 {
	return float64(2*(phase-math.Floor(phase))) - 1
}

// Square is a 50% duty square wave: low for the first half of the cycle,
// high for the second.
func Square(phase float64) float64 {
	return Sawtooth(phase) - Sawtooth(phase-0.5)
}

// SquareDuty returns a square wave that spends the given fraction of each
// cycle at the high level. The difference of two shifted sawtooths has levels
// 2s-2 and 2s for a shift s; the 2s-1 offset recentres them on ±1 and is
// zero for the 50% case.
func SquareDuty(duty float64) Generator {
	shift := 1 - duty
	offset := 2*shift - 1
	return func(phase float64) float64 {
		return Sawtooth(phase) - Sawtooth(phase-shift) - offset
	}
}
