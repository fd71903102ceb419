package waveform

import (
	"fmt"
	"math"
)

// Rounding selects how a scaled amplitude is brought to an integer.
type Rounding int

const (
	// RoundNearest rounds half away from zero.
	RoundNearest Rounding = iota
	// RoundTruncate rounds toward zero, like a native float to int cast.
	RoundTruncate
)

// Overflow selects what happens to values outside the int16 range.
type Overflow int

const (
	// OverflowClamp saturates at -32768 and 32767.
	OverflowClamp Overflow = iota
	// OverflowWrap keeps the low 16 bits, two's-complement style.
	OverflowWrap
)

// Quantizer turns a scaled amplitude into a 16-bit sample. The zero value
// rounds to nearest and clamps.
//
// Under RoundTruncate the peak itself is an integer: FullScale*amplitude is
// truncated toward zero before any sample is scaled by it.
type Quantizer struct {
	Rounding Rounding
	Overflow Overflow
}

// ReferenceQuantizer truncates and wraps, which is what narrowing a float to
// a 16-bit integer does natively. Together with the integer peak it yields
// the historical byte stream exactly. Full-scale amplitudes wrap: +32768
// becomes -32768.
var ReferenceQuantizer = Quantizer{Rounding: RoundTruncate, Overflow: OverflowWrap}

// peak is the sample magnitude an amplitude of 1 in a generator maps to.
func (q Quantizer) peak(amplitude float64) float64 {
	p := FullScale * amplitude
	if q.Rounding == RoundTruncate {
		return math.Trunc(p)
	}
	return p
}

// Quantize converts v to an int16 according to q. NaN maps to 0, as does an
// infinity under OverflowWrap.
func (q Quantizer) Quantize(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	if q.Rounding == RoundTruncate {
		v = math.Trunc(v)
	} else {
		v = math.Round(v)
	}
	if q.Overflow == OverflowWrap {
		w := math.Mod(v, 1<<16)
		if math.IsNaN(w) {
			return 0
		}
		return int16(int64(w))
	}
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

func (r Rounding) String() string {
	switch r {
	case RoundNearest:
		return "nearest"
	case RoundTruncate:
		return "truncate"
	}
	return fmt.Sprintf("Rounding(%d)", int(r))
}

func (o Overflow) String() string {
	switch o {
	case OverflowClamp:
		return "clamp"
	case OverflowWrap:
		return "wrap"
	}
	return fmt.Sprintf("Overflow(%d)", int(o))
}

// ParseRounding accepts "nearest" or "truncate".
func ParseRounding(s string) (Rounding, error) {
	switch s {
	case "nearest":
		return RoundNearest, nil
	case "truncate":
		return RoundTruncate, nil
	}
	return 0, fmt.Errorf("%w: rounding %q", ErrInvalidArgument, s)
}

// ParseOverflow accepts "clamp" or "wrap".
func ParseOverflow(s string) (Overflow, error) {
	switch s {
	case "clamp":
		return OverflowClamp, nil
	case "wrap":
		return OverflowWrap, nil
	}
	return 0, fmt.Errorf("%w: overflow policy %q", ErrInvalidArgument, s)
}
