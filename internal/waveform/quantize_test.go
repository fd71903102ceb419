package waveform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantize(t *testing.T) {
	clamp := Quantizer{}
	ref := ReferenceQuantizer
	nearestWrap := Quantizer{Rounding: RoundNearest, Overflow: OverflowWrap}

	for _, tc := range []struct {
		in                 float64
		clamp, ref, nwrap int16
	}{
		{0, 0, 0, 0},
		{9830.4, 9830, 9830, 9830},
		{9830.6, 9831, 9830, 9831},
		{-9830.6, -9831, -9830, -9831},
		{0.5, 1, 0, 1},
		{-0.5, -1, 0, -1},
		{32767, 32767, 32767, 32767},
		{32767.6, 32767, 32767, -32768},
		{32768, 32767, -32768, -32768},
		{-32768, -32768, -32768, -32768},
		{-32769, -32768, 32767, 32767},
		{65536 + 5, 32767, 5, 5},
		{math.Inf(1), 32767, 0, 0},
		{math.Inf(-1), -32768, 0, 0},
		{math.NaN(), 0, 0, 0},
	} {
		assert.Equal(t, tc.clamp, clamp.Quantize(tc.in), "clamp(%v)", tc.in)
		assert.Equal(t, tc.ref, ref.Quantize(tc.in), "reference(%v)", tc.in)
		assert.Equal(t, tc.nwrap, nearestWrap.Quantize(tc.in), "nearest+wrap(%v)", tc.in)
	}
}

func TestFullScaleSinePeak(t *testing.T) {
	tone := Tone{Frequency: 1000, DurationMS: 1, Amplitude: 1}

	// 4 samples per cycle, so index 1 sits exactly on the positive peak
	clamped, err := New(4000)
	require.NoError(t, err)
	samples, err := clamped.Render(Sine, tone)
	require.NoError(t, err)
	require.Len(t, samples, 4)
	assert.Equal(t, int16(32767), samples[1])
	assert.Equal(t, int16(-32768), samples[3])

	wrapped, err := New(4000, WithQuantizer(Quantizer{Overflow: OverflowWrap}))
	require.NoError(t, err)
	samples, err = wrapped.Render(Sine, tone)
	require.NoError(t, err)
	assert.Equal(t, int16(-32768), samples[1], "positive full scale wraps")
	assert.Equal(t, int16(-32768), samples[3])
}

func TestParsePolicies(t *testing.T) {
	r, err := ParseRounding("truncate")
	require.NoError(t, err)
	assert.Equal(t, RoundTruncate, r)
	assert.Equal(t, "truncate", r.String())

	o, err := ParseOverflow("wrap")
	require.NoError(t, err)
	assert.Equal(t, OverflowWrap, o)
	assert.Equal(t, "wrap", o.String())

	_, err = ParseRounding("banker")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ParseOverflow("saturate")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
