package waveform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const phaseSteps = 100000

func TestGeneratorsStayInRange(t *testing.T) {
	for _, tc := range []struct {
		name string
		gen  Generator
		eps  float64
	}{
		{"sine", Sine, 1e-9},
		{"triangle", Triangle, 1e-9},
		{"sawtooth", Sawtooth, 0},
		// two-level signal, but rounding in the shifted sawtooth can land one
		// ulp inside ±1
		{"square", Square, 1e-12},
		{"square25", SquareDuty(0.25), 1e-12},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < phaseSteps; i++ {
				phase := float64(i) / phaseSteps
				v := tc.gen(phase)
				if v < -1-tc.eps || v > 1+tc.eps {
					t.Fatalf("%s(%v) = %v, outside [-1, 1]", tc.name, phase, v)
				}
			}
		})
	}
}

func TestSineKeyPhases(t *testing.T) {
	assert.Equal(t, 0.0, Sine(0))
	assert.InDelta(t, 1.0, Sine(0.25), 1e-9)
	assert.InDelta(t, 0.0, Sine(0.5), 1e-9)
	assert.InDelta(t, -1.0, Sine(0.75), 1e-9)
}

func TestSawtooth(t *testing.T) {
	assert.Equal(t, -1.0, Sawtooth(0))
	assert.Equal(t, 0.0, Sawtooth(0.5))
	assert.InDelta(t, 1.0, Sawtooth(math.Nextafter(1, 0)), 1e-9)
	assert.Less(t, Sawtooth(math.Nextafter(1, 0)), 1.0)

	// phase is reduced modulo 1
	assert.Equal(t, Sawtooth(0.25), Sawtooth(1.25))
	assert.Equal(t, Sawtooth(0.25), Sawtooth(-0.75))
}

func TestTriangleShape(t *testing.T) {
	assert.Equal(t, -1.0, Triangle(0))
	assert.InDelta(t, 0.0, Triangle(0.25), 1e-12)
	assert.Equal(t, 1.0, Triangle(0.5))
	assert.InDelta(t, 0.0, Triangle(0.75), 1e-12)
	assert.InDelta(t, -1.0, Triangle(math.Nextafter(1, 0)), 1e-9)

	// rising in the first half, falling in the second
	assert.Less(t, Triangle(0.1), Triangle(0.2))
	assert.Greater(t, Triangle(0.6), Triangle(0.7))
}

func TestSquareIsTwoLevel(t *testing.T) {
	assert.Equal(t, -1.0, Square(0))
	for i := 0; i < phaseSteps; i++ {
		phase := float64(i) / phaseSteps
		v := Square(phase)
		want := -1.0
		if phase >= 0.5 {
			want = 1
		}
		if math.Abs(v-want) > 1e-12 {
			t.Fatalf("Square(%v) = %v, want %v", phase, v, want)
		}
	}
}

func TestSquareDuty(t *testing.T) {
	half := SquareDuty(0.5)
	for _, phase := range []float64{0, 0.1, 0.49, 0.5, 0.75, 0.99} {
		assert.Equal(t, Square(phase), half(phase), "phase %v", phase)
	}

	quarter := SquareDuty(0.25)
	high := 0
	for i := 0; i < phaseSteps; i++ {
		if quarter(float64(i)/phaseSteps) > 0 {
			high++
		}
	}
	assert.InDelta(t, 0.25, float64(high)/phaseSteps, 1e-4)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"sawtooth", "sine", "square", "triangle"}, r.Names())

	g, failed, err := r.Open("sine")
	require.NoError(t, err)
	assert.Equal(t, Sine(0.25), g(0.25))
	assert.NoError(t, failed())

	_, _, err = r.Open("noise")
	require.ErrorIs(t, err, ErrUnknownWaveform)

	require.NoError(t, r.Register("pulse", SquareDuty(0.1)))
	assert.Contains(t, r.Names(), "pulse")
	assert.Error(t, r.Register("pulse", Sine))
	assert.ErrorIs(t, r.Register("", Sine), ErrInvalidArgument)
	assert.ErrorIs(t, r.Register("nil", nil), ErrInvalidArgument)
	assert.ErrorIs(t, r.RegisterSource("nil", nil), ErrInvalidArgument)
}

type countingSource struct{ opened int }

func (c *countingSource) NewGenerator() (Generator, func() error) {
	c.opened++
	return Sawtooth, func() error { return nil }
}

func TestRegistryOpensSourcePerRender(t *testing.T) {
	r := NewRegistry()
	src := &countingSource{}
	require.NoError(t, r.RegisterSource("ramp", src))

	for i := 0; i < 3; i++ {
		_, _, err := r.Open("ramp")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, src.opened)
	assert.Error(t, r.RegisterSource("ramp", src))
}
