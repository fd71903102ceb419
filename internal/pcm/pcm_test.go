package pcm

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}

	var buf bytes.Buffer
	n, err := Stream(&buf, slices.Values(samples))
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, []byte{
		0x00, 0x00,
		0x01, 0x00,
		0xff, 0xff,
		0xff, 0x7f,
		0x00, 0x80,
	}, buf.Bytes())

	decoded, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, samples, decoded)
}

func TestAppendMatchesStream(t *testing.T) {
	samples := make([]int16, 5000)
	for i := range samples {
		samples[i] = int16(i*37 - 20000)
	}
	var buf bytes.Buffer
	_, err := Stream(&buf, slices.Values(samples))
	require.NoError(t, err)
	assert.Equal(t, Append(nil, samples...), buf.Bytes())
}

func TestEmptyStream(t *testing.T) {
	var buf bytes.Buffer
	n, err := Stream(&buf, slices.Values([]int16(nil)))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, buf.Len())
}

func TestDecodeOddLength(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

// limitedWriter accepts up to limit bytes and then fails.
type limitedWriter struct {
	buf   bytes.Buffer
	limit int
}

var errSinkClosed = errors.New("sink closed")

func (w *limitedWriter) Write(p []byte) (int, error) {
	room := w.limit - w.buf.Len()
	if room <= 0 {
		return 0, errSinkClosed
	}
	if len(p) > room {
		w.buf.Write(p[:room])
		return room, errSinkClosed
	}
	return w.buf.Write(p)
}

func TestSinkErrorAbortsStream(t *testing.T) {
	samples := make([]int16, 3*bufferSamples)
	sink := &limitedWriter{limit: 1000}

	pulled := 0
	seq := func(yield func(int16) bool) {
		for _, s := range samples {
			pulled++
			if !yield(s) {
				return
			}
		}
	}
	n, err := Stream(sink, seq)
	require.Error(t, err)
	assert.ErrorIs(t, err, errSinkClosed)

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, int64(1000), werr.Offset)
	assert.Equal(t, int64(1000), n)
	assert.Equal(t, 1000, sink.buf.Len())
	assert.Less(t, pulled, len(samples), "emission should stop at the first failure")
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) / 2, nil }

func TestShortWrite(t *testing.T) {
	w := NewWriter(shortWriter{})
	require.NoError(t, w.WriteSamples([]int16{1, 2, 3, 4}))
	err := w.Flush()
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.Equal(t, int64(4), w.Written())

	// sticky
	assert.ErrorIs(t, w.WriteSample(5), io.ErrShortWrite)
}
