// Package pcm serializes 16-bit mono samples as raw little-endian bytes
// (s16le) with no header or framing.
package pcm

import (
	"encoding/binary"
	"fmt"
	"io"
	"iter"
)

// BytesPerSample is the encoded size of one int16 sample.
const BytesPerSample = 2

const bufferSamples = 2048

// WriteError reports a sink failure. Offset is the number of bytes the sink
// accepted before failing; everything before it has been written.
type WriteError struct {
	Offset int64
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("pcm: write at byte %d: %v", e.Offset, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Writer encodes samples to an underlying sink through a small fixed buffer.
// After the first sink error every call returns that error.
type Writer struct {
	w       io.Writer
	buf     []byte
	written int64
	err     error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, buf: make([]byte, 0, bufferSamples*BytesPerSample)}
}

func (w *Writer) WriteSample(s int16) error {
	if w.err != nil {
		return w.err
	}
	if len(w.buf) == cap(w.buf) {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(s))
	return nil
}

func (w *Writer) WriteSamples(samples []int16) error {
	for _, s := range samples {
		if err := w.WriteSample(s); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes any buffered bytes to the sink.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if len(w.buf) == 0 {
		return nil
	}
	n, err := w.w.Write(w.buf)
	w.written += int64(n)
	if err == nil && n < len(w.buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		w.err = &WriteError{Offset: w.written, Err: err}
		return w.err
	}
	w.buf = w.buf[:0]
	return nil
}

// Written is the number of bytes the sink has accepted so far.
func (w *Writer) Written() int64 { return w.written }

// Stream writes every sample of seq to dst and flushes. It returns the number
// of bytes the sink accepted, which on failure is a prefix of the stream.
func Stream(dst io.Writer, seq iter.Seq[int16]) (int64, error) {
	w := NewWriter(dst)
	for s := range seq {
		if err := w.WriteSample(s); err != nil {
			return w.Written(), err
		}
	}
	err := w.Flush()
	return w.Written(), err
}

// Append encodes samples onto dst.
func Append(dst []byte, samples ...int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// Decode parses s16le bytes back into samples.
func Decode(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("pcm: odd byte count %d", len(data))
	}
	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return samples, nil
}
