package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-tone/internal/pcm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, []byte, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.Bytes(), stderr.String()
}

func TestDemoWithoutArgs(t *testing.T) {
	code, out, errOut := runCLI(t)
	require.Equal(t, 0, code, errOut)
	require.Len(t, out, 4*44100*pcm.BytesPerSample)

	samples, err := pcm.Decode(out)
	require.NoError(t, err)
	// each of the four tones starts at phase zero
	assert.Equal(t, int16(0), samples[0])
	assert.Equal(t, int16(-9830), samples[44100])
	assert.Equal(t, int16(-9830), samples[2*44100])
}

func TestPlaySteps(t *testing.T) {
	code, out, errOut := runCLI(t, "play", "-rate", "8000", "sine:440:100", "square:220:50:0.5")
	require.Equal(t, 0, code, errOut)
	assert.Len(t, out, (800+400)*pcm.BytesPerSample)

	samples, err := pcm.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, int16(-16384), samples[800])
}

func TestPlayToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.pcm")
	code, out, errOut := runCLI(t, "play", "-rate", "8000", "-o", path, "triangle:100:1000")
	require.Equal(t, 0, code, errOut)
	assert.Empty(t, out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, 8000*pcm.BytesPerSample)
}

func TestPlayInvalidStepKeepsOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.pcm")
	require.NoError(t, os.WriteFile(path, []byte("previous take"), 0o644))

	code, _, errOut := runCLI(t, "play", "-o", path, "sine:440:100", "organ:440:100")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "step 2")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous take", string(data))
}

func TestPlayRejectsOverlongDuration(t *testing.T) {
	code, out, errOut := runCLI(t, "play", "sine:440:9223372036854775807")
	assert.Equal(t, 1, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "too long")
}

func TestPlayUsesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-tone.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tone:\n  sample_rate: 8000\n"), 0o644))

	code, out, errOut := runCLI(t, "play", "-config", path, "sine:440:100")
	require.Equal(t, 0, code, errOut)
	assert.Len(t, out, 800*pcm.BytesPerSample)

	code, out, errOut = runCLI(t, "play", "-config", path, "-rate", "16000", "sine:440:100")
	require.Equal(t, 0, code, errOut)
	assert.Len(t, out, 1600*pcm.BytesPerSample)
}

func TestPlayRejectsBadInput(t *testing.T) {
	code, out, errOut := runCLI(t, "play", "sine")
	assert.Equal(t, 2, code)
	assert.Empty(t, out)
	assert.NotEmpty(t, errOut)

	code, out, _ = runCLI(t, "play", "sine:440:100", "organ:440:100")
	assert.Equal(t, 1, code)
	assert.Empty(t, out)

	code, _, _ = runCLI(t, "play", "-quantization", "fold")
	assert.Equal(t, 1, code)
}

func TestListWaveforms(t *testing.T) {
	code, out, errOut := runCLI(t, "list")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "sawtooth\nsine\nsquare\ntriangle\n", string(out))
}

func TestValidateManifest(t *testing.T) {
	code, out, errOut := runCLI(t, "validate", "-file", filepath.Join("..", "..", "plugins", "examples", "pulse", "waveform.yaml"))
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "manifest valid\n", string(out))

	code, _, _ = runCLI(t, "validate", "-file", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, 1, code)
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := runCLI(t, "sing")
	assert.Equal(t, 2, code)
	assert.True(t, strings.Contains(errOut, "unknown command"))

	code, out, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, version+"\n", string(out))
}
