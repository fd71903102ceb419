package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loqalabs/loqa-tone/internal/config"
	"github.com/loqalabs/loqa-tone/internal/plugin"
	"github.com/loqalabs/loqa-tone/internal/runtime"
	"github.com/loqalabs/loqa-tone/internal/tone"
	"github.com/loqalabs/loqa-tone/internal/waveform"
)

var version = "0.1.0-dev"

const usage = `usage: tonegen [command] [flags]

With no command, plays the demo sequence (sine, triangle, sawtooth, square at 440 Hz)
as raw signed 16-bit little-endian mono PCM on stdout.

commands:
  play [flags] [steps...]   render steps of the form waveform:frequency[:duration_ms[:amplitude]]
  list [flags]              print the available waveforms
  validate -file PATH       check a waveform plugin manifest
  version                   print the version
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return runPlay(ctx, nil, stdout, stderr)
	}
	switch args[0] {
	case "play":
		return runPlay(ctx, args[1:], stdout, stderr)
	case "list":
		return runList(ctx, args[1:], stdout, stderr)
	case "validate":
		return runValidate(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version)
		return 0
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}

type engineFlags struct {
	configPath string
	sampleRate int
	rounding   string
	overflow   string
	amplitude  float64
	plugins    string
	verbose    bool
}

func (f *engineFlags) register(fs *flag.FlagSet) {
	defaults := config.Default().Tone
	fs.StringVar(&f.configPath, "config", "", "Optional loqa-tone config file; flags override its tone section")
	fs.IntVar(&f.sampleRate, "rate", defaults.SampleRate, "Sample rate in Hz")
	fs.StringVar(&f.rounding, "rounding", defaults.Rounding, "Sample rounding: nearest|truncate")
	fs.StringVar(&f.overflow, "quantization", defaults.Quantization, "Out-of-range samples: clamp|wrap")
	fs.Float64Var(&f.amplitude, "amplitude", defaults.DefaultAmplitude, "Amplitude for steps that omit one")
	fs.StringVar(&f.plugins, "plugins", "", "Directory of waveform plugins to load")
	fs.BoolVar(&f.verbose, "v", false, "Verbose logging on stderr")
}

// toneConfig merges the config file with any flags set explicitly on fs.
func (f *engineFlags) toneConfig(fs *flag.FlagSet) (config.ToneConfig, string, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.ToneConfig{}, "", err
		}
		cfg = loaded
	}
	pluginDir := ""
	if cfg.Plugins.Enabled {
		pluginDir = cfg.Plugins.Directory
	}

	tc := cfg.Tone
	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	if f.configPath == "" || set["rate"] {
		tc.SampleRate = f.sampleRate
	}
	if f.configPath == "" || set["rounding"] {
		tc.Rounding = f.rounding
	}
	if f.configPath == "" || set["quantization"] {
		tc.Quantization = f.overflow
	}
	if f.configPath == "" || set["amplitude"] {
		tc.DefaultAmplitude = f.amplitude
	}
	if set["plugins"] {
		pluginDir = f.plugins
	}
	return tc, pluginDir, nil
}

func (f *engineFlags) logger(stderr io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}

func (f *engineFlags) build(ctx context.Context, fs *flag.FlagSet, logger *slog.Logger) (*tone.LocalSynth, config.ToneConfig, func(), error) {
	tc, pluginDir, err := f.toneConfig(fs)
	if err != nil {
		return nil, tc, nil, err
	}
	engine, err := runtime.NewEngine(tc)
	if err != nil {
		return nil, tc, nil, err
	}

	registry := waveform.NewRegistry()
	cleanup := func() {}
	if pluginDir != "" {
		rt, err := plugin.New(ctx, logger)
		if err != nil {
			return nil, tc, nil, err
		}
		cleanup = func() { _ = rt.Close(context.Background()) }
		if _, err := plugin.Discover(ctx, rt, pluginDir, registry); err != nil {
			logger.Warn("some waveform plugins failed to load", slog.String("error", err.Error()))
		}
	}

	// the CLI has no duration cap
	synth, err := tone.NewLocalSynth(engine, registry, tc.ChunkDurationMS, 0)
	if err != nil {
		cleanup()
		return nil, tc, nil, err
	}
	return synth, tc, cleanup, nil
}

func runPlay(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var flags engineFlags
	flags.register(fs)
	var outPath string
	fs.StringVar(&outPath, "o", "-", "Output file, - for stdout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	logger := flags.logger(stderr)

	synth, tc, cleanup, err := flags.build(ctx, fs, logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()

	input := tone.DemoSequence
	if fs.NArg() > 0 {
		input = strings.Join(fs.Args(), " ")
	}
	steps, err := tone.ParseSequence(input, tc.DefaultAmplitude)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	if err := synth.ValidateSequence(steps); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	var res tone.Result
	if outPath == "-" {
		res, err = synth.RenderSequence(ctx, stdout, steps)
	} else {
		res, err = renderToFile(ctx, synth, outPath, steps)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 130
		}
		fmt.Fprintln(stderr, err)
		return 1
	}
	logger.Debug("rendered sequence",
		slog.Int("steps", len(steps)),
		slog.Int("samples", res.Samples),
		slog.Int64("bytes", res.Bytes),
		slog.Int("sample_rate", synth.SampleRate()))
	return 0
}

func renderToFile(ctx context.Context, synth *tone.LocalSynth, path string, steps []tone.SynthRequest) (res tone.Result, err error) {
	file, err := os.Create(path)
	if err != nil {
		return tone.Result{}, err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return synth.RenderSequence(ctx, file, steps)
}

func runList(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var flags engineFlags
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	synth, _, cleanup, err := flags.build(ctx, fs, flags.logger(stderr))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()
	for _, name := range synth.Registry().Names() {
		fmt.Fprintln(stdout, name)
	}
	return 0
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var manifestPath string
	fs.StringVar(&manifestPath, "file", plugin.ManifestFile, "Path to waveform plugin manifest")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	m, err := plugin.Load(manifestPath)
	if err == nil {
		err = plugin.Validate(m)
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, "manifest valid")
	return 0
}
