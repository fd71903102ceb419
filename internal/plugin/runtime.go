package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/loqalabs/loqa-tone/internal/waveform"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

var (
	// ErrExportMissing means the module does not export the manifest's generator function.
	ErrExportMissing = errors.New("generator export missing")
	// ErrExportSignature means the export is not (f64) -> f64.
	ErrExportSignature = errors.New("generator export must be (f64) -> f64")
)

// Runtime wraps a wazero runtime shared by all loaded plugins.
type Runtime struct {
	rt  wazero.Runtime
	log *slog.Logger
}

func New(ctx context.Context, log *slog.Logger) (*Runtime, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	log = log.With(slog.String("component", "waveform-plugins"))

	rt := wazero.NewRuntime(ctx)
	if err := instantiateHostModule(ctx, rt, log); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	return &Runtime{rt: rt, log: log}, nil
}

// Close releases the runtime and every plugin loaded into it.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil || r.rt == nil {
		return nil
	}
	return r.rt.Close(ctx)
}

// Plugin is an instantiated waveform module.
type Plugin struct {
	Manifest Manifest

	module   api.Module
	compiled wazero.CompiledModule
	fn       api.Function
	log      *slog.Logger

	mu    sync.Mutex
	stack []uint64
}

// Load compiles and instantiates the module named by m.
func (r *Runtime) Load(ctx context.Context, m Manifest) (*Plugin, error) {
	if r == nil || r.rt == nil {
		return nil, fmt.Errorf("runtime not initialized")
	}
	if err := Validate(m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	wasmBytes, err := os.ReadFile(m.ModulePath())
	if err != nil {
		return nil, fmt.Errorf("read wasm module: %w", err)
	}
	compiled, err := r.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}

	// tinygo reactors export _initialize; plain modules have no start function
	moduleConfig := wazero.NewModuleConfig().
		WithName(m.Metadata.Name).
		WithStartFunctions("_initialize")
	module, err := r.rt.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("instantiate module: %w", err)
	}

	export := m.Runtime.Export
	if export == "" {
		export = defaultExport
	}
	fn := module.ExportedFunction(export)
	if fn == nil {
		_ = module.Close(ctx)
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("%w: %q", ErrExportMissing, export)
	}
	def := fn.Definition()
	params, results := def.ParamTypes(), def.ResultTypes()
	if len(params) != 1 || params[0] != api.ValueTypeF64 || len(results) != 1 || results[0] != api.ValueTypeF64 {
		_ = module.Close(ctx)
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("%w: %q", ErrExportSignature, export)
	}

	r.log.Info("waveform plugin loaded",
		slog.String("name", m.Metadata.Name),
		slog.String("version", m.Metadata.Version),
		slog.String("module", m.ModulePath()))
	return &Plugin{
		Manifest: m,
		module:   module,
		compiled: compiled,
		fn:       fn,
		log:      r.log.With(slog.String("plugin", m.Metadata.Name)),
		stack:    make([]uint64, 1),
	}, nil
}

func (p *Plugin) Name() string { return p.Manifest.Metadata.Name }

// NewGenerator adapts the plugin export to a waveform.Generator for one render.
// The first failed call stops further calls into the module for that render and
// is reported by the returned func. Other renders are unaffected.
func (p *Plugin) NewGenerator() (waveform.Generator, func() error) {
	var failure error
	gen := func(phase float64) float64 {
		if failure != nil {
			return 0
		}
		v, err := p.call(phase)
		if err != nil {
			failure = err
			return 0
		}
		return v
	}
	return gen, func() error { return failure }
}

func (p *Plugin) call(phase float64) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stack[0] = api.EncodeF64(phase)
	if err := p.fn.CallWithStack(context.Background(), p.stack); err != nil {
		p.log.Error("waveform plugin call failed", slog.String("error", err.Error()))
		return 0, fmt.Errorf("plugin %s: %w", p.Name(), err)
	}
	return api.DecodeF64(p.stack[0]), nil
}

func (p *Plugin) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.module != nil {
		errs = append(errs, p.module.Close(ctx))
	}
	if p.compiled != nil {
		errs = append(errs, p.compiled.Close(ctx))
	}
	return errors.Join(errs...)
}

func instantiateHostModule(ctx context.Context, rt wazero.Runtime, log *slog.Logger) error {
	hostLogFn := api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
		ptr := api.DecodeU32(stack[0])
		length := api.DecodeU32(stack[1])
		if length == 0 {
			return
		}
		mem := mod.Memory()
		if mem == nil {
			log.Warn("host_log: module has no memory", slog.String("plugin", mod.Name()))
			return
		}
		data, ok := mem.Read(ptr, length)
		if !ok {
			log.Warn("host_log: read out of range",
				slog.String("plugin", mod.Name()),
				slog.Uint64("ptr", uint64(ptr)),
				slog.Uint64("len", uint64(length)))
			return
		}
		log.Info("plugin log", slog.String("plugin", mod.Name()), slog.String("message", string(data)))
	})

	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithGoModuleFunction(hostLogFn, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		WithParameterNames("ptr", "len").
		Export("host_log").
		Instantiate(ctx)
	return err
}
