package waveform

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownWaveform is returned by Open for unregistered names.
	ErrUnknownWaveform = errors.New("unknown waveform")
	// ErrGeneratorFailed marks a render cut short by a failing generator.
	ErrGeneratorFailed = errors.New("generator failed")
)

// Source hands out a generator for a single render. Generators that can fail
// mid-render report their first failure through the returned func; after a
// failure the generator yields silence until the render ends.
type Source interface {
	NewGenerator() (Generator, func() error)
}

type pure Generator

func (g pure) NewGenerator() (Generator, func() error) {
	return Generator(g), noFailure
}

func noFailure() error { return nil }

// Registry maps waveform names to generator sources. The zero value is not
// usable; create one with NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry returns a registry holding the built-in waveforms.
func NewRegistry() *Registry {
	return &Registry{
		sources: map[string]Source{
			"sine":     pure(Sine),
			"triangle": pure(Triangle),
			"sawtooth": pure(Sawtooth),
			"square":   pure(Square),
		},
	}
}

// Register adds a generator that cannot fail.
func (r *Registry) Register(name string, g Generator) error {
	if g == nil {
		return fmt.Errorf("%w: waveform %q has no generator", ErrInvalidArgument, name)
	}
	return r.RegisterSource(name, pure(g))
}

func (r *Registry) RegisterSource(name string, src Source) error {
	if name == "" {
		return fmt.Errorf("%w: waveform name must not be empty", ErrInvalidArgument)
	}
	if src == nil {
		return fmt.Errorf("%w: waveform %q has no generator", ErrInvalidArgument, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("waveform %q already registered", name)
	}
	r.sources[name] = src
	return nil
}

// Open returns a fresh generator for one render of the named waveform and the
// func reporting its failure, if any.
func (r *Registry) Open(name string) (Generator, func() error, error) {
	r.mu.RLock()
	src, ok := r.sources[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownWaveform, name)
	}
	g, failed := src.NewGenerator()
	return g, failed, nil
}

// Names lists registered waveforms in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
