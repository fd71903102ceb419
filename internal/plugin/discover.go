package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/loqalabs/loqa-tone/internal/waveform"
)

// Discover loads every waveform.yaml under dir and registers each plugin
// under its manifest name. Broken plugins are skipped and reported in the joined error.
func Discover(ctx context.Context, rt *Runtime, dir string, reg *waveform.Registry) ([]*Plugin, error) {
	var manifests []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == ManifestFile {
			manifests = append(manifests, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan plugin directory: %w", err)
	}

	var (
		loaded []*Plugin
		errs   []error
	)
	for _, path := range manifests {
		p, err := loadAndRegister(ctx, rt, path, reg)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		loaded = append(loaded, p)
	}
	return loaded, errors.Join(errs...)
}

func loadAndRegister(ctx context.Context, rt *Runtime, path string, reg *waveform.Registry) (*Plugin, error) {
	m, err := Load(path)
	if err != nil {
		return nil, err
	}
	p, err := rt.Load(ctx, m)
	if err != nil {
		return nil, err
	}
	if err := reg.RegisterSource(p.Name(), p); err != nil {
		_ = p.Close(ctx)
		return nil, err
	}
	return p, nil
}
