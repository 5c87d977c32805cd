package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/maruel/persiston/internal/config"
	"github.com/maruel/persiston/internal/docdb"
	"github.com/maruel/persiston/internal/jsonldb"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open returns the adapter described by cfg. Relative paths are resolved
// against dataDir. The returned closer releases database handles.
func Open(ctx context.Context, cfg config.Storage, dataDir string) (docdb.Adapter, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	path := cfg.Path
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, path)
	}
	var fileOpts []FileOption
	if cfg.Format != "" || cfg.Indent {
		format := cfg.Format
		if format == "" {
			// Indent only applies to JSON; keep the extension's codec otherwise.
			if _, ok := CodecForPath(path).(JSONCodec); ok {
				format = "json"
			}
		}
		if format != "" {
			c, err := CodecForFormat(format, cfg.Indent)
			if err != nil {
				return nil, nil, err
			}
			fileOpts = append(fileOpts, WithCodec(c))
		}
	}
	switch cfg.Kind {
	case config.KindMemory:
		return NewMemoryAdapter(nil), nopCloser{}, nil
	case config.KindFile:
		return NewFileAdapter(path, fileOpts...), nopCloser{}, nil
	case config.KindJSONL:
		return jsonldb.NewDir(path, nil), nopCloser{}, nil
	case config.KindBolt:
		b, err := OpenBolt(path, nil)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case config.KindSQLite:
		s, err := OpenSQLite(ctx, path, nil)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.KindGit:
		g, err := OpenGit(filepath.Dir(path), filepath.Base(path), fileOpts...)
		if err != nil {
			return nil, nil, err
		}
		return g, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage kind %q", cfg.Kind)
	}
}
