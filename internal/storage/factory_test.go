package storage

import (
	"path/filepath"
	"testing"

	"github.com/maruel/persiston/internal/config"
	"github.com/maruel/persiston/internal/jsonldb"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		cfg   config.Storage
		check func(t *testing.T, a any)
	}{
		{config.Storage{Kind: config.KindMemory}, func(t *testing.T, a any) {
			if _, ok := a.(*MemoryAdapter); !ok {
				t.Errorf("got %T", a)
			}
		}},
		{config.Storage{Kind: config.KindFile, Path: "db.yaml"}, func(t *testing.T, a any) {
			f, ok := a.(*FileAdapter)
			if !ok {
				t.Fatalf("got %T", a)
			}
			if _, ok := f.codec.(YAMLCodec); !ok {
				t.Errorf("codec = %T, want YAMLCodec", f.codec)
			}
		}},
		{config.Storage{Kind: config.KindFile, Path: "db.json", Indent: true}, func(t *testing.T, a any) {
			if c := a.(*FileAdapter).codec; c != (JSONCodec{Indent: true}) {
				t.Errorf("codec = %#v", c)
			}
		}},
		{config.Storage{Kind: config.KindFile, Path: "db.data", Format: "toml"}, func(t *testing.T, a any) {
			if _, ok := a.(*FileAdapter).codec.(TOMLCodec); !ok {
				t.Errorf("codec = %T, want TOMLCodec", a.(*FileAdapter).codec)
			}
		}},
		{config.Storage{Kind: config.KindJSONL, Path: "db"}, func(t *testing.T, a any) {
			if _, ok := a.(*jsonldb.Dir); !ok {
				t.Errorf("got %T", a)
			}
		}},
		{config.Storage{Kind: config.KindBolt, Path: "db.bolt"}, func(t *testing.T, a any) {
			if _, ok := a.(*BoltAdapter); !ok {
				t.Errorf("got %T", a)
			}
		}},
		{config.Storage{Kind: config.KindSQLite, Path: "db.sqlite"}, func(t *testing.T, a any) {
			if _, ok := a.(*SQLiteAdapter); !ok {
				t.Errorf("got %T", a)
			}
		}},
		{config.Storage{Kind: config.KindGit, Path: "repo/db.json"}, func(t *testing.T, a any) {
			g, ok := a.(*GitAdapter)
			if !ok {
				t.Fatalf("got %T", a)
			}
			if filepath.Base(filepath.Dir(g.Path())) != "repo" {
				t.Errorf("Path() = %s", g.Path())
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.cfg.Kind+"/"+tc.cfg.Path, func(t *testing.T) {
			a, closer, err := Open(t.Context(), tc.cfg, t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			defer func() {
				if err := closer.Close(); err != nil {
					t.Error(err)
				}
			}()
			tc.check(t, a)
			if _, err := a.Read(t.Context()); err != nil {
				t.Errorf("Read() = %v", err)
			}
		})
	}
	if _, _, err := Open(t.Context(), config.Storage{Kind: "nope"}, t.TempDir()); err == nil {
		t.Error("Open(nope) succeeded, want error")
	}
}
