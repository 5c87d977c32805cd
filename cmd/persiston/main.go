// Package main is the entry point for the persiston server.
//
// persiston is an embedded document store persisting named collections of
// JSON records through a pluggable adapter, exposed over a JSON HTTP API.
// Configuration is read from CLI flags and persiston.json in the data
// directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/persiston/internal/config"
	"github.com/maruel/persiston/internal/docdb"
	"github.com/maruel/persiston/internal/server"
	"github.com/maruel/persiston/internal/server/handlers"
	"github.com/maruel/persiston/internal/storage"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "persiston: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	printSchema := flag.Bool("config-schema", false, "Print the JSON Schema of the configuration file and exit")
	httpAddr := flag.String("http", "localhost:8080", "Address to listen on (e.g., localhost:8080, :8080, 0.0.0.0:8080)")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	configPath := flag.String("config", "", "Configuration file (default <data-dir>/"+config.FileName+")")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	if *version {
		printVersion()
		return nil
	}
	if *printSchema {
		b, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Printf("%s\n", b)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	switch *logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", *logLevel)
	}
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			val := a.Value.Any()
			skip := false
			switch t := val.(type) {
			case string:
				skip = t == ""
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if *configPath == "" {
		*configPath = filepath.Join(*dataDir, config.FileName)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	adapter, closer, err := storage.Open(ctx, cfg.Storage, *dataDir)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := closer.Close(); err != nil {
			slog.ErrorContext(ctx, "Failed to close storage", "err", err)
		}
	}()

	store := docdb.New(adapter, docdb.WithVersion(cfg.Version), docdb.WithLogger(logger))
	if err := store.Load(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Loaded dataset", "kind", cfg.Storage.Kind, "collections", len(store.Names()), "version", cfg.Version)
	h := handlers.NewCollections(store)

	if cfg.Watch {
		// Only single file adapters can tell their own saves from external edits.
		w, ok := adapter.(interface {
			Path() string
			Changed() (bool, error)
		})
		if ok {
			err := storage.Watch(ctx, w.Path(), func() {
				if changed, err := w.Changed(); err != nil {
					slog.WarnContext(ctx, "Failed to check data file", "err", err)
				} else if !changed {
					slog.DebugContext(ctx, "Data file unchanged since last save", "path", w.Path())
					return
				}
				if _, err := h.Reload(ctx, handlers.NamesRequest{}); err != nil {
					slog.ErrorContext(ctx, "Failed to reload dataset", "err", err)
				}
			})
			if err != nil {
				return err
			}
			slog.InfoContext(ctx, "Watching data file", "path", w.Path())
		} else {
			slog.WarnContext(ctx, "Watch is only supported by the file and git storage kinds", "kind", cfg.Storage.Kind)
		}
	}

	router := server.NewRouter(h, cfg)
	defer router.Close()
	httpServer := &http.Server{
		Addr:              *httpAddr,
		Handler:           router,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", *httpAddr)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("persiston %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
