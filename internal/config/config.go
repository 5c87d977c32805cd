// Package config manages the persiston server configuration stored as JSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/invopop/jsonschema"
)

// FileName is the default configuration file name inside the data directory.
const FileName = "persiston.json"

// Storage kinds.
const (
	KindMemory = "memory"
	KindFile   = "file"
	KindJSONL  = "jsonl"
	KindBolt   = "bolt"
	KindSQLite = "sqlite"
	KindGit    = "git"
)

var kinds = []string{KindMemory, KindFile, KindJSONL, KindBolt, KindSQLite, KindGit}

// Config is the server configuration.
// Loaded from persiston.json, created with defaults if missing.
type Config struct {
	Storage Storage `json:"storage" jsonschema:"description=Backing storage of the dataset"`

	// Version is the dataset schema version. 0 disables versioning.
	Version int `json:"version" jsonschema:"description=Dataset schema version; 0 disables versioning,minimum=0"`

	// Watch reloads the dataset when the data file changes on disk. Only
	// honored by the file and git kinds.
	Watch bool `json:"watch" jsonschema:"description=Reload the dataset when the data file is edited externally"`

	Auth Auth `json:"auth" jsonschema:"description=Bearer token authentication"`

	RateLimits RateLimits `json:"rate_limits" jsonschema:"description=Per client rate limits"`
}

// Storage selects the adapter.
type Storage struct {
	Kind string `json:"kind" jsonschema:"enum=memory,enum=file,enum=jsonl,enum=bolt,enum=sqlite,enum=git,description=Adapter kind"`
	// Path is relative to the data directory unless absolute.
	Path   string `json:"path" jsonschema:"description=Data file or directory; relative paths are resolved against the data directory"`
	Format string `json:"format,omitempty" jsonschema:"enum=json,enum=yaml,enum=toml,description=Codec of the file and git kinds; defaults to the file extension"`
	Indent bool   `json:"indent,omitempty" jsonschema:"description=Pretty print JSON files"`
}

// Validate checks the storage settings.
func (s *Storage) Validate() error {
	if !slices.Contains(kinds, s.Kind) {
		return fmt.Errorf("kind %q is not one of %v", s.Kind, kinds)
	}
	if s.Kind != KindMemory && s.Path == "" {
		return errors.New("path is required")
	}
	switch s.Format {
	case "", "json", "yaml", "yml", "toml":
	default:
		return fmt.Errorf("unknown format %q", s.Format)
	}
	return nil
}

// DefaultStorage returns a JSON file in the data directory.
func DefaultStorage() Storage {
	return Storage{Kind: KindFile, Path: "db.json", Indent: true}
}

// Auth configures bearer token authentication.
type Auth struct {
	// JWTSecret enables HS256 bearer tokens when not empty.
	JWTSecret string `json:"jwt_secret,omitempty" jsonschema:"description=HS256 secret; empty disables authentication"`
}

// Validate checks the secret length.
func (a *Auth) Validate() error {
	if a.JWTSecret != "" && len(a.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 bytes")
	}
	return nil
}

// RateLimits defines rate limiting configuration (requests per minute).
type RateLimits struct {
	// WriteRatePerMin limits insert, update, remove and reload.
	// 0 means unlimited.
	WriteRatePerMin int `json:"write_rate_per_min" jsonschema:"minimum=0"`

	// ReadRatePerMin limits find and count.
	// 0 means unlimited.
	ReadRatePerMin int `json:"read_rate_per_min" jsonschema:"minimum=0"`
}

// Validate checks that rate limit values are non-negative.
func (r *RateLimits) Validate() error {
	if r.WriteRatePerMin < 0 {
		return errors.New("write_rate_per_min must be non-negative")
	}
	if r.ReadRatePerMin < 0 {
		return errors.New("read_rate_per_min must be non-negative")
	}
	return nil
}

// DefaultRateLimits returns the default rate limits.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		WriteRatePerMin: 600,   // 10 req/s for writes
		ReadRatePerMin:  60000, // 1k req/s for reads
	}
}

// Default returns the configuration written when none exists.
func Default() Config {
	return Config{
		Storage:    DefaultStorage(),
		Version:    1,
		RateLimits: DefaultRateLimits(),
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if c.Version < 0 {
		return errors.New("version must be non-negative")
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	return nil
}

// Load loads the configuration from path.
// Creates the file with defaults if it doesn't exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the command line
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if cfg.Storage.Kind == "" {
		cfg.Storage.Kind = KindFile
	}
	if cfg.Storage.Path == "" && cfg.Storage.Kind != KindMemory {
		cfg.Storage.Path = defaultPath(cfg.Storage.Kind)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Schema returns the JSON Schema of Config.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	s := r.Reflect(&Config{})
	return json.MarshalIndent(s, "", "  ")
}

func defaultPath(kind string) string {
	switch kind {
	case KindJSONL:
		return "db"
	case KindBolt:
		return "db.bolt"
	case KindSQLite:
		return "db.sqlite"
	default:
		return "db.json"
	}
}
