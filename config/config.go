package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "REALMSYNC_"

// FileSystem is the process-wide file system configuration.
type FileSystem struct {
	BasePath             string `yaml:"base_path"`
	PersistenceMode      string `yaml:"persistence_mode,omitempty"`
	ResetMetadataOnError bool   `yaml:"reset_metadata_on_error,omitempty"`
}

// ToNative converts f for the engine. An empty persistence mode keeps the
// engine default.
func (f FileSystem) ToNative(key []byte) (native.FileSystemConfig, error) {
	out := native.FileSystemConfig{
		BasePath:             f.BasePath,
		EncryptionKey:        key,
		ResetMetadataOnError: f.ResetMetadataOnError,
	}
	if out.BasePath == "" {
		out.BasePath = DefaultBasePath()
	}
	if f.PersistenceMode == "" {
		return out, nil
	}
	for _, m := range []native.PersistenceMode{native.PersistenceDisabled, native.PersistenceNotEncrypted, native.PersistenceEncrypted} {
		if m.String() == f.PersistenceMode {
			out.PersistenceMode = &m
			return out, nil
		}
	}
	return out, errors.InvalidInput(errors.PhaseConfigure, fmt.Sprintf("unknown persistence mode %q", f.PersistenceMode))
}

// Prepare creates the base directory on fs.
func (f FileSystem) Prepare(fs afero.Fs) error {
	dir := f.BasePath
	if dir == "" {
		dir = DefaultBasePath()
	}
	return fs.MkdirAll(dir, 0o755)
}

// Engine selects and tunes the sync engine.
type Engine struct {
	Kind         string        `yaml:"kind"`
	Module       string        `yaml:"module,omitempty"`
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Refresh configures access token refresh retries.
type Refresh struct {
	Tokens          map[string]string `yaml:"tokens,omitempty"`
	InitialInterval time.Duration     `yaml:"initial_interval"`
	MaxTries        uint              `yaml:"max_tries"`
}

// Config is the complete application configuration.
type Config struct {
	Engine     Engine              `yaml:"engine"`
	FileSystem FileSystem          `yaml:"file_system"`
	LogLevel   string              `yaml:"log_level"`
	Refresh    Refresh             `yaml:"refresh"`
	Sessions   []SyncConfiguration `yaml:"sessions,omitempty"`
}

// DefaultBasePath is where realm files live when no base path is configured.
func DefaultBasePath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "realm-sync")
	}
	return filepath.Join(os.TempDir(), "realm-sync")
}

// DefaultFile is the per-user configuration file.
func DefaultFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "realmsync.yaml"
	}
	return filepath.Join(home, ".config", "realmsync", "config.yaml")
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"engine.kind":                         "loopback",
		"engine.module":                       "",
		"engine.workers":                      4,
		"engine.poll_interval":                "50ms",
		"file_system.base_path":               DefaultBasePath(),
		"file_system.persistence_mode":        "",
		"file_system.reset_metadata_on_error": false,
		"log_level":                           native.LogInfo.String(),
		"refresh.initial_interval":            "200ms",
		"refresh.max_tries":                   5,
	}
}

// Loader builds a Config from layered sources.
type Loader struct {
	Fs    afero.Fs
	Flags *pflag.FlagSet
	// Files are tried in order; the first that exists is loaded.
	Files []string
}

// Load reads defaults, the first existing file, flags and environment.
func (l Loader) Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	fs := l.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	for _, p := range l.Files {
		exists, _ := afero.Exists(fs, p)
		if !exists {
			continue
		}
		data, err := afero.ReadFile(fs, p)
		if err != nil {
			return nil, fmt.Errorf("error reading config %s: %w", p, err)
		}
		if err := k.Load(rawbytes.Provider(data), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("error parsing config %s: %w", p, err)
		}
		break
	}

	if l.Flags != nil {
		if err := k.Load(posflag.ProviderWithValue(l.Flags, ".", k, MapFlagToConfigFunc()), nil); err != nil {
			return nil, fmt.Errorf("error loading flags: %w", err)
		}
	}

	if err := k.Load(envProvider(), nil); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if _, err := native.ParseLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	for i := range cfg.Sessions {
		if err := cfg.Sessions[i].Validate(); err != nil {
			return nil, fmt.Errorf("session %d: %w", i, err)
		}
	}
	return &cfg, nil
}

// envKeys maps the environment spelling of every known key back to the
// dotted key. Section names contain underscores, so a plain replace is
// ambiguous.
var envKeys = func() map[string]string {
	m := make(map[string]string)
	for key := range defaults() {
		m[strings.ToUpper(strings.ReplaceAll(key, ".", "_"))] = key
	}
	return m
}()

func envProvider() *env.Env {
	return env.Provider(EnvPrefix, ".", func(s string) string {
		name := strings.TrimPrefix(s, EnvPrefix)
		if key, ok := envKeys[name]; ok {
			return key
		}
		return strings.ReplaceAll(strings.ToLower(name), "_", ".")
	})
}

// MapFlagToConfigFunc maps CLI flag names to config keys.
func MapFlagToConfigFunc() func(key string, value string) (string, interface{}) {
	return func(key string, value string) (string, interface{}) {
		switch key {
		case "base-path":
			return "file_system.base_path", value
		case "persistence":
			return "file_system.persistence_mode", value
		case "reset-metadata":
			return "file_system.reset_metadata_on_error", value
		case "engine":
			return "engine.kind", value
		case "module":
			return "engine.module", value
		case "workers":
			return "engine.workers", value
		case "log-level":
			return "log_level", value
		default:
			return key, value
		}
	}
}

// Save writes cfg as YAML to path on fs, replacing any existing file.
func Save(fs afero.Fs, path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(fs, path, data, 0o644)
}
