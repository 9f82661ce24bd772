package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/audience"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/bucket"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/consent"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/storage"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// ErrInvalidSettings is wrapped by Settings.Validate errors.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings is the full pipeline configuration.
type Settings struct {
	Policies       PolicySettings        `yaml:"policies" json:"policies"`
	Storage        StorageSettings       `yaml:"storage" json:"storage"`
	Cookie         storage.CookieOptions `yaml:"cookie" json:"cookie"`
	AnonymousIDTTL time.Duration         `yaml:"anonymous_id_ttl" json:"anonymousIdTtl"`
	Server         ServerSettings        `yaml:"server" json:"server"`
	Log            LogSettings           `yaml:"log" json:"log"`
	Telemetry      TelemetrySettings     `yaml:"telemetry" json:"telemetry"`
	Plugins        []PluginSettings      `yaml:"plugins" json:"plugins"`
	Experiences    []bucket.Experience   `yaml:"experiences" json:"experiences"`
	Audiences      []audience.Audience   `yaml:"audiences" json:"audiences"`
}

// PolicySettings holds the consent policy for each state.
type PolicySettings struct {
	BeforeConsent consent.Policy `yaml:"before_consent" json:"beforeConsent"`
	AfterConsent  consent.Policy `yaml:"after_consent" json:"afterConsent"`
}

// StorageSettings selects and configures visitor storage.
type StorageSettings struct {
	Driver     string              `yaml:"driver" json:"driver" env:"DRIVER"`
	SQLitePath string              `yaml:"sqlite_path" json:"sqlitePath" env:"SQLITE_PATH"`
	Redis      storage.RedisConfig `yaml:"redis" json:"redis" envPrefix:"REDIS_"`
}

// ServerSettings configures the HTTP bridge.
type ServerSettings struct {
	Address string `yaml:"address" json:"address" env:"ADDRESS"`
}

// LogSettings configures the slog logger.
type LogSettings struct {
	Level  string `yaml:"level" json:"level" env:"LEVEL"`
	Format string `yaml:"format" json:"format" env:"FORMAT"`
}

// TelemetrySettings toggles OpenTelemetry metrics and tracing.
type TelemetrySettings struct {
	Metrics bool `yaml:"metrics" json:"metrics" env:"METRICS"`
	Tracing bool `yaml:"tracing" json:"tracing" env:"TRACING"`
}

// PluginSettings names a plugin and its options. Plugins are registered in
// list order.
type PluginSettings struct {
	Name    string         `yaml:"name" json:"name"`
	Options map[string]any `yaml:"options" json:"options"`
}

// Default returns settings with the default consent policies, in-memory
// storage, and a 365-day anonymous id.
func Default() *Settings {
	policies := consent.DefaultPolicies()
	return &Settings{
		Policies: PolicySettings{
			BeforeConsent: policies.For(consent.NotAccepted),
			AfterConsent:  policies.For(consent.Accepted),
		},
		Storage: StorageSettings{
			Driver: DriverMemory,
			Redis:  storage.DefaultRedisConfig("localhost:6379"),
		},
		AnonymousIDTTL: storage.DefaultAnonymousIDTTL,
		Server:         ServerSettings{Address: ":8080"},
		Log:            LogSettings{Level: "info", Format: "text"},
	}
}

// ConsentPolicies returns the policy table.
func (s *Settings) ConsentPolicies() consent.Policies {
	return consent.NewPolicies(s.Policies.BeforeConsent, s.Policies.AfterConsent)
}

// PluginOptions returns the options for the named plugin, empty if absent.
func (s *Settings) PluginOptions(name string) Options {
	for _, p := range s.Plugins {
		if p.Name == name {
			return NewOptions(p.Options)
		}
	}
	return NewOptions(nil)
}

// Experience returns the configured experience with the given id.
func (s *Settings) Experience(id string) (bucket.Experience, bool) {
	for _, e := range s.Experiences {
		if e.ID == id {
			return e, true
		}
	}
	return bucket.Experience{}, false
}

// Validate checks policies, experiences, audiences, storage, and plugin names.
func (s *Settings) Validate() error {
	var errs []error
	if err := s.ConsentPolicies().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch s.Storage.Driver {
	case DriverMemory, DriverRedis:
	case DriverSQLite:
		if s.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage: sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q", s.Storage.Driver))
	}
	if s.AnonymousIDTTL < 0 {
		errs = append(errs, errors.New("anonymous_id_ttl must not be negative"))
	}
	seen := make(map[string]bool, len(s.Plugins))
	for i, p := range s.Plugins {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("plugins[%d]: name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("plugins[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
	}
	for _, e := range s.Experiences {
		if err := e.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, a := range s.Audiences {
		if err := a.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}

// Open creates the configured storage backend.
func (s StorageSettings) Open(ctx context.Context) (storage.Storage, error) {
	switch s.Driver {
	case DriverMemory, "":
		return storage.NewMemoryStorage(), nil
	case DriverSQLite:
		return storage.NewSQLiteStorage(s.SQLitePath)
	case DriverRedis:
		return storage.NewRedisStorage(ctx, s.Redis)
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", ErrInvalidSettings, s.Driver)
	}
}

// NewLogger builds a slog logger writing to w.
func (l LogSettings) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
