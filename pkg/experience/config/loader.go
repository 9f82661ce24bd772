package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/storage"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "EXPERIENCE_"

// Load reads settings from a file, auto-detecting the format by extension
// (.yaml, .yml, .json), applies environment overrides, and validates.
// An empty path loads defaults plus environment overrides.
func Load(path string) (*Settings, error) {
	s := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			s, err = FromYAML(data)
		case ".json":
			s, err = FromJSON(data)
		default:
			return nil, fmt.Errorf("unsupported config file extension: %s", ext)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := s.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromYAML parses YAML over the defaults.
func FromYAML(data []byte) (*Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return s, nil
}

// FromJSON parses JSON over the defaults. Unknown fields are rejected.
func FromJSON(data []byte) (*Settings, error) {
	s := Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return s, nil
}

// ApplyEnv overrides settings from EXPERIENCE_* environment variables.
func (s *Settings) ApplyEnv() error {
	return s.applyEnv(env.Options{Prefix: EnvPrefix})
}

// ApplyEnvFrom overrides settings from the given variables instead of the
// process environment.
func (s *Settings) ApplyEnvFrom(vars map[string]string) error {
	return s.applyEnv(env.Options{Prefix: EnvPrefix, Environment: vars})
}

// envSettings holds the environment-overridable subset of Settings, so list
// sections such as plugins and experiences are never walked by the parser.
type envSettings struct {
	Storage        StorageSettings       `envPrefix:"STORAGE_"`
	Cookie         storage.CookieOptions `envPrefix:"COOKIE_"`
	AnonymousIDTTL time.Duration         `env:"ANONYMOUS_ID_TTL"`
	Server         ServerSettings        `envPrefix:"SERVER_"`
	Log            LogSettings           `envPrefix:"LOG_"`
	Telemetry      TelemetrySettings     `envPrefix:"TELEMETRY_"`
}

func (s *Settings) applyEnv(opts env.Options) error {
	e := envSettings{
		Storage:        s.Storage,
		Cookie:         s.Cookie,
		AnonymousIDTTL: s.AnonymousIDTTL,
		Server:         s.Server,
		Log:            s.Log,
		Telemetry:      s.Telemetry,
	}
	if err := env.ParseWithOptions(&e, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	s.Storage = e.Storage
	s.Cookie = e.Cookie
	s.AnonymousIDTTL = e.AnonymousIDTTL
	s.Server = e.Server
	s.Log = e.Log
	s.Telemetry = e.Telemetry
	return nil
}
