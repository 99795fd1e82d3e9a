package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the config file at path, expands ${VAR} references, applies
// defaults, verifies .checksums when one sits next to the file, and
// validates the result. Relative paths inside the file are resolved against
// the file's directory.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		abs = filepath.Join(abs, "config.yaml")
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\nHint: check the path or pass --config", abs)
	}

	if err := VerifyChecksums(abs); err != nil && !errors.Is(err, ErrNoChecksums) {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", abs, err)
	}
	cfg.Path = abs

	dir := filepath.Dir(abs)
	cfg.State.Path = resolve(dir, cfg.State.Path)
	cfg.WorkersDir = resolve(dir, cfg.WorkersDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML after env interpolation and applies defaults. Unknown
// keys are errors; an empty document yields the defaults.
func Parse(data []byte) (*Config, error) {
	expanded := interpolateEnv(string(data))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return applyDefaults(cfg), nil
}

// Discover finds a config file: $HERALD_CONFIG, ~/.config/herald/config.yaml,
// /etc/herald/config.yaml, then ./config.yaml.
func Discover() (string, error) {
	var candidates []string
	if p := os.Getenv("HERALD_CONFIG"); p != "" {
		candidates = append(candidates, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "herald", "config.yaml"))
	}
	candidates = append(candidates, "/etc/herald/config.yaml", "config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: %s)", strings.Join(candidates, ", "))
}

func applyDefaults(cfg *Config) *Config {
	d := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = d.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = d.Service.LogLevel
	}
	if cfg.Service.JournalRetention == 0 {
		cfg.Service.JournalRetention = d.Service.JournalRetention
	}
	if cfg.State.Path == "" {
		cfg.State.Path = d.State.Path
	}
	if cfg.Manager.PollInterval == 0 {
		cfg.Manager.PollInterval = d.Manager.PollInterval
	}
	if cfg.Manager.DispatchWorkers == 0 {
		cfg.Manager.DispatchWorkers = d.Manager.DispatchWorkers
	}
	if cfg.Manager.DrainTimeout == 0 {
		cfg.Manager.DrainTimeout = d.Manager.DrainTimeout
	}
	if cfg.Manager.RouterBuffer == 0 {
		cfg.Manager.RouterBuffer = d.Manager.RouterBuffer
	}
	if cfg.WorkersDir == "" {
		cfg.WorkersDir = d.WorkersDir
	}
	if cfg.Workers.GracePeriod == 0 {
		cfg.Workers.GracePeriod = d.Workers.GracePeriod
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = d.API.Listen
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with its value. Unset variables are left in
// place so Validate can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// Validate checks a loaded config.
func Validate(cfg *Config) error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	switch cfg.Service.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		add("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.JournalRetention < 0 {
		add("service.journal_retention must not be negative")
	}
	if cfg.Manager.PollInterval < 0 {
		add("manager.poll_interval must be positive")
	}
	if cfg.Manager.DispatchWorkers < 0 {
		add("manager.dispatch_workers must be positive")
	}
	if cfg.Manager.DrainTimeout < 0 {
		add("manager.drain_timeout must be positive")
	}
	if cfg.Manager.RouterBuffer < 0 {
		add("manager.router_buffer must not be negative")
	}
	if len(cfg.Priorities.Types) == 0 && cfg.Priorities.Default == nil {
		add("priorities: at least one of priorities.types or priorities.default is required")
	}
	for t := range cfg.Priorities.Types {
		if strings.TrimSpace(t) == "" {
			add("priorities.types: empty event type")
		}
	}
	for t, w := range cfg.Routes {
		if strings.TrimSpace(t) == "" || strings.TrimSpace(w) == "" {
			add("routes: event type and worker must be non-empty (%q: %q)", t, w)
		}
	}

	if cfg.API.Enabled {
		if name, ok := unresolved(cfg.API.Auth.APIKey); ok {
			add("api.auth.api_key: environment variable ${%s} is not set", name)
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			add("api.auth: api_key or tokens required when the API is enabled")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				add("api.auth.tokens[%d].token is required", i)
			}
			if name, ok := unresolved(tok.Token); ok {
				add("api.auth.tokens[%d].token: environment variable ${%s} is not set", i, name)
			}
			if len(tok.Scopes) == 0 {
				add("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	if cfg.Webhooks != nil {
		seen := make(map[string]bool)
		for i, ep := range cfg.Webhooks.Endpoints {
			if !strings.HasPrefix(ep.Path, "/") {
				add("webhooks.endpoints[%d].path must start with /", i)
			}
			if seen[ep.Path] {
				add("webhooks.endpoints[%d].path %q is duplicated", i, ep.Path)
			}
			seen[ep.Path] = true
			if ep.EventType == "" {
				add("webhooks.endpoints[%d].event_type is required", i)
			}
			if name, ok := unresolved(ep.Secret); ok {
				add("webhooks.endpoints[%d].secret: environment variable ${%s} is not set", i, name)
			}
		}
	}

	for i, sc := range cfg.Schedules {
		if strings.TrimSpace(sc.EventType) == "" {
			add("schedules[%d].event_type is required", i)
		}
		if sc.Every <= 0 {
			add("schedules[%d].every must be positive", i)
		}
		if sc.Jitter < 0 {
			add("schedules[%d].jitter must not be negative", i)
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func unresolved(s string) (string, bool) {
	m := envVarPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Marshal renders cfg back to YAML, for `config get`.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), enc.Close()
}
