package config

import "time"

// Config is the herald service configuration.
type Config struct {
	Service    ServiceConfig     `yaml:"service"`
	State      StateConfig       `yaml:"state"`
	Manager    ManagerConfig     `yaml:"manager"`
	Priorities PrioritiesConfig  `yaml:"priorities"`
	WorkersDir string            `yaml:"workers_dir"`
	Workers    WorkersConfig     `yaml:"workers"`
	Routes     map[string]string `yaml:"routes,omitempty"` // event type -> worker name
	API        APIConfig         `yaml:"api,omitempty"`
	Webhooks   *WebhooksConfig   `yaml:"webhooks,omitempty"`
	Schedules  []ScheduleConfig  `yaml:"schedules,omitempty"`

	// Path is the absolute path the config was loaded from.
	Path string `yaml:"-"`
}

type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// JournalRetention is how long dispatch_log rows are kept; 0 keeps them forever.
	JournalRetention time.Duration `yaml:"journal_retention"`
}

type StateConfig struct {
	Path string `yaml:"path"`
}

// ManagerConfig tunes the event loop and the dispatch pool.
type ManagerConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	DispatchWorkers int           `yaml:"dispatch_workers"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
	RouterBuffer    int           `yaml:"router_buffer"`
}

// PrioritiesConfig feeds the classifier. Lower numbers are dispatched first.
type PrioritiesConfig struct {
	Default *int           `yaml:"default,omitempty"`
	Types   map[string]int `yaml:"types"`
}

type WorkersConfig struct {
	GracePeriod time.Duration `yaml:"grace_period"`
}

type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

type APIAuthConfig struct {
	// APIKey is a single admin token. Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

type WebhookEndpoint struct {
	Path            string `yaml:"path"`
	EventType       string `yaml:"event_type"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodySize     string `yaml:"max_body_size"`
}

// ScheduleConfig submits an event of EventType every Every, plus a random
// delay of up to Jitter.
type ScheduleConfig struct {
	EventType string         `yaml:"event_type"`
	Every     time.Duration  `yaml:"every"`
	Jitter    time.Duration  `yaml:"jitter,omitempty"`
	Payload   map[string]any `yaml:"payload,omitempty"`
}

// Defaults returns a Config with every optional field filled in.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:             "herald",
			LogLevel:         "info",
			JournalRetention: 7 * 24 * time.Hour,
		},
		State: StateConfig{Path: "./data/herald.db"},
		Manager: ManagerConfig{
			PollInterval:    10 * time.Second,
			DispatchWorkers: 1,
			DrainTimeout:    30 * time.Second,
			RouterBuffer:    256,
		},
		WorkersDir: "./workers",
		Workers:    WorkersConfig{GracePeriod: 5 * time.Second},
		API:        APIConfig{Listen: "127.0.0.1:8080"},
	}
}
