package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal config gets defaults",
			yaml: `
priorities:
  types:
    alert: 0
    report: 5
routes:
  alert: notifier
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "herald", cfg.Service.Name)
				assert.Equal(t, 10*time.Second, cfg.Manager.PollInterval)
				assert.Equal(t, 1, cfg.Manager.DispatchWorkers)
				assert.Equal(t, 5*time.Second, cfg.Workers.GracePeriod)
				assert.Equal(t, map[string]int{"alert": 0, "report": 5}, cfg.Priorities.Types)
				assert.Equal(t, "notifier", cfg.Routes["alert"])
				assert.True(t, filepath.IsAbs(cfg.State.Path))
				assert.True(t, filepath.IsAbs(cfg.WorkersDir))
			},
		},
		{
			name: "explicit values and env interpolation",
			yaml: `
service:
  log_level: debug
manager:
  poll_interval: 250ms
  dispatch_workers: 4
  drain_timeout: 2s
priorities:
  default: 9
api:
  enabled: true
  auth:
    tokens:
      - token: ${HERALD_TEST_TOKEN}
        scopes: ["events:rw"]
`,
			env: map[string]string{"HERALD_TEST_TOKEN": "s3cret"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 250*time.Millisecond, cfg.Manager.PollInterval)
				assert.Equal(t, 4, cfg.Manager.DispatchWorkers)
				require.NotNil(t, cfg.Priorities.Default)
				assert.Equal(t, 9, *cfg.Priorities.Default)
				assert.Equal(t, "s3cret", cfg.API.Auth.Tokens[0].Token)
			},
		},
		{
			name:    "unset env var is named",
			yaml:    "priorities: {default: 1}\napi:\n  enabled: true\n  auth:\n    api_key: ${HERALD_MISSING_VAR}\n",
			wantErr: "${HERALD_MISSING_VAR} is not set",
		},
		{
			name:    "no priorities",
			yaml:    "service: {name: x}\n",
			wantErr: "priorities",
		},
		{
			name:    "bad log level",
			yaml:    "service: {log_level: loud}\npriorities: {default: 1}\n",
			wantErr: "service.log_level",
		},
		{
			name:    "unknown key",
			yaml:    "priorities: {default: 1}\nplugins_dir: ./plugins\n",
			wantErr: "plugins_dir",
		},
		{
			name: "schedules",
			yaml: `
priorities: {default: 1}
schedules:
  - event_type: heartbeat
    every: 5m
    jitter: 10s
    payload: {from: cron}
`,
			check: func(t *testing.T, cfg *Config) {
				require.Len(t, cfg.Schedules, 1)
				assert.Equal(t, "heartbeat", cfg.Schedules[0].EventType)
				assert.Equal(t, 5*time.Minute, cfg.Schedules[0].Every)
				assert.Equal(t, 10*time.Second, cfg.Schedules[0].Jitter)
				assert.Equal(t, "cron", cfg.Schedules[0].Payload["from"])
			},
		},
		{
			name:    "schedule without interval",
			yaml:    "priorities: {default: 1}\nschedules:\n  - event_type: heartbeat\n",
			wantErr: "schedules[0].every must be positive",
		},
		{
			name:    "webhook without event type",
			yaml:    "priorities: {default: 1}\nwebhooks:\n  endpoints:\n    - path: /hooks/a\n      secret: x\n",
			wantErr: "event_type is required",
		},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadDirectoryAndMissing(t *testing.T) {
	path := writeConfig(t, "priorities: {default: 0}\n")
	cfg, err := Load(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)

	_, err = Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "config file not found")
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults().Manager, cfg.Manager)
}

func TestDiscoverPrefersEnv(t *testing.T) {
	path := writeConfig(t, "priorities: {default: 0}\n")
	t.Setenv("HERALD_CONFIG", path)
	got, err := Discover()
	require.NoError(t, err)
	assert.Equal(t, path, got)
}
