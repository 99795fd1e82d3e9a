package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/herald/internal/config"
	"github.com/mattjoyce/herald/internal/log"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runArgs(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

const testConfig = `state:
  path: ./data/herald.db
workers_dir: ./workers
priorities:
  types:
    alert: 1
    notified: 5
routes:
  alert: notifier
`

// writeFixture lays out a config directory with one shell worker and
// returns the config file path.
func writeFixture(t *testing.T, cfg string) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
	dir := t.TempDir()
	worker := filepath.Join(dir, "workers", "notifier")
	require.NoError(t, os.MkdirAll(worker, 0o755))
	manifest := "name: notifier\nversion: 1.2.0\nprotocol: 1\nentrypoint: run.sh\nhandles: [alert]\nemits: [notified]\ndescription: pages people\n"
	require.NoError(t, os.WriteFile(filepath.Join(worker, "manifest.yaml"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(worker, "run.sh"), []byte("#!/bin/sh\nread line\n"), 0o755))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestRunCLI_HelpAndUnknown(t *testing.T) {
	code, stdout, _ := runArgs(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "herald - priority event-dispatch manager")

	code, _, stderr := runArgs(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage:")

	code, _, stderr = runArgs(t, "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")
}

func TestRunCLI_NounHelp(t *testing.T) {
	code, stdout, _ := runArgs(t, "worker", "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Actions: list, ps, start, stop")

	code, _, stderr := runArgs(t, "config", "explode")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown config action: explode")

	code, _, stderr = runArgs(t, "system")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: herald system <action>")
}

func TestRunVersionJSON(t *testing.T) {
	code, stdout, _ := runArgs(t, "version", "--json")
	require.Equal(t, 0, code)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, version, info.Version)
	assert.NotEmpty(t, info.Commit)
}

func TestConfigCheck(t *testing.T) {
	path := writeFixture(t, testConfig)

	code, stdout, stderr := runArgs(t, "config", "check", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Workers:   1 discovered")
	assert.Contains(t, stdout, "Integrity: not locked")
	assert.Contains(t, stdout, "Configuration valid (1 warning(s))")
	assert.Contains(t, stdout, `emits "notified"`)
}

func TestConfigCheckReportsEveryProblem(t *testing.T) {
	bad := strings.Replace(testConfig, "    notified: 5\n", "", 1) + "  report: ghost\n"
	path := writeFixture(t, bad)

	code, stdout, _ := runArgs(t, "config", "check", "--json", "--config", path)
	require.Equal(t, 1, code)

	var result struct {
		Valid  bool `json:"valid"`
		Errors []struct {
			Category string `json:"category"`
			Message  string `json:"message"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.False(t, result.Valid)

	var categories []string
	for _, e := range result.Errors {
		categories = append(categories, e.Category)
	}
	assert.Contains(t, categories, "routes")
	assert.Contains(t, categories, "priorities")
}

func TestConfigLockThenCheck(t *testing.T) {
	path := writeFixture(t, testConfig)

	code, stdout, stderr := runArgs(t, "config", "lock", "--config", filepath.Dir(path))
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "blake3:")
	assert.FileExists(t, filepath.Join(filepath.Dir(path), ".checksums"))

	code, stdout, _ = runArgs(t, "config", "check", "--config", path)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Integrity: OK")

	// Tampering after lock makes every load fail.
	require.NoError(t, os.WriteFile(path, []byte(testConfig+"  notified: notifier\n"), 0o600))
	code, _, stderr = runArgs(t, "config", "check", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "FAILED")
}

func TestConfigLockRefusesInvalid(t *testing.T) {
	path := writeFixture(t, "service: {log_level: loud}\npriorities: {default: 1}\n")
	code, _, stderr := runArgs(t, "config", "lock", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Refusing to lock")
}

func TestConfigGet(t *testing.T) {
	path := writeFixture(t, testConfig)

	code, stdout, _ := runArgs(t, "config", "get", "--config", path, "manager.poll_interval")
	require.Equal(t, 0, code)
	assert.Equal(t, "10s\n", stdout)

	code, stdout, _ = runArgs(t, "config", "get", "--config", path, "--json", "route:alert")
	require.Equal(t, 0, code)
	assert.Equal(t, "\"notifier\"\n", stdout)

	code, stdout, _ = runArgs(t, "config", "get", "--config", path)
	require.Equal(t, 0, code)
	var full map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &full))
	assert.Contains(t, full, "priorities")

	code, _, stderr := runArgs(t, "config", "get", "--config", path, "route:missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `route "missing" not found`)
}

func TestConfigTokenWithScopes(t *testing.T) {
	code, stdout, _ := runArgs(t, "config", "token", "--scopes", "events:ro, workers:rw")
	require.Equal(t, 0, code)

	var tokens []config.APIToken
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &tokens))
	require.Len(t, tokens, 1)
	assert.Len(t, tokens[0].Token, 64)
	assert.Equal(t, []string{"events:ro", "workers:rw"}, tokens[0].Scopes)

	code, _, stderr := runArgs(t, "config", "token", "--scopes", "jobs:rw")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown scopes: jobs:rw")
}

func TestWorkerList(t *testing.T) {
	path := writeFixture(t, testConfig)

	code, stdout, stderr := runArgs(t, "worker", "list", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "NAME")
	assert.Contains(t, stdout, "notifier")
	assert.Contains(t, stdout, "1.2.0")
	assert.Contains(t, stdout, "pages people")
}

func TestBuildCoreRejectsUnclassifiedRoute(t *testing.T) {
	path := writeFixture(t, strings.Replace(testConfig, "    alert: 1\n", "", 1))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	_, err = buildCore(cfg, log.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert")
}

func TestBuildCoreAndWire(t *testing.T) {
	path := writeFixture(t, testConfig+"schedules:\n  - event_type: alert\n    every: 1h\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	a, err := buildCore(cfg, log.Discard())
	require.NoError(t, err)
	require.NoError(t, a.wire(nil))

	assert.NotNil(t, a.manager)
	assert.Nil(t, a.journal)
	assert.True(t, a.sched.Active())
	route, ok := a.resolver.Route("alert")
	assert.True(t, ok)
	assert.Equal(t, "notifier", route)
}
