package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/plugin"
	"github.com/mattjoyce/herald/internal/protocol"
)

// setupCatalog writes a shell worker and discovers it.
func setupCatalog(t *testing.T, name, script string) *plugin.Catalog {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
	root := t.TempDir()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := "name: " + name + "\nprotocol: 1\nentrypoint: run.sh\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte("#!/bin/sh\n"+script), 0o755))

	catalog, err := plugin.Discover([]string{root}, nil)
	require.NoError(t, err)
	_, ok := catalog.Get(name)
	require.True(t, ok)
	return catalog
}

func TestSupervisorSpawnEchoesAndQuits(t *testing.T) {
	// Reads the triggering frame, answers with a stream message, then quits.
	script := `read line
printf '%s\n' '{"type":"stream.message","stream":"main","payload":{"got":"yes"}}'
printf '%s\n' '{"type":"worker.quit"}'
`
	catalog := setupCatalog(t, "echo", script)
	sup := NewSupervisor(catalog, time.Second, log.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := sup.Spawn(ctx, SpawnRequest{Name: "echo", Event: protocol.Event{Type: "task"}})
	require.NoError(t, err)
	assert.NotEmpty(t, h.Key)
	assert.Positive(t, h.PID)

	ev, ok := recv(t, h.Channel.Inbox())
	require.True(t, ok)
	assert.Equal(t, protocol.TypeStreamMessage, ev.Type)
	assert.Equal(t, "yes", ev.Payload["got"])

	ev, ok = recv(t, h.Channel.Inbox())
	require.True(t, ok)
	assert.True(t, ev.IsQuit())

	_, ok = recv(t, h.Channel.Inbox())
	assert.False(t, ok, "inbox closes when the process exits")

	require.Eventually(t, func() bool { return len(sup.Running()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSupervisorStopEscalates(t *testing.T) {
	catalog := setupCatalog(t, "stubborn", "trap '' TERM\nwhile true; do sleep 1; done\n")
	sup := NewSupervisor(catalog, 100*time.Millisecond, log.Discard())

	h, err := sup.Spawn(context.Background(), SpawnRequest{Name: "stubborn", Key: "k1"})
	require.NoError(t, err)
	assert.Equal(t, "k1", h.Key)
	assert.Equal(t, []string{"k1"}, sup.Running())

	start := time.Now()
	require.NoError(t, sup.Stop(context.Background(), "k1"))
	assert.Less(t, time.Since(start), 5*time.Second)

	_, ok := recv(t, h.Channel.Inbox())
	assert.False(t, ok)
	assert.Empty(t, sup.Running())
}

func TestSupervisorUnknownWorker(t *testing.T) {
	sup := NewSupervisor(plugin.NewCatalog(), 0, log.Discard())
	_, err := sup.Spawn(context.Background(), SpawnRequest{Name: "ghost"})
	assert.True(t, errors.Is(err, ErrUnknownWorker))
}
