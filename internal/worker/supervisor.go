package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/mattjoyce/herald/internal/plugin"
)

const (
	// maxStderrBytes caps the amount of stderr kept per worker.
	maxStderrBytes = 64 * 1024

	// DefaultGracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	DefaultGracePeriod = 5 * time.Second
)

// Supervisor spawns catalog workers as subprocesses in their own process
// group and reaps them when they exit.
type Supervisor struct {
	catalog *plugin.Catalog
	grace   time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	procs map[string]*process
}

type process struct {
	name   string
	cmd    *exec.Cmd
	ch     *ProcessChannel
	stderr *cappedBuffer
	exited chan struct{}
}

// NewSupervisor creates a Supervisor over catalog.
func NewSupervisor(catalog *plugin.Catalog, grace time.Duration, logger *slog.Logger) *Supervisor {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Supervisor{
		catalog: catalog,
		grace:   grace,
		logger:  logger,
		procs:   make(map[string]*process),
	}
}

// Spawn starts the named worker and sends it the triggering event.
func (s *Supervisor) Spawn(ctx context.Context, req SpawnRequest) (*Handle, error) {
	def, ok := s.catalog.Get(req.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorker, req.Name)
	}

	key := req.Key
	if key == "" {
		key = uuid.NewString()
	}
	logger := s.logger.With("worker", def.Name, "worker_key", key)

	cmd := exec.Command(def.Entrypoint, def.Args...)
	cmd.Dir = def.Path
	cmd.Env = append(os.Environ(), "HERALD_WORKER_KEY="+key, "HERALD_WORKER_NAME="+def.Name)
	cmd.Env = append(cmd.Env, req.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr := &cappedBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr

	logger.Debug("spawning worker", "entrypoint", def.Entrypoint)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	p := &process{
		name:   def.Name,
		cmd:    cmd,
		ch:     NewProcessChannel(stdin, stdout, logger),
		stderr: stderr,
		exited: make(chan struct{}),
	}

	s.mu.Lock()
	s.procs[key] = p
	s.mu.Unlock()

	go s.reap(key, p, logger)

	if req.Event.Type != "" {
		if err := p.ch.Send(ctx, req.Event); err != nil {
			logger.Warn("failed to deliver triggering event", "error", err)
			_ = s.Stop(context.Background(), key)
			return nil, fmt.Errorf("deliver triggering event: %w", err)
		}
	}

	logger.Info("worker started", "pid", cmd.Process.Pid)
	return &Handle{
		Key:       key,
		Name:      def.Name,
		PID:       cmd.Process.Pid,
		Channel:   p.ch,
		StartedAt: time.Now().UTC(),
	}, nil
}

// reap waits for stdout to drain before Wait, which closes the pipes.
func (s *Supervisor) reap(key string, p *process, logger *slog.Logger) {
	<-p.ch.ReadDone()
	err := p.cmd.Wait()
	_ = p.ch.Close()
	close(p.exited)

	s.mu.Lock()
	delete(s.procs, key)
	s.mu.Unlock()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		logger.Info("worker exited")
	case errors.As(err, &exitErr):
		logger.Warn("worker exited with non-zero status", "exit_code", exitErr.ExitCode(), "stderr", p.stderr.String())
	default:
		logger.Error("wait for worker failed", "error", err)
	}
}

// Stop terminates a worker: SIGTERM to its process group, then SIGKILL once
// the grace period expires. Unknown keys are ignored.
func (s *Supervisor) Stop(ctx context.Context, key string) error {
	s.mu.Lock()
	p, ok := s.procs[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	pgid := -p.cmd.Process.Pid
	if err := unix.Kill(pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		s.logger.Error("failed to send SIGTERM", "worker_key", key, "error", err)
	}

	grace := time.NewTimer(s.grace)
	defer grace.Stop()

	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
	case <-grace.C:
	}

	s.logger.Warn("worker did not exit after SIGTERM, sending SIGKILL", "worker_key", key)
	if err := unix.Kill(pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill worker %s: %w", key, err)
	}
	<-p.exited
	return nil
}

// StopAll stops every running worker in parallel.
func (s *Supervisor) StopAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, key := range s.Running() {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Stop(ctx, key); err != nil {
				s.logger.Error("failed to stop worker", "worker_key", key, "error", err)
			}
		}()
	}
	wg.Wait()
}

// Running returns the keys of live worker processes.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.procs))
	for k := range s.procs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
