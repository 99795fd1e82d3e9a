package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/mattjoyce/herald/internal/protocol"
)

// ProcessChannel speaks newline-delimited JSON events over a subprocess's
// stdin (outbound) and stdout (inbound).
type ProcessChannel struct {
	id     string
	logger *slog.Logger

	wmu    sync.Mutex
	stdin  io.WriteCloser
	closed bool

	inbox    chan protocol.Event
	done     chan struct{}
	readDone chan struct{}
	once     sync.Once
}

// NewProcessChannel starts reading stdout in the background. The inbox is
// closed when stdout reaches EOF. Frames read after Close are discarded so a
// chatty worker never blocks on a full pipe.
func NewProcessChannel(stdin io.WriteCloser, stdout io.Reader, logger *slog.Logger) *ProcessChannel {
	c := &ProcessChannel{
		id:       uuid.NewString(),
		logger:   logger,
		stdin:    stdin,
		inbox:    make(chan protocol.Event, defaultInboxSize),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.readLoop(stdout)
	return c
}

func (c *ProcessChannel) ID() string { return c.id }

func (c *ProcessChannel) Inbox() <-chan protocol.Event { return c.inbox }

// ReadDone is closed once the stdout reader has exited.
func (c *ProcessChannel) ReadDone() <-chan struct{} { return c.readDone }

// Send writes ev as one frame to the worker's stdin.
func (c *ProcessChannel) Send(ctx context.Context, ev protocol.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if err := protocol.EncodeEvent(c.stdin, ev); err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) || errors.Is(err, unix.EPIPE) {
			return ErrChannelClosed
		}
		return err
	}
	return nil
}

// Close closes the worker's stdin and stops delivering inbound events.
func (c *ProcessChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.wmu.Lock()
		c.closed = true
		err = c.stdin.Close()
		c.wmu.Unlock()
	})
	return err
}

func (c *ProcessChannel) readLoop(stdout io.Reader) {
	defer close(c.readDone)
	defer close(c.inbox)

	dec := protocol.NewDecoder(stdout)
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) {
				c.logger.Warn("dropping malformed worker frame", "channel", c.id, "error", err)
				continue
			}
			c.logger.Warn("worker stdout read failed", "channel", c.id, "error", err)
			return
		}
		select {
		case <-c.done:
			continue
		default:
		}
		select {
		case c.inbox <- ev:
		case <-c.done:
		}
	}
}
