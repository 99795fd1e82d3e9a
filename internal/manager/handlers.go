package manager

import (
	"context"
	"log/slog"

	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/worker"
)

// HandlerFunc receives an event read from a registered worker's channel.
type HandlerFunc func(ctx context.Context, ev protocol.Event, h *worker.Handle)

// ChannelHandlerFunc receives an event from a watched channel that has no
// registered worker.
type ChannelHandlerFunc func(ctx context.Context, ev protocol.Event, ch worker.Channel)

// Handlers are invoked on the EventLoop goroutine, so they must not block on
// the router. Nil fields fall back to the defaults, which log and publish to
// the hub; the default OnWorkerEvent calls the handle's ResolveFunc.
type Handlers struct {
	OnStreamCreated HandlerFunc
	OnStreamMessage HandlerFunc
	OnStreamClosed  HandlerFunc

	// OnWorkerEvent gets every event that is neither lifecycle nor quit.
	OnWorkerEvent HandlerFunc

	// OnWorkerQuit runs after the worker has been removed from the registry,
	// either on a worker.quit event or when its channel closes.
	OnWorkerQuit HandlerFunc

	OnUnregisteredChannelEvent ChannelHandlerFunc
}

func (m *Manager) defaultHandlers() Handlers {
	stream := func(kind string) HandlerFunc {
		return func(_ context.Context, ev protocol.Event, h *worker.Handle) {
			m.logger.Debug("stream event", "type", kind, "worker_key", h.Key, "stream", ev.Stream)
			m.hub.Publish(kind, workerEventData(ev, h))
		}
	}

	return Handlers{
		OnStreamCreated: stream(events.StreamCreated),
		OnStreamMessage: stream(events.StreamMessage),
		OnStreamClosed:  stream(events.StreamClosed),
		OnWorkerEvent: func(ctx context.Context, ev protocol.Event, h *worker.Handle) {
			if h.Resolve == nil {
				m.logger.Debug("worker event has no resolver", "worker_key", h.Key, "event_type", ev.Type)
				return
			}
			if err := h.Resolve(ctx, ev); err != nil {
				m.logger.Warn("worker event not resolved", "worker_key", h.Key, "event_type", ev.Type, "error", err)
			}
		},
		OnWorkerQuit: func(_ context.Context, ev protocol.Event, h *worker.Handle) {
			m.logger.Info("worker quit", "worker_key", h.Key, "worker", h.Name)
			m.hub.Publish(events.WorkerQuit, workerEventData(ev, h))
		},
		OnUnregisteredChannelEvent: func(_ context.Context, ev protocol.Event, ch worker.Channel) {
			m.logger.Warn("event on unregistered channel", "channel", ch.ID(), "event_type", ev.Type)
			m.hub.Publish(events.EventOrphaned, map[string]any{
				"channel":    ch.ID(),
				"event_type": ev.Type,
				"event_id":   ev.EventID,
			})
		},
	}
}

func (h Handlers) merge(over Handlers) Handlers {
	if over.OnStreamCreated != nil {
		h.OnStreamCreated = over.OnStreamCreated
	}
	if over.OnStreamMessage != nil {
		h.OnStreamMessage = over.OnStreamMessage
	}
	if over.OnStreamClosed != nil {
		h.OnStreamClosed = over.OnStreamClosed
	}
	if over.OnWorkerEvent != nil {
		h.OnWorkerEvent = over.OnWorkerEvent
	}
	if over.OnWorkerQuit != nil {
		h.OnWorkerQuit = over.OnWorkerQuit
	}
	if over.OnUnregisteredChannelEvent != nil {
		h.OnUnregisteredChannelEvent = over.OnUnregisteredChannelEvent
	}
	return h
}

func workerEventData(ev protocol.Event, h *worker.Handle) map[string]any {
	return map[string]any{
		"worker_key": h.Key,
		"worker":     h.Name,
		"event_type": ev.Type,
		"stream":     ev.Stream,
	}
}

// guard runs fn and turns a panic into a log line.
func guard(logger *slog.Logger, handler string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "handler", handler, "panic", r)
		}
	}()
	fn()
}
