package manager

import (
	"context"
	"reflect"
	"time"

	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/journal"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/queue"
	"github.com/mattjoyce/herald/internal/worker"
)

// Fixed positions in the select cases; stop channels follow, then worker
// channels.
const (
	caseRouter = iota
	caseWake
	caseTimer
	fixedCases
)

func (m *Manager) loop(ctx context.Context) error {
	return m.watch(ctx, m.router, ctx.Done(), m.closing)
}

// watch multiplexes the router, the wake channel and every watched worker
// channel until one of stop fires. A nil router is never read.
func (m *Manager) watch(ctx context.Context, router <-chan protocol.Event, stop ...<-chan struct{}) error {
	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()

	base := fixedCases + len(stop)
	for {
		if anyClosed(stop) {
			return nil
		}

		channels := m.buildWatchSet()
		cases := make([]reflect.SelectCase, base, base+len(channels))
		cases[caseRouter] = recvCase(router)
		cases[caseWake] = recvCase(m.wake.C())
		timer.Reset(m.pollInterval)
		cases[caseTimer] = recvCase(timer.C)
		for i, s := range stop {
			cases[fixedCases+i] = recvCase(s)
		}
		for _, ch := range channels {
			cases = append(cases, recvCase(ch.Inbox()))
		}

		chosen, value, ok := reflect.Select(cases)
		if chosen != caseTimer {
			timer.Stop()
		}

		switch {
		case chosen == caseRouter:
			if !ok {
				if anyClosed(stop) {
					return nil
				}
				m.logger.Error("router channel closed")
				return ErrRouterClosed
			}
			m.enqueue(value.Interface().(protocol.Event))
		case chosen == caseWake:
			// The next iteration rebuilds the watch set.
		case chosen == caseTimer:
		case chosen < base:
			return nil
		default:
			ch := channels[chosen-base]
			if !ok {
				m.channelClosed(ctx, ch)
				continue
			}
			m.routeWorkerEvent(ctx, ch, value.Interface().(protocol.Event))
		}
	}
}

func anyClosed(stop []<-chan struct{}) bool {
	for _, s := range stop {
		select {
		case <-s:
			return true
		default:
		}
	}
	return false
}

func recvCase(ch any) reflect.SelectCase {
	return reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)}
}

// buildWatchSet snapshots registered and anonymous channels and records
// their ids for WatchSet.
func (m *Manager) buildWatchSet() []worker.Channel {
	channels := m.registry.Channels()

	m.anonMu.Lock()
	for _, ch := range m.anon {
		if _, registered := m.registry.Lookup(ch); !registered {
			channels = append(channels, ch)
		}
	}
	m.anonMu.Unlock()

	ids := make([]string, len(channels))
	for i, ch := range channels {
		ids[i] = ch.ID()
	}
	m.watchMu.Lock()
	m.watchSet = ids
	m.watchMu.Unlock()
	m.builds.Add(1)
	return channels
}

func (m *Manager) enqueue(ev protocol.Event) {
	logger := m.logger.With("event_id", ev.EventID, "event_type", ev.Type)

	prio, err := m.classifier.Priority(ev.Type)
	if err != nil {
		logger.Warn("event rejected", "error", err)
		m.hub.Publish(events.EventRejected, map[string]any{
			"event_id":   ev.EventID,
			"event_type": ev.Type,
			"error":      err.Error(),
		})
		m.record(journal.Entry{
			EventID:   ev.EventID,
			EventType: ev.Type,
			Source:    ev.Source,
			Status:    journal.StatusRejected,
			Error:     err.Error(),
		})
		return
	}

	item, err := m.queue.Push(queue.Item{Event: ev, Priority: prio})
	if err != nil {
		logger.Warn("event dropped", "error", err)
		return
	}
	logger.Debug("event enqueued", "priority", prio, "sequence", item.Sequence)
	m.hub.Publish(events.EventEnqueued, map[string]any{
		"event_id":   ev.EventID,
		"event_type": ev.Type,
		"priority":   prio,
		"sequence":   item.Sequence,
		"depth":      m.queue.Len(),
	})
}

func (m *Manager) record(e journal.Entry) {
	if m.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.journal.Record(ctx, e); err != nil {
		m.logger.Error("journal record failed", "event_id", e.EventID, "error", err)
	}
}

// channelClosed forgets a channel whose peer has gone away. A registered
// worker counts as having quit.
func (m *Manager) channelClosed(ctx context.Context, ch worker.Channel) {
	if h, ok := m.registry.RemoveChannel(ch); ok {
		m.logger.Info("worker channel closed", "worker_key", h.Key, "worker", h.Name)
		quit := protocol.Event{Type: protocol.TypeWorkerQuit, Source: h.Name, Timestamp: time.Now().UTC()}
		guard(m.logger, "OnWorkerQuit", func() { m.handlers.OnWorkerQuit(ctx, quit, h) })
		return
	}

	m.anonMu.Lock()
	delete(m.anon, ch.ID())
	m.anonMu.Unlock()
	m.logger.Debug("watched channel closed", "channel", ch.ID())
}

func (m *Manager) routeWorkerEvent(ctx context.Context, ch worker.Channel, ev protocol.Event) {
	h, ok := m.registry.Lookup(ch)
	if !ok {
		guard(m.logger, "OnUnregisteredChannelEvent", func() { m.handlers.OnUnregisteredChannelEvent(ctx, ev, ch) })
		return
	}

	var (
		name string
		fn   HandlerFunc
	)
	switch ev.Type {
	case protocol.TypeStreamCreated:
		name, fn = "OnStreamCreated", m.handlers.OnStreamCreated
	case protocol.TypeStreamMessage:
		name, fn = "OnStreamMessage", m.handlers.OnStreamMessage
	case protocol.TypeStreamClosed:
		name, fn = "OnStreamClosed", m.handlers.OnStreamClosed
	case protocol.TypeWorkerQuit:
		m.registry.Remove(h.Key)
		// Nothing reads this channel after quit; closing it lets late frames
		// be discarded so the process can still be reaped.
		if err := h.Channel.Close(); err != nil {
			m.logger.Debug("close worker channel", "worker_key", h.Key, "error", err)
		}
		name, fn = "OnWorkerQuit", m.handlers.OnWorkerQuit
	default:
		name, fn = "OnWorkerEvent", m.handlers.OnWorkerEvent
	}
	guard(m.logger, name, func() { fn(ctx, ev, h) })
}
