// Package registry tracks live workers by key and by channel.
//
// All accessors return snapshots; the live maps never leave the package, so
// callers iterating a snapshot may hold handles that have since been
// removed. Treat those as closed channels, not as errors.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mattjoyce/herald/internal/worker"
)

var (
	// ErrDuplicateKey is returned when adding a key that is already registered.
	ErrDuplicateKey = errors.New("worker key already registered")

	// ErrInvalidHandle is returned for handles without a key or channel.
	ErrInvalidHandle = errors.New("invalid worker handle")
)

// Registry maps worker keys and channel ids to handles.
type Registry struct {
	mu        sync.RWMutex
	byKey     map[string]*worker.Handle
	byChannel map[string]string // channel id -> key
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byKey:     make(map[string]*worker.Handle),
		byChannel: make(map[string]string),
	}
}

// Add registers h.
func (r *Registry) Add(h *worker.Handle) error {
	if h == nil || h.Key == "" || h.Channel == nil {
		return ErrInvalidHandle
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[h.Key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, h.Key)
	}
	r.byKey[h.Key] = h
	r.byChannel[h.Channel.ID()] = h.Key
	return nil
}

// Remove drops the worker with key and returns it.
func (r *Registry) Remove(key string) (*worker.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byKey[key]
	if !ok {
		return nil, false
	}
	delete(r.byKey, key)
	delete(r.byChannel, h.Channel.ID())
	return h, true
}

// RemoveChannel drops whichever worker owns ch.
func (r *Registry) RemoveChannel(ch worker.Channel) (*worker.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byChannel[ch.ID()]
	if !ok {
		return nil, false
	}
	h := r.byKey[key]
	delete(r.byKey, key)
	delete(r.byChannel, ch.ID())
	return h, true
}

// Lookup returns the worker that owns ch.
func (r *Registry) Lookup(ch worker.Channel) (*worker.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byChannel[ch.ID()]
	if !ok {
		return nil, false
	}
	return r.byKey[key], true
}

// Get returns the worker registered under key.
func (r *Registry) Get(key string) (*worker.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byKey[key]
	return h, ok
}

// Channels returns a snapshot of every registered channel, ordered by
// worker start time.
func (r *Registry) Channels() []worker.Channel {
	handles := r.Handles()
	out := make([]worker.Channel, len(handles))
	for i, h := range handles {
		out[i] = h.Channel
	}
	return out
}

// Handles returns a snapshot of every registered worker, ordered by start
// time then key.
func (r *Registry) Handles() []*worker.Handle {
	r.mu.RLock()
	out := make([]*worker.Handle, 0, len(r.byKey))
	for _, h := range r.byKey {
		out = append(out, h)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}
