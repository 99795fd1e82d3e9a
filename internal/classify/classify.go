// Package classify maps event types onto dispatch priorities.
//
// Convention: lower numbers are dispatched first. A priority of 0 is more
// urgent than 10.
package classify

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownEventType is returned for event types a classifier has no
// priority for and no default to fall back on.
var ErrUnknownEventType = errors.New("unknown event type")

// Classifier assigns a priority to an event type. Implementations must be
// pure: the same type always yields the same result.
type Classifier interface {
	Priority(eventType string) (int, error)
}

// Func adapts a plain function to Classifier.
type Func func(eventType string) (int, error)

// Priority calls f.
func (f Func) Priority(eventType string) (int, error) { return f(eventType) }

// Table is a static classifier built from configuration. Types are matched
// exactly first, then by the longest "prefix.*" wildcard.
type Table struct {
	exact    map[string]int
	prefixes []prefixRule
	fallback *int
}

type prefixRule struct {
	prefix   string
	priority int
}

// NewTable builds a table. A nil fallback makes unknown types an error.
func NewTable(types map[string]int, fallback *int) (*Table, error) {
	t := &Table{exact: make(map[string]int, len(types))}
	for typ, p := range types {
		typ = strings.TrimSpace(typ)
		if typ == "" {
			return nil, fmt.Errorf("priority table: empty event type")
		}
		if base, ok := strings.CutSuffix(typ, ".*"); ok {
			t.prefixes = append(t.prefixes, prefixRule{prefix: base + ".", priority: p})
			continue
		}
		t.exact[typ] = p
	}
	sort.Slice(t.prefixes, func(i, j int) bool {
		return len(t.prefixes[i].prefix) > len(t.prefixes[j].prefix)
	})
	if fallback != nil {
		v := *fallback
		t.fallback = &v
	}
	return t, nil
}

// Priority implements Classifier.
func (t *Table) Priority(eventType string) (int, error) {
	if p, ok := t.exact[eventType]; ok {
		return p, nil
	}
	for _, r := range t.prefixes {
		if strings.HasPrefix(eventType, r.prefix) {
			return r.priority, nil
		}
	}
	if t.fallback != nil {
		return *t.fallback, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
}

// Validate checks that every type in known can be classified. It is meant to
// run once at start-up so a missing priority surfaces as a configuration
// error instead of a stream of dropped events.
func (t *Table) Validate(known []string) error {
	var missing []string
	for _, typ := range known {
		if _, err := t.Priority(typ); err != nil {
			missing = append(missing, typ)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: no priority for %s (add them under priorities.types or set priorities.default)",
		ErrUnknownEventType, strings.Join(missing, ", "))
}
