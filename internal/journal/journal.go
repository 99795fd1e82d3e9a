// Package journal keeps an audit trail of dispatch outcomes in SQLite.
//
// Queued events are never written here; a restart loses the queue by design
// of the manager, and the journal only records what already happened.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Status string

const (
	StatusResolved Status = "resolved"
	StatusFailed   Status = "failed"
	StatusPanicked Status = "panicked"
	StatusRejected Status = "rejected"
)

// Entry is one row of dispatch_log.
type Entry struct {
	ID          int64         `json:"id"`
	EventID     string        `json:"event_id"`
	EventType   string        `json:"event_type"`
	Source      string        `json:"source,omitempty"`
	Priority    int           `json:"priority"`
	Sequence    uint64        `json:"sequence"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// Fixed-width so completed_at sorts lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}
	var enqueued any
	if !e.EnqueuedAt.IsZero() {
		enqueued = e.EnqueuedAt.UTC().Format(tsLayout)
	}
	var errText any
	if e.Error != "" {
		errText = e.Error
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO dispatch_log(event_id, event_type, source, priority, sequence, status, error, enqueued_at, completed_at, duration_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.EventID, e.EventType, e.Source, e.Priority, int64(e.Sequence), string(e.Status), errText, enqueued,
		e.CompletedAt.UTC().Format(tsLayout), e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert dispatch_log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx, `
SELECT id, event_id, event_type, COALESCE(source, ''), priority, sequence, status,
       COALESCE(error, ''), COALESCE(enqueued_at, ''), completed_at, duration_ms
FROM dispatch_log
ORDER BY id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dispatch_log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e                   Entry
			seq, durMS          int64
			status              string
			enqueued, completed string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &e.Source, &e.Priority, &seq, &status,
			&e.Error, &enqueued, &completed, &durMS); err != nil {
			return nil, fmt.Errorf("scan dispatch_log: %w", err)
		}
		e.Sequence = uint64(seq)
		e.Status = Status(status)
		e.Duration = time.Duration(durMS) * time.Millisecond
		if enqueued != "" {
			e.EnqueuedAt, _ = time.Parse(tsLayout, enqueued)
		}
		e.CompletedAt, _ = time.Parse(tsLayout, completed)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries completed before now-retention.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UTC().Format(tsLayout)
	res, err := j.db.ExecContext(ctx, `DELETE FROM dispatch_log WHERE completed_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune dispatch_log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
