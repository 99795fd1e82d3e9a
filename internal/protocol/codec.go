package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxFrameBytes bounds a single newline-delimited frame read from a worker.
const MaxFrameBytes = 1 << 20

var (
	// ErrEmptyType is returned when a frame has no event type.
	ErrEmptyType = errors.New("event missing required field: type")

	// ErrMalformedFrame wraps per-frame decode failures. The stream itself
	// is still readable after one.
	ErrMalformedFrame = errors.New("malformed frame")
)

// EncodeEvent serializes ev as a single JSON line and writes it to w.
func EncodeEvent(w io.Writer, ev Event) error {
	if strings.TrimSpace(ev.Type) == "" {
		return ErrEmptyType
	}
	if err := json.NewEncoder(w).Encode(ev); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

// DecodeEvent parses a single JSON frame.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("frame is not valid JSON: %w", err)
	}
	if strings.TrimSpace(ev.Type) == "" {
		return Event{}, ErrEmptyType
	}
	return ev, nil
}

// Decoder reads newline-delimited events from a worker's stdout.
// Blank lines are skipped.
type Decoder struct {
	sc *bufio.Scanner
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxFrameBytes)
	return &Decoder{sc: sc}
}

// Next returns the next event, io.EOF at end of stream, or a decode error.
// A decode error does not poison the stream; callers may keep reading.
func (d *Decoder) Next() (Event, error) {
	for d.sc.Scan() {
		line := strings.TrimSpace(d.sc.Text())
		if line == "" {
			continue
		}
		ev, err := DecodeEvent([]byte(line))
		if err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
		}
		return ev, nil
	}
	if err := d.sc.Err(); err != nil {
		return Event{}, fmt.Errorf("read frame: %w", err)
	}
	return Event{}, io.EOF
}
