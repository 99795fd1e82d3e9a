package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestEncodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		ev      Event
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "stream message",
			ev: Event{
				Type:      TypeStreamMessage,
				Stream:    "s-1",
				Payload:   map[string]any{"chunk": "hello"},
				Timestamp: time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC),
			},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"type":"stream.message"`) {
					t.Error("missing type field")
				}
				if !strings.Contains(output, `"stream":"s-1"`) {
					t.Error("missing stream field")
				}
				if !strings.HasSuffix(output, "\n") {
					t.Error("frame must be newline terminated")
				}
			},
		},
		{
			name:    "missing type",
			ev:      Event{Payload: map[string]any{"x": 1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeEvent(&buf, tt.ev)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestDecoderSkipsBlankLinesAndSurvivesBadFrames(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"stream.created","stream":"a"}`,
		``,
		`not json`,
		`{"payload":{}}`,
		`{"type":"worker.quit"}`,
	}, "\n")

	dec := NewDecoder(strings.NewReader(input))

	ev, err := dec.Next()
	if err != nil || ev.Type != TypeStreamCreated || ev.Stream != "a" {
		t.Fatalf("first frame = %+v, %v", ev, err)
	}

	if _, err := dec.Next(); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}

	if _, err := dec.Next(); !errors.Is(err, ErrEmptyType) {
		t.Fatalf("expected ErrEmptyType, got %v", err)
	}

	ev, err = dec.Next()
	if err != nil || !ev.IsQuit() {
		t.Fatalf("expected quit frame, got %+v, %v", ev, err)
	}

	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestEventKinds(t *testing.T) {
	for _, typ := range []string{TypeStreamCreated, TypeStreamMessage, TypeStreamClosed} {
		if !(Event{Type: typ}).IsLifecycle() {
			t.Errorf("%s should be lifecycle", typ)
		}
	}
	if (Event{Type: TypeWorkerQuit}).IsLifecycle() {
		t.Error("worker.quit is not a lifecycle event")
	}
	if (Event{Type: "job.done"}).IsQuit() {
		t.Error("job.done is not a quit event")
	}
}
