// Command echo-worker is a minimal herald worker. It reads its triggering
// event from stdin, opens one stream, echoes every payload field on it as a
// stream.message, closes the stream, emits echo.done and quits.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"

	"github.com/mattjoyce/herald/internal/protocol"
)

func main() {
	if err := run(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "echo-worker:", err)
		os.Exit(1)
	}
}

func run(in io.Reader, out io.Writer) error {
	trigger, err := protocol.NewDecoder(in).Next()
	if errors.Is(err, io.EOF) {
		return emit(out, protocol.Event{Type: protocol.TypeWorkerQuit, Payload: map[string]any{"reason": "no trigger"}})
	}
	if err != nil {
		return fmt.Errorf("read trigger: %w", err)
	}

	for _, ev := range reply(trigger, uuid.NewString()) {
		if err := emit(out, ev); err != nil {
			return err
		}
	}
	return nil
}

// reply builds the full response to trigger on stream id.
func reply(trigger protocol.Event, stream string) []protocol.Event {
	out := []protocol.Event{{Type: protocol.TypeStreamCreated, Stream: stream}}

	keys := make([]string, 0, len(trigger.Payload))
	for k := range trigger.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, protocol.Event{
			Type:    protocol.TypeStreamMessage,
			Stream:  stream,
			Payload: map[string]any{"key": k, "value": trigger.Payload[k]},
		})
	}

	return append(out,
		protocol.Event{Type: protocol.TypeStreamClosed, Stream: stream},
		protocol.Event{Type: "echo.done", Payload: map[string]any{
			"trigger_id":   trigger.EventID,
			"trigger_type": trigger.Type,
			"fields":       len(keys),
		}},
		protocol.Event{Type: protocol.TypeWorkerQuit},
	)
}

func emit(w io.Writer, ev protocol.Event) error {
	return protocol.EncodeEvent(w, ev)
}
