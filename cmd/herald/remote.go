package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/herald/internal/api"
	"github.com/mattjoyce/herald/internal/tui/watch"
)

const remoteTimeout = 10 * time.Second

// remoteFlags are shared by every command that talks to a running manager.
type remoteFlags struct {
	config string
	url    string
	token  string
}

func (r *remoteFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.config, "config", "", "Config used to find the API address and key")
	fs.StringVar(&r.url, "api", "", "API base URL (default from config api.listen)")
	fs.StringVar(&r.token, "token", os.Getenv("HERALD_TOKEN"), "Bearer token (default $HERALD_TOKEN, then api.auth.api_key)")
}

// client fills the URL and token from the config when flags leave them empty.
func (r *remoteFlags) client() (api.Client, error) {
	c := api.Client{URL: strings.TrimRight(r.url, "/"), APIKey: r.token}
	if c.URL != "" && c.APIKey != "" {
		return c, nil
	}
	cfg, err := loadConfig(r.config)
	if err != nil {
		if c.URL != "" {
			return c, nil
		}
		return c, fmt.Errorf("no --api given and %w", err)
	}
	if c.URL == "" {
		c.URL = "http://" + cfg.API.Listen
	}
	if c.APIKey == "" {
		c.APIKey = cfg.API.Auth.APIKey
	}
	return c, nil
}

func remoteClient(rf *remoteFlags) (api.Client, bool) {
	c, err := rf.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return c, false
	}
	return c, true
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	var rf remoteFlags
	rf.register(fs)
	jsonOut := fs.Bool("json", false, "Output JSON")
	if fs.Parse(args) != nil {
		return 1
	}
	c, ok := remoteClient(&rf)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	h, err := c.Health(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "herald unreachable at %s: %v\n", c.URL, err)
		return 1
	}
	if *jsonOut {
		printJSON(h)
		return 0
	}
	fmt.Printf("status:     %s\n", h.Status)
	fmt.Printf("uptime:     %s\n", (time.Duration(h.UptimeSeconds) * time.Second).String())
	fmt.Printf("queue:      %d\n", h.QueueDepth)
	for prio, n := range h.QueueByClass {
		fmt.Printf("  priority %d: %d\n", prio, n)
	}
	fmt.Printf("workers:    %d\n", h.Workers)
	fmt.Printf("watching:   %d channels\n", h.WatchSize)
	fmt.Printf("dispatched: %d resolved, %d failed, %d panicked\n", h.Dispatch.Resolved, h.Dispatch.Failed, h.Dispatch.Panicked)
	return 0
}

func runSubmit(args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	var rf remoteFlags
	rf.register(fs)
	payload := fs.String("payload", "", "JSON object payload")
	stream := fs.String("stream", "", "Stream id")
	if fs.Parse(args) != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: herald submit <event-type> [--payload JSON] [--stream ID]")
		return 1
	}

	req := api.SubmitRequest{Type: fs.Arg(0), Stream: *stream}
	if *payload != "" {
		if err := json.Unmarshal([]byte(*payload), &req.Payload); err != nil {
			fmt.Fprintf(os.Stderr, "--payload must be a JSON object: %v\n", err)
			return 1
		}
	}

	c, ok := remoteClient(&rf)
	if !ok {
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	resp, err := c.Submit(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Submit failed: %v\n", err)
		return 1
	}
	fmt.Printf("accepted %s (%s)\n", resp.EventID, resp.Type)
	return 0
}

func runWorkerPS(args []string) int {
	fs := flag.NewFlagSet("ps", flag.ContinueOnError)
	var rf remoteFlags
	rf.register(fs)
	if fs.Parse(args) != nil {
		return 1
	}
	c, ok := remoteClient(&rf)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	workers, err := c.Workers(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tPID\tSTARTED")
	for _, w := range workers {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", w.Key, w.Name, w.PID, w.StartedAt.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
	return 0
}

func runWorkerStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	var rf remoteFlags
	rf.register(fs)
	eventType := fs.String("type", "", "Triggering event type (default "+api.DefaultStartEventType+")")
	payload := fs.String("payload", "", "JSON object payload of the triggering event")
	if fs.Parse(args) != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: herald worker start <name> [--type T] [--payload JSON]")
		return 1
	}

	req := api.StartWorkerRequest{Type: *eventType}
	if *payload != "" {
		if err := json.Unmarshal([]byte(*payload), &req.Payload); err != nil {
			fmt.Fprintf(os.Stderr, "--payload must be a JSON object: %v\n", err)
			return 1
		}
	}

	c, ok := remoteClient(&rf)
	if !ok {
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	w, err := c.StartWorker(ctx, fs.Arg(0), req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Start failed: %v\n", err)
		return 1
	}
	fmt.Printf("started %s key=%s pid=%d\n", w.Name, w.Key, w.PID)
	return 0
}

func runWorkerStop(args []string) int {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	var rf remoteFlags
	rf.register(fs)
	if fs.Parse(args) != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: herald worker stop <key>")
		return 1
	}
	c, ok := remoteClient(&rf)
	if !ok {
		return 1
	}

	// Stop waits out the grace period before SIGKILL.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	c.HTTP = &http.Client{Timeout: time.Minute}
	if err := c.StopWorker(ctx, fs.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Stop failed: %v\n", err)
		return 1
	}
	fmt.Printf("stopped %s\n", fs.Arg(0))
	return 0
}

func runJournal(args []string) int {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	var rf remoteFlags
	rf.register(fs)
	limit := fs.Int("limit", 20, "Number of entries")
	jsonOut := fs.Bool("json", false, "Output JSON")
	if fs.Parse(args) != nil {
		return 1
	}
	c, ok := remoteClient(&rf)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	entries, err := c.Journal(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(entries)
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPLETED\tSTATUS\tTYPE\tPRIO\tSEQ\tDURATION\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			e.CompletedAt.Local().Format(time.DateTime), e.Status, e.EventType,
			e.Priority, e.Sequence, e.Duration, e.Error)
	}
	_ = tw.Flush()
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	var rf remoteFlags
	rf.register(fs)
	if fs.Parse(args) != nil {
		return 1
	}
	c, ok := remoteClient(&rf)
	if !ok {
		return 1
	}
	if err := watch.Run(c.URL, c.APIKey); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
