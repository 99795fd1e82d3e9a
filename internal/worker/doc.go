// Package worker is the supervision layer under the dispatch manager.
//
// A worker is an OS process reached through a Channel: newline-delimited JSON
// events in both directions over the process's stdin and stdout. The
// Supervisor starts catalog workers in their own process group, hands the
// triggering event over as the first frame and reaps the process when it
// exits, at which point the channel's inbox closes.
//
// Termination follows SIGTERM, a grace period, then SIGKILL to the whole
// process group. Stderr is kept (capped at 64KB) and logged on non-zero exit.
//
// NewPipe provides the same Channel contract in-process, for tests and for
// embedders that run workers as goroutines.
package worker
