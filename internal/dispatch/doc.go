// Package dispatch drains the priority queue into a Resolver.
//
// A Dispatcher runs a fixed pool of loops. Each loop blocks on queue.Pop,
// hands the event to the Resolver and reports the outcome:
//   - nil error → resolved
//   - error → failed, logged, loop continues
//   - panic → recovered, logged with stack, reported as panicked
//
// Outcomes are published to the events hub and, when a Recorder is set,
// written to the journal. Loops exit when their context is cancelled or the
// queue is closed and empty.
//
// With more than one loop, two events may be resolved concurrently; each loop
// still takes the minimum item available at the time it pops.
package dispatch
