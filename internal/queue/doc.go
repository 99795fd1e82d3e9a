// Package queue implements the in-memory priority event queue drained by the
// dispatch workers.
//
// Ordering: item A leaves before item B iff A.Priority < B.Priority, or the
// priorities are equal and A was pushed first. Lower numbers mean more urgent;
// classifiers must assign priorities with that convention in mind.
//
// Nothing here is persisted. Queued events are lost on restart.
package queue
