// Package plugin discovers worker definitions.
//
// A worker is any executable that speaks the newline-delimited JSON event
// protocol over stdin/stdout. Each lives in its own directory next to a
// manifest.yaml:
//
//	name: summarizer
//	version: 0.2.0
//	protocol: 1
//	entrypoint: run.sh
//	handles: [report.requested]
//	emits: [report.ready]
//
// handles lists the router event types the worker is started for; emits
// lists the types it may send back for re-routing. Both feed the start-up
// priority check.
package plugin
