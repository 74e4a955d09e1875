// Package logsink mirrors every message the dispatcher sends or receives to
// a remote UDP listener as a CBOR record.
//
// Delivery is fire-and-forget. Records are queued on a bounded channel and
// written by one goroutine; a full queue drops the record rather than slow
// the dispatcher down. Each process stamps its records with a random session
// ID so a listener can separate restarts.
package logsink
