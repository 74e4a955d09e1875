// Package dispatch is the single serialization point between the serial
// transport and the rest of the coordinator.
//
// A Dispatcher owns an inbound and an outbound FIFO queue and one worker
// goroutine. Each worker iteration handles at most one inbound and one
// outbound message, then re-blocks on a one-slot signal channel when both
// queues are empty.
//
// # Correlation
//
// SendAndWait registers a pending exchange (a Filter plus a one-shot wake
// channel and a match buffer) strictly before the request is queued, so a
// fast reply can never overtake registration. Every inbound message is tested
// against every registered filter; one message may satisfy many exchanges.
// A timeout is a normal false result, not an error. Retry policy belongs to
// the caller.
//
// # Lifecycle
//
//	New → Start → (Running) → Stop → (Stopped) → Start ...
//
// Stop is cooperative: it sets the stopping flag, wakes the worker and
// waits for it to exit. Messages still queued stay queued until the next
// Start.
package dispatch
