// Package events implements the in-process event bus the stream client
// publishes to.
//
// Listeners are registered per event name and are either persistent or
// one-shot. Blocking listeners run inline on the publishing goroutine, in
// registration order. Detached listeners run on their own goroutine.
//
// A listener that returns an error or panics never unwinds the publisher:
// the failure is republished on the reserved "error" event as a
// *ListenerError. Failures of "error" listeners themselves are logged.
package events
