// Package journal persists transitions of the private connection (opened,
// lost, reconnect attempts, reconnected, terminated) to the
// connection_events table.
//
// Records are queued without blocking the connection goroutine and written
// in batches, either when BatchSize records are pending or on every
// FlushInterval. Market data is never persisted.
package journal
