// Package relay republishes bus events to Redis pub/sub.
//
// Each configured event is encoded as JSON and published to the channel
// <prefix><event>. Publishing runs on its own goroutine behind a bounded
// queue, so a slow or unreachable Redis never stalls the frame loop.
// Delivery is at most once; nothing is replayed after a reconnect.
package relay
