// Package connection implements the websocket client core.
//
// The Manager:
//   - Owns a fixed pool of Buckets plus one private connection
//   - Places subscriptions on the least-loaded Bucket
//   - Authenticates the private connection and routes channel 0 frames
//   - Reconnects the private connection with exponential backoff, failing
//     fatally once the reconnection timeout budget is spent
//
// Each Bucket owns one socket, multiplexes channel subscriptions over it and
// reconnects on its own, replaying its subscriptions on every open.
package connection
