// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Open websocket connections per role (bucket, private)
//   - Frames received by kind
//   - Reconnection attempts, episodes and downtime
//   - Fatal exits by reason
//   - Listener failures and relay/journal queue drops
package metrics
