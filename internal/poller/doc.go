// Package poller implements the platform status poller.
//
// The poller:
//   - Polls /platform/status on a fixed interval (default: 1m)
//   - Reports operative/maintenance transitions to a handler
//   - Keeps the last known status for the health endpoint
//
// A maintenance window is usually followed by an info 20051 restart notice
// on the websocket; the poller makes the window visible before sockets drop.
package poller
