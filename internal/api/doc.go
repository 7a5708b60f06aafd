// Package api provides the Bitfinex public REST client used alongside the
// websocket connections.
//
// REST endpoint:
//   - https://api.bitfinex.com/v2
//
// Only the platform status endpoint is used: the streamer checks it before
// opening sockets so that a maintenance window is reported up front instead
// of as a stream of failed connection attempts.
package api
