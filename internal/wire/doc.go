// Package wire decodes inbound exchange frames into a closed set of frame
// variants and encodes the outbound control frames.
//
// Inbound frames are either objects discriminated by their "event" field
// (info, auth, error, subscribed, unsubscribed) or arrays addressed by a
// channel id ([chanId, payload] or [chanId, event, payload]). Decode parses a
// frame once at the boundary; callers switch on the concrete type.
package wire
