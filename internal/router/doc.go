// Package router decodes channel payloads into model records and republishes
// them on the event bus.
//
// PublicHandler serves subscribed channels (ticker, trades, book, candles,
// status); AuthenticatedHandler serves the private channel 0 and maps the
// exchange's abbreviations (os, on, ou...) to event names.
package router
