package model

import "strings"

// Channel kinds.
const (
	ChannelTicker  = "ticker"
	ChannelTrades  = "trades"
	ChannelBook    = "book"
	ChannelCandles = "candles"
	ChannelStatus  = "status"
)

// Subscription describes one channel subscription as seen by message
// handlers. Params holds the subscribe request parameters merged with the
// fields the server echoed back on acknowledgment.
type Subscription struct {
	SubID   string
	Channel string
	ChanID  int64
	Params  map[string]any
}

// Param returns the string parameter key, or "" if absent.
func (s Subscription) Param(key string) string {
	v, _ := s.Params[key].(string)
	return v
}

// Symbol returns the subscribed symbol (tBTCUSD, fUSD).
func (s Subscription) Symbol() string {
	return s.Param("symbol")
}

// Key returns the candles or status key (trade:1m:tBTCUSD, deriv:tBTCF0:USTF0).
func (s Subscription) Key() string {
	return s.Param("key")
}

// Funding reports whether the subscription targets a funding currency.
func (s Subscription) Funding() bool {
	return strings.HasPrefix(s.Symbol(), "f")
}

// RawBook reports whether a book subscription requested raw (R0) precision.
func (s Subscription) RawBook() bool {
	return s.Param("prec") == "R0"
}

// Clone returns a copy whose Params map can be mutated independently.
func (s Subscription) Clone() Subscription {
	c := s
	c.Params = make(map[string]any, len(s.Params))
	for k, v := range s.Params {
		c.Params[k] = v
	}
	return c
}
