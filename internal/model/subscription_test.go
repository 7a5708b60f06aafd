package model

import "testing"

func TestSubscription_Helpers(t *testing.T) {
	tests := []struct {
		name    string
		sub     Subscription
		symbol  string
		funding bool
		raw     bool
	}{
		{
			name:   "trading book",
			sub:    Subscription{Channel: ChannelBook, Params: map[string]any{"symbol": "tBTCUSD", "prec": "P0"}},
			symbol: "tBTCUSD",
		},
		{
			name:    "funding raw book",
			sub:     Subscription{Channel: ChannelBook, Params: map[string]any{"symbol": "fUSD", "prec": "R0"}},
			symbol:  "fUSD",
			funding: true,
			raw:     true,
		},
		{
			name: "candles",
			sub:  Subscription{Channel: ChannelCandles, Params: map[string]any{"key": "trade:1m:tBTCUSD"}},
		},
		{
			name: "nil params",
			sub:  Subscription{Channel: ChannelTicker},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Symbol(); got != tt.symbol {
				t.Errorf("Symbol() = %q, want %q", got, tt.symbol)
			}
			if got := tt.sub.Funding(); got != tt.funding {
				t.Errorf("Funding() = %v, want %v", got, tt.funding)
			}
			if got := tt.sub.RawBook(); got != tt.raw {
				t.Errorf("RawBook() = %v, want %v", got, tt.raw)
			}
		})
	}
}

func TestSubscription_Clone(t *testing.T) {
	orig := Subscription{SubID: "a", Params: map[string]any{"symbol": "tBTCUSD"}}

	c := orig.Clone()
	c.Params["symbol"] = "tETHUSD"

	if orig.Symbol() != "tBTCUSD" {
		t.Errorf("Clone shares Params with original")
	}
	if c.SubID != "a" {
		t.Errorf("SubID = %q, want a", c.SubID)
	}
}
