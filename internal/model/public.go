package model

// -----------------------------------------------------------------------------
// Tickers
// -----------------------------------------------------------------------------

// TradingPairTicker is a ticker update on a trading pair.
type TradingPairTicker struct {
	Bid                 float64
	BidSize             float64
	Ask                 float64
	AskSize             float64
	DailyChange         float64
	DailyChangeRelative float64
	LastPrice           float64
	Volume              float64
	High                float64
	Low                 float64
}

// FundingCurrencyTicker is a ticker update on a funding currency.
type FundingCurrencyTicker struct {
	FRR                 float64
	Bid                 float64
	BidPeriod           int
	BidSize             float64
	Ask                 float64
	AskPeriod           int
	AskSize             float64
	DailyChange         float64
	DailyChangeRelative float64
	LastPrice           float64
	Volume              float64
	High                float64
	Low                 float64
	FRRAmountAvailable  float64
}

// -----------------------------------------------------------------------------
// Trades
// -----------------------------------------------------------------------------

// TradingPairTrade is a public trade on a trading pair.
type TradingPairTrade struct {
	ID     int64
	MTS    int64
	Amount float64
	Price  float64
}

// FundingCurrencyTrade is a public trade on a funding currency.
type FundingCurrencyTrade struct {
	ID     int64
	MTS    int64
	Amount float64
	Rate   float64
	Period int
}

// -----------------------------------------------------------------------------
// Books
// -----------------------------------------------------------------------------

// TradingPairBook is an aggregated price level. Count 0 removes the level.
type TradingPairBook struct {
	Price  float64
	Count  int
	Amount float64
}

// FundingCurrencyBook is an aggregated rate level.
type FundingCurrencyBook struct {
	Rate   float64
	Period int
	Count  int
	Amount float64
}

// TradingPairRawBook is a single order. Price 0 removes the order.
type TradingPairRawBook struct {
	OrderID int64
	Price   float64
	Amount  float64
}

// FundingCurrencyRawBook is a single funding offer. Rate 0 removes the offer.
type FundingCurrencyRawBook struct {
	OfferID int64
	Period  int
	Rate    float64
	Amount  float64
}

// -----------------------------------------------------------------------------
// Candles and status
// -----------------------------------------------------------------------------

type Candle struct {
	MTS    int64
	Open   float64
	Close  float64
	High   float64
	Low    float64
	Volume float64
}

// DerivativesStatus is an update on a derivatives status key.
type DerivativesStatus struct {
	MTS                  int64
	DerivPrice           float64
	SpotPrice            float64
	InsuranceFundBalance float64
	NextFundingEvtMTS    int64
	NextFundingAccrued   float64
	NextFundingStep      int
	CurrentFunding       float64
	MarkPrice            float64
	OpenInterest         float64
	ClampMin             float64
	ClampMax             float64
}
