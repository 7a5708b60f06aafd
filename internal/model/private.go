package model

import "encoding/json"

// Order is an order on the authenticated channel.
type Order struct {
	ID            int64
	GID           int64
	CID           int64
	Symbol        string
	MTSCreate     int64
	MTSUpdate     int64
	Amount        float64
	AmountOrig    float64
	OrderType     string
	TypePrev      string
	MTSTIF        int64
	Flags         int
	OrderStatus   string
	Price         float64
	PriceAvg      float64
	PriceTrailing float64
	PriceAuxLimit float64
	Notify        bool
	Hidden        bool
	PlacedID      int64
	Routing       string
	Meta          json.RawMessage
}

// Position is a margin position.
type Position struct {
	Symbol            string
	Status            string
	Amount            float64
	BasePrice         float64
	MarginFunding     float64
	MarginFundingType int
	PL                float64
	PLPerc            float64
	PriceLiq          float64
	Leverage          float64
	PositionID        int64
	MTSCreate         int64
	MTSUpdate         int64
	Type              int
	Collateral        float64
	CollateralMin     float64
	Meta              json.RawMessage
}

// FundingOffer is an offer to lend funds.
type FundingOffer struct {
	ID          int64
	Symbol      string
	MTSCreate   int64
	MTSUpdate   int64
	Amount      float64
	AmountOrig  float64
	OfferType   string
	Flags       int
	OfferStatus string
	Rate        float64
	Period      int
	Notify      bool
	Hidden      bool
	Renew       bool
}

// FundingCredit is funds lent and used in a position.
type FundingCredit struct {
	ID            int64
	Symbol        string
	Side          int
	MTSCreate     int64
	MTSUpdate     int64
	Amount        float64
	Flags         int
	Status        string
	Rate          float64
	Period        int
	MTSOpening    int64
	MTSLastPayout int64
	Notify        bool
	Hidden        bool
	Renew         bool
	NoClose       bool
	PositionPair  string
}

// FundingLoan is funds lent and not yet used.
type FundingLoan struct {
	ID            int64
	Symbol        string
	Side          int
	MTSCreate     int64
	MTSUpdate     int64
	Amount        float64
	Flags         int
	Status        string
	Rate          float64
	Period        int
	MTSOpening    int64
	MTSLastPayout int64
	Notify        bool
	Hidden        bool
	Renew         bool
	NoClose       bool
}

type Wallet struct {
	WalletType        string
	Currency          string
	Balance           float64
	UnsettledInterest float64
	AvailableBalance  float64
	LastChange        string
	TradeDetails      json.RawMessage
}

// Trade is an execution of one of the account's orders.
type Trade struct {
	ID          int64
	Symbol      string
	MTSCreate   int64
	OrderID     int64
	ExecAmount  float64
	ExecPrice   float64
	OrderType   string
	OrderPrice  float64
	Maker       bool
	Fee         float64
	FeeCurrency string
	CID         int64
}

// BalanceInfo is the account's total and net assets under management.
type BalanceInfo struct {
	AUM    float64
	AUMNet float64
}

// Notification is a server reply to a request on the authenticated channel.
// Data carries the affected record, if the notification type has one.
type Notification[T any] struct {
	MTS       int64
	Type      string
	MessageID int64
	Data      T
	Code      int
	Status    string // SUCCESS, ERROR, FAILURE...
	Text      string
}
