package router

import "github.com/rickgao/bfx-stream/internal/model"

// Minimum field counts per record kind.
const (
	minTradingTicker = 10
	minFundingTicker = 13
	minTradingTrade  = 4
	minFundingTrade  = 5
	minTradingBook   = 3
	minFundingBook   = 4
	minCandle        = 6
	minDerivStatus   = 15
	minOrder         = 18
	minPosition      = 10
	minFundingOffer  = 16
	minFundingCredit = 13
	minWallet        = 5
	minTrade         = 11
	minBalance       = 2
	minNotification  = 8
)

func tradingTicker(f fields) model.TradingPairTicker {
	return model.TradingPairTicker{
		Bid:                 f.float(0),
		BidSize:             f.float(1),
		Ask:                 f.float(2),
		AskSize:             f.float(3),
		DailyChange:         f.float(4),
		DailyChangeRelative: f.float(5),
		LastPrice:           f.float(6),
		Volume:              f.float(7),
		High:                f.float(8),
		Low:                 f.float(9),
	}
}

func fundingTicker(f fields) model.FundingCurrencyTicker {
	return model.FundingCurrencyTicker{
		FRR:                 f.float(0),
		Bid:                 f.float(1),
		BidPeriod:           f.num(2),
		BidSize:             f.float(3),
		Ask:                 f.float(4),
		AskPeriod:           f.num(5),
		AskSize:             f.float(6),
		DailyChange:         f.float(7),
		DailyChangeRelative: f.float(8),
		LastPrice:           f.float(9),
		Volume:              f.float(10),
		High:                f.float(11),
		Low:                 f.float(12),
		FRRAmountAvailable:  f.float(15),
	}
}

func tradingTrade(f fields) model.TradingPairTrade {
	return model.TradingPairTrade{ID: f.i64(0), MTS: f.i64(1), Amount: f.float(2), Price: f.float(3)}
}

func fundingTrade(f fields) model.FundingCurrencyTrade {
	return model.FundingCurrencyTrade{ID: f.i64(0), MTS: f.i64(1), Amount: f.float(2), Rate: f.float(3), Period: f.num(4)}
}

func tradingBook(f fields) model.TradingPairBook {
	return model.TradingPairBook{Price: f.float(0), Count: f.num(1), Amount: f.float(2)}
}

func fundingBook(f fields) model.FundingCurrencyBook {
	return model.FundingCurrencyBook{Rate: f.float(0), Period: f.num(1), Count: f.num(2), Amount: f.float(3)}
}

func tradingRawBook(f fields) model.TradingPairRawBook {
	return model.TradingPairRawBook{OrderID: f.i64(0), Price: f.float(1), Amount: f.float(2)}
}

func fundingRawBook(f fields) model.FundingCurrencyRawBook {
	return model.FundingCurrencyRawBook{OfferID: f.i64(0), Period: f.num(1), Rate: f.float(2), Amount: f.float(3)}
}

func candle(f fields) model.Candle {
	return model.Candle{
		MTS:    f.i64(0),
		Open:   f.float(1),
		Close:  f.float(2),
		High:   f.float(3),
		Low:    f.float(4),
		Volume: f.float(5),
	}
}

func derivativesStatus(f fields) model.DerivativesStatus {
	return model.DerivativesStatus{
		MTS:                  f.i64(0),
		DerivPrice:           f.float(2),
		SpotPrice:            f.float(3),
		InsuranceFundBalance: f.float(5),
		NextFundingEvtMTS:    f.i64(7),
		NextFundingAccrued:   f.float(8),
		NextFundingStep:      f.num(9),
		CurrentFunding:       f.float(11),
		MarkPrice:            f.float(14),
		OpenInterest:         f.float(17),
		ClampMin:             f.float(21),
		ClampMax:             f.float(22),
	}
}

func order(f fields) model.Order {
	return model.Order{
		ID:            f.i64(0),
		GID:           f.i64(1),
		CID:           f.i64(2),
		Symbol:        f.str(3),
		MTSCreate:     f.i64(4),
		MTSUpdate:     f.i64(5),
		Amount:        f.float(6),
		AmountOrig:    f.float(7),
		OrderType:     f.str(8),
		TypePrev:      f.str(9),
		MTSTIF:        f.i64(10),
		Flags:         f.num(12),
		OrderStatus:   f.str(13),
		Price:         f.float(16),
		PriceAvg:      f.float(17),
		PriceTrailing: f.float(18),
		PriceAuxLimit: f.float(19),
		Notify:        f.flag(23),
		Hidden:        f.flag(24),
		PlacedID:      f.i64(25),
		Routing:       f.str(28),
		Meta:          f.raw(31),
	}
}

func position(f fields) model.Position {
	return model.Position{
		Symbol:            f.str(0),
		Status:            f.str(1),
		Amount:            f.float(2),
		BasePrice:         f.float(3),
		MarginFunding:     f.float(4),
		MarginFundingType: f.num(5),
		PL:                f.float(6),
		PLPerc:            f.float(7),
		PriceLiq:          f.float(8),
		Leverage:          f.float(9),
		PositionID:        f.i64(11),
		MTSCreate:         f.i64(12),
		MTSUpdate:         f.i64(13),
		Type:              f.num(15),
		Collateral:        f.float(17),
		CollateralMin:     f.float(18),
		Meta:              f.raw(19),
	}
}

func fundingOffer(f fields) model.FundingOffer {
	return model.FundingOffer{
		ID:          f.i64(0),
		Symbol:      f.str(1),
		MTSCreate:   f.i64(2),
		MTSUpdate:   f.i64(3),
		Amount:      f.float(4),
		AmountOrig:  f.float(5),
		OfferType:   f.str(6),
		Flags:       f.num(9),
		OfferStatus: f.str(10),
		Rate:        f.float(14),
		Period:      f.num(15),
		Notify:      f.flag(16),
		Hidden:      f.flag(17),
		Renew:       f.flag(19),
	}
}

func fundingCredit(f fields) model.FundingCredit {
	return model.FundingCredit{
		ID:            f.i64(0),
		Symbol:        f.str(1),
		Side:          f.num(2),
		MTSCreate:     f.i64(3),
		MTSUpdate:     f.i64(4),
		Amount:        f.float(5),
		Flags:         f.num(6),
		Status:        f.str(7),
		Rate:          f.float(11),
		Period:        f.num(12),
		MTSOpening:    f.i64(13),
		MTSLastPayout: f.i64(14),
		Notify:        f.flag(15),
		Hidden:        f.flag(16),
		Renew:         f.flag(18),
		NoClose:       f.flag(20),
		PositionPair:  f.str(21),
	}
}

func fundingLoan(f fields) model.FundingLoan {
	c := fundingCredit(f)
	return model.FundingLoan{
		ID:            c.ID,
		Symbol:        c.Symbol,
		Side:          c.Side,
		MTSCreate:     c.MTSCreate,
		MTSUpdate:     c.MTSUpdate,
		Amount:        c.Amount,
		Flags:         c.Flags,
		Status:        c.Status,
		Rate:          c.Rate,
		Period:        c.Period,
		MTSOpening:    c.MTSOpening,
		MTSLastPayout: c.MTSLastPayout,
		Notify:        c.Notify,
		Hidden:        c.Hidden,
		Renew:         c.Renew,
		NoClose:       c.NoClose,
	}
}

func wallet(f fields) model.Wallet {
	return model.Wallet{
		WalletType:        f.str(0),
		Currency:          f.str(1),
		Balance:           f.float(2),
		UnsettledInterest: f.float(3),
		AvailableBalance:  f.float(4),
		LastChange:        f.str(5),
		TradeDetails:      f.raw(6),
	}
}

func trade(f fields) model.Trade {
	return model.Trade{
		ID:          f.i64(0),
		Symbol:      f.str(1),
		MTSCreate:   f.i64(2),
		OrderID:     f.i64(3),
		ExecAmount:  f.float(4),
		ExecPrice:   f.float(5),
		OrderType:   f.str(6),
		OrderPrice:  f.float(7),
		Maker:       f.flag(8),
		Fee:         f.float(9),
		FeeCurrency: f.str(10),
		CID:         f.i64(11),
	}
}

func balanceInfo(f fields) model.BalanceInfo {
	return model.BalanceInfo{AUM: f.float(0), AUMNet: f.float(1)}
}
