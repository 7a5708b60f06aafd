package router

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rickgao/bfx-stream/internal/model"
	"github.com/rickgao/bfx-stream/internal/wire"
)

// Public channel events.
const (
	EventTradingTickerUpdate      = "t_ticker_update"
	EventFundingTickerUpdate      = "f_ticker_update"
	EventTradingTradesSnapshot    = "t_trades_snapshot"
	EventFundingTradesSnapshot    = "f_trades_snapshot"
	EventTradingTradeExecution    = "t_trade_execution"
	EventTradingTradeExecutionUpd = "t_trade_execution_update"
	EventFundingTradeExecution    = "f_trade_execution"
	EventFundingTradeExecutionUpd = "f_trade_execution_update"
	EventTradingBookSnapshot      = "t_book_snapshot"
	EventFundingBookSnapshot      = "f_book_snapshot"
	EventTradingRawBookSnapshot   = "t_raw_book_snapshot"
	EventFundingRawBookSnapshot   = "f_raw_book_snapshot"
	EventTradingBookUpdate        = "t_book_update"
	EventFundingBookUpdate        = "f_book_update"
	EventTradingRawBookUpdate     = "t_raw_book_update"
	EventFundingRawBookUpdate     = "f_raw_book_update"
	EventCandlesSnapshot          = "candles_snapshot"
	EventCandlesUpdate            = "candles_update"
	EventDerivativesStatusUpdate  = "derivatives_status_update"
)

// PublicEvents lists every event PublicHandler can publish.
var PublicEvents = []string{
	EventTradingTickerUpdate, EventFundingTickerUpdate,
	EventTradingTradesSnapshot, EventFundingTradesSnapshot,
	EventTradingTradeExecution, EventTradingTradeExecutionUpd,
	EventFundingTradeExecution, EventFundingTradeExecutionUpd,
	EventTradingBookSnapshot, EventFundingBookSnapshot,
	EventTradingRawBookSnapshot, EventFundingRawBookSnapshot,
	EventTradingBookUpdate, EventFundingBookUpdate,
	EventTradingRawBookUpdate, EventFundingRawBookUpdate,
	EventCandlesSnapshot, EventCandlesUpdate,
	EventDerivativesStatusUpdate,
}

var tradeEvents = map[string]string{
	"te":  EventTradingTradeExecution,
	"tu":  EventTradingTradeExecutionUpd,
	"fte": EventFundingTradeExecution,
	"ftu": EventFundingTradeExecutionUpd,
}

// PublicHandler decodes frames of subscribed channels. Every event is
// published with the subscription as its first argument and the decoded
// record (or slice of records for snapshots) as its second.
type PublicHandler struct {
	bus    Emitter
	logger *slog.Logger
}

// NewPublicHandler creates a handler publishing on bus.
func NewPublicHandler(bus Emitter, logger *slog.Logger) *PublicHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &PublicHandler{
		bus:    bus,
		logger: logger,
	}
}

// Handle decodes one data frame of sub.
func (h *PublicHandler) Handle(sub model.Subscription, frame *wire.ChannelFrame) error {
	switch sub.Channel {
	case model.ChannelTicker:
		return h.ticker(sub, frame)
	case model.ChannelTrades:
		return h.trades(sub, frame)
	case model.ChannelBook:
		return h.book(sub, frame)
	case model.ChannelCandles:
		return h.candles(sub, frame)
	case model.ChannelStatus:
		return h.status(sub, frame)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownChannel, sub.Channel)
	}
}

func (h *PublicHandler) ticker(sub model.Subscription, frame *wire.ChannelFrame) error {
	payload := parse(frame.Payload)

	if sub.Funding() {
		rec, err := one(payload, minFundingTicker, fundingTicker)
		if err != nil {
			return fmt.Errorf("decode funding ticker: %w", err)
		}
		h.bus.Emit(EventFundingTickerUpdate, sub, rec)
		return nil
	}

	rec, err := one(payload, minTradingTicker, tradingTicker)
	if err != nil {
		return fmt.Errorf("decode trading ticker: %w", err)
	}
	h.bus.Emit(EventTradingTickerUpdate, sub, rec)
	return nil
}

func (h *PublicHandler) trades(sub model.Subscription, frame *wire.ChannelFrame) error {
	payload := parse(frame.Payload)

	if frame.Event == "" {
		if sub.Funding() {
			recs, err := list(payload, minFundingTrade, fundingTrade)
			if err != nil {
				return fmt.Errorf("decode funding trades: %w", err)
			}
			h.bus.Emit(EventFundingTradesSnapshot, sub, recs)
			return nil
		}

		recs, err := list(payload, minTradingTrade, tradingTrade)
		if err != nil {
			return fmt.Errorf("decode trading trades: %w", err)
		}
		h.bus.Emit(EventTradingTradesSnapshot, sub, recs)
		return nil
	}

	event, ok := tradeEvents[frame.Event]
	if !ok {
		h.logger.Debug("ignoring trades frame", "event", frame.Event, "chan_id", frame.ChanID)
		return nil
	}

	if strings.HasPrefix(frame.Event, "f") {
		rec, err := one(payload, minFundingTrade, fundingTrade)
		if err != nil {
			return fmt.Errorf("decode funding trade: %w", err)
		}
		h.bus.Emit(event, sub, rec)
		return nil
	}

	rec, err := one(payload, minTradingTrade, tradingTrade)
	if err != nil {
		return fmt.Errorf("decode trading trade: %w", err)
	}
	h.bus.Emit(event, sub, rec)
	return nil
}

func (h *PublicHandler) book(sub model.Subscription, frame *wire.ChannelFrame) error {
	// Checksums are not verified.
	if frame.Event == "cs" {
		return nil
	}

	payload := parse(frame.Payload)
	snapshot := isSnapshot(payload)

	var (
		event string
		rec   any
		err   error
	)

	switch {
	case sub.Funding() && sub.RawBook():
		event, rec, err = decodeBook(payload, snapshot, minFundingBook, fundingRawBook,
			EventFundingRawBookSnapshot, EventFundingRawBookUpdate)
	case sub.Funding():
		event, rec, err = decodeBook(payload, snapshot, minFundingBook, fundingBook,
			EventFundingBookSnapshot, EventFundingBookUpdate)
	case sub.RawBook():
		event, rec, err = decodeBook(payload, snapshot, minTradingBook, tradingRawBook,
			EventTradingRawBookSnapshot, EventTradingRawBookUpdate)
	default:
		event, rec, err = decodeBook(payload, snapshot, minTradingBook, tradingBook,
			EventTradingBookSnapshot, EventTradingBookUpdate)
	}
	if err != nil {
		return fmt.Errorf("decode book %s: %w", sub.Symbol(), err)
	}

	h.bus.Emit(event, sub, rec)
	return nil
}

func decodeBook[T any](payload gjson.Result, snapshot bool, min int, decode func(fields) T, snapEvent, updEvent string) (string, any, error) {
	if snapshot {
		recs, err := list(payload, min, decode)
		return snapEvent, recs, err
	}
	rec, err := one(payload, min, decode)
	return updEvent, rec, err
}

func (h *PublicHandler) candles(sub model.Subscription, frame *wire.ChannelFrame) error {
	payload := parse(frame.Payload)

	if isSnapshot(payload) {
		recs, err := list(payload, minCandle, candle)
		if err != nil {
			return fmt.Errorf("decode candles %s: %w", sub.Key(), err)
		}
		h.bus.Emit(EventCandlesSnapshot, sub, recs)
		return nil
	}

	rec, err := one(payload, minCandle, candle)
	if err != nil {
		return fmt.Errorf("decode candle %s: %w", sub.Key(), err)
	}
	h.bus.Emit(EventCandlesUpdate, sub, rec)
	return nil
}

func (h *PublicHandler) status(sub model.Subscription, frame *wire.ChannelFrame) error {
	if !strings.HasPrefix(sub.Key(), "deriv:") {
		h.logger.Debug("ignoring status frame", "key", sub.Key())
		return nil
	}

	rec, err := one(parse(frame.Payload), minDerivStatus, derivativesStatus)
	if err != nil {
		return fmt.Errorf("decode derivatives status %s: %w", sub.Key(), err)
	}
	h.bus.Emit(EventDerivativesStatusUpdate, sub, rec)
	return nil
}
