package router

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/rickgao/bfx-stream/internal/model"
	"github.com/rickgao/bfx-stream/internal/wire"
)

// Authenticated channel events.
const (
	EventOrderSnapshot         = "order_snapshot"
	EventOrderNew              = "order_new"
	EventOrderUpdate           = "order_update"
	EventOrderCancel           = "order_cancel"
	EventPositionSnapshot      = "position_snapshot"
	EventPositionNew           = "position_new"
	EventPositionUpdate        = "position_update"
	EventPositionClose         = "position_close"
	EventFundingOfferSnapshot  = "funding_offer_snapshot"
	EventFundingOfferNew       = "funding_offer_new"
	EventFundingOfferUpdate    = "funding_offer_update"
	EventFundingOfferCancel    = "funding_offer_cancel"
	EventFundingCreditSnapshot = "funding_credit_snapshot"
	EventFundingCreditNew      = "funding_credit_new"
	EventFundingCreditUpdate   = "funding_credit_update"
	EventFundingCreditClose    = "funding_credit_close"
	EventFundingLoanSnapshot   = "funding_loan_snapshot"
	EventFundingLoanNew        = "funding_loan_new"
	EventFundingLoanUpdate     = "funding_loan_update"
	EventFundingLoanClose      = "funding_loan_close"
	EventWalletSnapshot        = "wallet_snapshot"
	EventWalletUpdate          = "wallet_update"
	EventTradeExecution        = "trade_execution"
	EventTradeExecutionUpdate  = "trade_execution_update"
	EventBalanceUpdate         = "balance_update"
	EventNotification          = "notification"
)

// Notification events, published for replies to the matching requests.
const (
	EventOrderNewNotification           = "on-req-notification"
	EventOrderUpdateNotification        = "ou-req-notification"
	EventOrderCancelNotification        = "oc-req-notification"
	EventFundingOfferNewNotification    = "fon-req-notification"
	EventFundingOfferCancelNotification = "foc-req-notification"
)

type decodeFunc func(payload gjson.Result) (any, error)

type abbreviation struct {
	event  string
	decode decodeFunc
}

func single[T any](min int, decode func(fields) T) decodeFunc {
	return func(payload gjson.Result) (any, error) {
		return one(payload, min, decode)
	}
}

func snapshot[T any](min int, decode func(fields) T) decodeFunc {
	return func(payload gjson.Result) (any, error) {
		return list(payload, min, decode)
	}
}

var abbreviations = map[string]abbreviation{
	"os":  {EventOrderSnapshot, snapshot(minOrder, order)},
	"on":  {EventOrderNew, single(minOrder, order)},
	"ou":  {EventOrderUpdate, single(minOrder, order)},
	"oc":  {EventOrderCancel, single(minOrder, order)},
	"ps":  {EventPositionSnapshot, snapshot(minPosition, position)},
	"pn":  {EventPositionNew, single(minPosition, position)},
	"pu":  {EventPositionUpdate, single(minPosition, position)},
	"pc":  {EventPositionClose, single(minPosition, position)},
	"fos": {EventFundingOfferSnapshot, snapshot(minFundingOffer, fundingOffer)},
	"fon": {EventFundingOfferNew, single(minFundingOffer, fundingOffer)},
	"fou": {EventFundingOfferUpdate, single(minFundingOffer, fundingOffer)},
	"foc": {EventFundingOfferCancel, single(minFundingOffer, fundingOffer)},
	"fcs": {EventFundingCreditSnapshot, snapshot(minFundingCredit, fundingCredit)},
	"fcn": {EventFundingCreditNew, single(minFundingCredit, fundingCredit)},
	"fcu": {EventFundingCreditUpdate, single(minFundingCredit, fundingCredit)},
	"fcc": {EventFundingCreditClose, single(minFundingCredit, fundingCredit)},
	"fls": {EventFundingLoanSnapshot, snapshot(minFundingCredit, fundingLoan)},
	"fln": {EventFundingLoanNew, single(minFundingCredit, fundingLoan)},
	"flu": {EventFundingLoanUpdate, single(minFundingCredit, fundingLoan)},
	"flc": {EventFundingLoanClose, single(minFundingCredit, fundingLoan)},
	"ws":  {EventWalletSnapshot, snapshot(minWallet, wallet)},
	"wu":  {EventWalletUpdate, single(minWallet, wallet)},
	"te":  {EventTradeExecution, single(minTrade, trade)},
	"tu":  {EventTradeExecutionUpdate, single(minTrade, trade)},
	"bu":  {EventBalanceUpdate, single(minBalance, balanceInfo)},
}

var notifications = map[string]abbreviation{
	"on-req":  {EventOrderNewNotification, notification(minOrder, order)},
	"ou-req":  {EventOrderUpdateNotification, notification(minOrder, order)},
	"oc-req":  {EventOrderCancelNotification, notification(minOrder, order)},
	"fon-req": {EventFundingOfferNewNotification, notification(minFundingOffer, fundingOffer)},
	"foc-req": {EventFundingOfferCancelNotification, notification(minFundingOffer, fundingOffer)},
}

// AuthenticatedEvents lists every event AuthenticatedHandler can publish.
var AuthenticatedEvents = []string{
	EventOrderSnapshot, EventOrderNew, EventOrderUpdate, EventOrderCancel,
	EventPositionSnapshot, EventPositionNew, EventPositionUpdate, EventPositionClose,
	EventFundingOfferSnapshot, EventFundingOfferNew, EventFundingOfferUpdate, EventFundingOfferCancel,
	EventFundingCreditSnapshot, EventFundingCreditNew, EventFundingCreditUpdate, EventFundingCreditClose,
	EventFundingLoanSnapshot, EventFundingLoanNew, EventFundingLoanUpdate, EventFundingLoanClose,
	EventWalletSnapshot, EventWalletUpdate,
	EventTradeExecution, EventTradeExecutionUpdate,
	EventBalanceUpdate,
	EventNotification,
	EventOrderNewNotification, EventOrderUpdateNotification, EventOrderCancelNotification,
	EventFundingOfferNewNotification, EventFundingOfferCancelNotification,
}

// OnceEvents are sent once per authenticated session.
var OnceEvents = []string{
	EventOrderSnapshot,
	EventPositionSnapshot,
	EventFundingOfferSnapshot,
	EventFundingCreditSnapshot,
	EventFundingLoanSnapshot,
	EventWalletSnapshot,
}

// AuthenticatedHandler decodes frames of the private channel and publishes
// the decoded record as the only event argument.
type AuthenticatedHandler struct {
	bus    Emitter
	logger *slog.Logger
}

// NewAuthenticatedHandler creates a handler publishing on bus.
func NewAuthenticatedHandler(bus Emitter, logger *slog.Logger) *AuthenticatedHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &AuthenticatedHandler{
		bus:    bus,
		logger: logger,
	}
}

// Handle decodes one private channel frame.
func (h *AuthenticatedHandler) Handle(frame *wire.ChannelFrame) error {
	payload := parse(frame.Payload)

	if frame.Event == "n" {
		return h.notification(payload)
	}

	abbr, ok := abbreviations[frame.Event]
	if !ok {
		h.logger.Debug("ignoring private frame", "event", frame.Event)
		return nil
	}

	rec, err := abbr.decode(payload)
	if err != nil {
		return fmt.Errorf("decode %s: %w", frame.Event, err)
	}

	h.bus.Emit(abbr.event, rec)
	return nil
}

func (h *AuthenticatedHandler) notification(payload gjson.Result) error {
	kind := payload.Get("1").String()

	if abbr, ok := notifications[kind]; ok {
		rec, err := abbr.decode(payload)
		if err != nil {
			return fmt.Errorf("decode %s notification: %w", kind, err)
		}
		h.bus.Emit(abbr.event, rec)
		return nil
	}

	rec, err := one(payload, minNotification, func(f fields) model.Notification[json.RawMessage] {
		return notificationOf(f, f.raw(4))
	})
	if err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	h.bus.Emit(EventNotification, rec)
	return nil
}

// notification decodes a notification whose data field holds a record. The
// data is left zero when the request failed and the server sent none.
func notification[T any](min int, decode func(fields) T) decodeFunc {
	return func(payload gjson.Result) (any, error) {
		return one(payload, minNotification, func(f fields) model.Notification[T] {
			var data T
			if d := f.at(4); d.IsArray() && len(d.Array()) >= min {
				data = decode(fields(d.Array()))
			}
			return notificationOf(f, data)
		})
	}
}

func notificationOf[T any](f fields, data T) model.Notification[T] {
	return model.Notification[T]{
		MTS:       f.i64(0),
		Type:      f.str(1),
		MessageID: f.i64(2),
		Data:      data,
		Code:      f.num(5),
		Status:    f.str(6),
		Text:      f.str(7),
	}
}
