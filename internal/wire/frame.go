package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ProtocolVersion is the websocket API version this client speaks.
const ProtocolVersion = 2

// PrivateChannelID addresses the authenticated channel.
const PrivateChannelID = 0

// HeartbeatPayload is the reserved payload of heartbeat frames.
const HeartbeatPayload = "hb"

// CodeServerRestart is the info code the exchange sends before restarting
// its websocket servers.
const CodeServerRestart = 20051

// Auth status values.
const (
	AuthStatusOK     = "OK"
	AuthStatusFailed = "FAILED"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one decoded inbound frame.
type Frame interface {
	frame()
}

// InfoFrame carries the server's protocol version on connect, or an
// informational code such as CodeServerRestart.
type InfoFrame struct {
	Version    int
	HasVersion bool
	Code       int
	Msg        string
	Platform   int // 1 = operative, 0 = maintenance; -1 when absent
}

// AuthFrame is the result of an auth request.
type AuthFrame struct {
	Status string
	ChanID int64
	UserID int64
	AuthID string
	Code   int
	Msg    string
	Caps   json.RawMessage
}

// OK reports whether authentication succeeded.
func (f *AuthFrame) OK() bool {
	return f.Status == AuthStatusOK
}

// ErrorFrame reports a request the exchange refused.
type ErrorFrame struct {
	Code    int
	Msg     string
	SubID   string // set when the failed request was a subscribe
	Channel string
}

// SubscribedFrame acknowledges a subscribe request.
type SubscribedFrame struct {
	Channel string
	ChanID  int64
	SubID   string
	Fields  map[string]any // remaining fields echoed by the server (symbol, prec, key...)
}

// UnsubscribedFrame acknowledges an unsubscribe request.
type UnsubscribedFrame struct {
	ChanID int64
	Status string
}

// EventFrame is an object frame with an event this package does not model
// (conf, pong...).
type EventFrame struct {
	Event string
	Raw   json.RawMessage
}

// HeartbeatFrame is a keepalive on a channel. It must never reach handlers.
type HeartbeatFrame struct {
	ChanID int64
}

// ChannelFrame carries data for a subscribed channel or the private channel.
// Event is set when the second element is a string ("te", "os", "n"...);
// Payload is the element holding the data.
type ChannelFrame struct {
	ChanID  int64
	Event   string
	Payload json.RawMessage
}

// Private reports whether the frame is addressed to the authenticated channel.
func (f *ChannelFrame) Private() bool {
	return f.ChanID == PrivateChannelID
}

func (*InfoFrame) frame()         {}
func (*AuthFrame) frame()         {}
func (*ErrorFrame) frame()        {}
func (*SubscribedFrame) frame()   {}
func (*UnsubscribedFrame) frame() {}
func (*EventFrame) frame()        {}
func (*HeartbeatFrame) frame()    {}
func (*ChannelFrame) frame()      {}

// Decode parses a raw websocket message.
func Decode(data []byte) (Frame, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedFrame)
	}

	root := gjson.ParseBytes(data)
	switch {
	case root.IsObject():
		return decodeEvent(root)
	case root.IsArray():
		return decodeChannel(root)
	default:
		return nil, fmt.Errorf("%w: unexpected %s", ErrMalformedFrame, root.Type)
	}
}

func decodeEvent(root gjson.Result) (Frame, error) {
	event := root.Get("event")
	if event.Type != gjson.String {
		return nil, fmt.Errorf("%w: object without event", ErrMalformedFrame)
	}

	switch event.Str {
	case "info":
		f := &InfoFrame{
			Code:     int(root.Get("code").Int()),
			Msg:      root.Get("msg").String(),
			Platform: -1,
		}
		if v := root.Get("version"); v.Exists() {
			f.Version = int(v.Int())
			f.HasVersion = true
		}
		if p := root.Get("platform.status"); p.Exists() {
			f.Platform = int(p.Int())
		}
		return f, nil

	case "auth":
		f := &AuthFrame{
			Status: root.Get("status").String(),
			ChanID: root.Get("chanId").Int(),
			UserID: root.Get("userId").Int(),
			AuthID: root.Get("auth_id").String(),
			Code:   int(root.Get("code").Int()),
			Msg:    root.Get("msg").String(),
		}
		if caps := root.Get("caps"); caps.Exists() {
			f.Caps = json.RawMessage(caps.Raw)
		}
		return f, nil

	case "error":
		return &ErrorFrame{
			Code:    int(root.Get("code").Int()),
			Msg:     root.Get("msg").String(),
			SubID:   root.Get("subId").String(),
			Channel: root.Get("channel").String(),
		}, nil

	case "subscribed":
		chanID := root.Get("chanId")
		if !chanID.Exists() {
			return nil, fmt.Errorf("%w: subscribed without chanId", ErrMalformedFrame)
		}

		f := &SubscribedFrame{
			Channel: root.Get("channel").String(),
			ChanID:  chanID.Int(),
			SubID:   root.Get("subId").String(),
			Fields:  make(map[string]any),
		}
		root.ForEach(func(key, value gjson.Result) bool {
			switch key.Str {
			case "event", "channel", "chanId", "subId":
			default:
				f.Fields[key.Str] = value.Value()
			}
			return true
		})
		return f, nil

	case "unsubscribed":
		return &UnsubscribedFrame{
			ChanID: root.Get("chanId").Int(),
			Status: root.Get("status").String(),
		}, nil

	default:
		return &EventFrame{Event: event.Str, Raw: json.RawMessage(root.Raw)}, nil
	}
}

func decodeChannel(root gjson.Result) (Frame, error) {
	elems := root.Array()
	if len(elems) < 2 {
		return nil, fmt.Errorf("%w: channel frame with %d elements", ErrMalformedFrame, len(elems))
	}
	if elems[0].Type != gjson.Number {
		return nil, fmt.Errorf("%w: channel id is %s", ErrMalformedFrame, elems[0].Type)
	}

	chanID := elems[0].Int()

	if elems[1].Type != gjson.String {
		return &ChannelFrame{ChanID: chanID, Payload: json.RawMessage(elems[1].Raw)}, nil
	}

	if elems[1].Str == HeartbeatPayload {
		return &HeartbeatFrame{ChanID: chanID}, nil
	}

	f := &ChannelFrame{ChanID: chanID, Event: elems[1].Str}

	// [chanId, "cs", checksum] and [0, "os", [...]] both carry the payload third.
	if len(elems) > 2 {
		f.Payload = json.RawMessage(elems[2].Raw)
	}

	return f, nil
}
