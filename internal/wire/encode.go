package wire

import (
	"encoding/json"
	"fmt"
)

// NotifyType is the notification type accepted on the private channel.
const NotifyType = "ucm-test"

// Subscribe encodes a subscribe request. Params are flattened into the
// frame next to the event and channel fields.
func Subscribe(channel, subID string, params map[string]any) ([]byte, error) {
	frame := make(map[string]any, len(params)+3)
	for k, v := range params {
		frame[k] = v
	}
	frame["event"] = "subscribe"
	frame["channel"] = channel
	if subID != "" {
		frame["subId"] = subID
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal subscribe: %w", err)
	}
	return data, nil
}

// Unsubscribe encodes an unsubscribe request.
func Unsubscribe(chanID int64) ([]byte, error) {
	data, err := json.Marshal(struct {
		Event  string `json:"event"`
		ChanID int64  `json:"chanId"`
	}{"unsubscribe", chanID})
	if err != nil {
		return nil, fmt.Errorf("marshal unsubscribe: %w", err)
	}
	return data, nil
}

// Input encodes a private-channel user input: [0, event, id, data].
// A nil id is sent as null.
func Input(event string, id *int64, data any) ([]byte, error) {
	out, err := json.Marshal([]any{PrivateChannelID, event, id, data})
	if err != nil {
		return nil, fmt.Errorf("marshal input %s: %w", event, err)
	}
	return out, nil
}

// Notify encodes a notification request. Extra fields are merged into the
// notification body; type and info always win.
func Notify(id *int64, info any, extra map[string]any) ([]byte, error) {
	body := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		body[k] = v
	}
	body["type"] = NotifyType
	body["info"] = info

	return Input("n", id, body)
}
