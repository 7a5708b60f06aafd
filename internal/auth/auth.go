// Package auth builds the signed login frame for the authenticated channel.
package auth

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// PayloadPrefix is prepended to the nonce to form the signing payload.
const PayloadPrefix = "AUTH"

var (
	ErrMissingKey    = errors.New("API key is required")
	ErrMissingSecret = errors.New("API secret is required")
)

// Credentials holds the API key pair and the optional auth filters
// (trading, funding, wallet, algo, balance, notify...).
type Credentials struct {
	APIKey    string
	APISecret string
	Filters   []string
}

// LoadCredentials validates a key pair. It returns nil, nil when neither is
// set, which means the client runs unauthenticated.
func LoadCredentials(apiKey, apiSecret string, filters []string) (*Credentials, error) {
	if apiKey == "" && apiSecret == "" {
		return nil, nil
	}
	if apiKey == "" {
		return nil, ErrMissingKey
	}
	if apiSecret == "" {
		return nil, ErrMissingSecret
	}

	return &Credentials{
		APIKey:    apiKey,
		APISecret: apiSecret,
		Filters:   filters,
	}, nil
}

// Nonce renders t as microseconds since the epoch.
func Nonce(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

// Sign returns the hex HMAC-SHA384 of payload keyed by secret.
func Sign(secret, payload string) string {
	mac := hmac.New(sha512.New384, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// LoginFrame is the auth request sent on the private socket.
type LoginFrame struct {
	Event       string   `json:"event"`
	Filter      []string `json:"filter"`
	APIKey      string   `json:"apiKey"`
	AuthNonce   string   `json:"authNonce"`
	AuthPayload string   `json:"authPayload"`
	AuthSig     string   `json:"authSig"`
}

// Login builds the signed login frame for nonce.
func (c *Credentials) Login(nonce string) LoginFrame {
	payload := PayloadPrefix + nonce

	return LoginFrame{
		Event:       "auth",
		Filter:      c.Filters,
		APIKey:      c.APIKey,
		AuthNonce:   nonce,
		AuthPayload: payload,
		AuthSig:     Sign(c.APISecret, payload),
	}
}

// Frame encodes the login frame for nonce.
func (c *Credentials) Frame(nonce string) ([]byte, error) {
	data, err := json.Marshal(c.Login(nonce))
	if err != nil {
		return nil, fmt.Errorf("marshal auth frame: %w", err)
	}
	return data, nil
}
