package auth

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestSign_MatchesHMACSHA384(t *testing.T) {
	secret := "test-secret"
	payload := "AUTH1574694478808000"

	mac := hmac.New(sha512.New384, []byte(secret))
	mac.Write([]byte(payload))
	want := hex.EncodeToString(mac.Sum(nil))

	got := Sign(secret, payload)
	if got != want {
		t.Errorf("Sign = %q, want %q", got, want)
	}

	// SHA-384 hex digest is 96 characters.
	if len(got) != 96 {
		t.Errorf("len(Sign) = %d, want 96", len(got))
	}

	if Sign(secret, payload) != got {
		t.Error("Sign is not deterministic")
	}
}

func TestSign_KnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	got := Sign("Jefe", "what do ya want for nothing?")
	want := "af45d2e376484031617f78d2b58a6b1b9c7ef464f5a01b47e42ec3736322445e8e2240ca5e69e2c78b3239ecfab21649"
	if got != want {
		t.Errorf("Sign = %q, want %q", got, want)
	}
}

func TestNonce_Microseconds(t *testing.T) {
	ts := time.Date(2019, 11, 25, 15, 7, 58, 808123000, time.UTC)

	got := Nonce(ts)
	if got != "1574694478808123" {
		t.Errorf("Nonce = %q, want %q", got, "1574694478808123")
	}
}

func TestCredentials_Frame(t *testing.T) {
	creds := &Credentials{
		APIKey:    "key",
		APISecret: "secret",
		Filters:   []string{"trading", "wallet"},
	}

	data, err := creds.Frame("1000")
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got["event"] != "auth" {
		t.Errorf("event = %v, want auth", got["event"])
	}
	if got["apiKey"] != "key" {
		t.Errorf("apiKey = %v, want key", got["apiKey"])
	}
	if got["authNonce"] != "1000" {
		t.Errorf("authNonce = %v, want 1000", got["authNonce"])
	}
	if got["authPayload"] != "AUTH1000" {
		t.Errorf("authPayload = %v, want AUTH1000", got["authPayload"])
	}
	if got["authSig"] != Sign("secret", "AUTH1000") {
		t.Errorf("authSig = %v", got["authSig"])
	}

	filters, ok := got["filter"].([]any)
	if !ok || len(filters) != 2 || filters[0] != "trading" {
		t.Errorf("filter = %v", got["filter"])
	}
}

func TestCredentials_FrameNullFilter(t *testing.T) {
	creds := &Credentials{APIKey: "key", APISecret: "secret"}

	data, err := creds.Frame("1")
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	v, ok := got["filter"]
	if !ok {
		t.Fatal("filter field missing")
	}
	if v != nil {
		t.Errorf("filter = %v, want null", v)
	}
}

func TestLoadCredentials(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		secret  string
		wantNil bool
		wantErr error
	}{
		{name: "none", wantNil: true},
		{name: "both", key: "k", secret: "s"},
		{name: "missing key", secret: "s", wantErr: ErrMissingKey},
		{name: "missing secret", key: "k", wantErr: ErrMissingSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := LoadCredentials(tt.key, tt.secret, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if (creds == nil) != tt.wantNil {
				t.Errorf("creds = %v, wantNil %v", creds, tt.wantNil)
			}
		})
	}
}
