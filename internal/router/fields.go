package router

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Emitter publishes decoded records.
type Emitter interface {
	Emit(event string, args ...any) bool
}

// fields is a positional record as sent by the exchange. Reads past the end
// yield zero values so optional trailing fields can be omitted.
type fields []gjson.Result

func (f fields) at(i int) gjson.Result {
	if i < len(f) {
		return f[i]
	}
	return gjson.Result{}
}

func (f fields) float(i int) float64 { return f.at(i).Float() }
func (f fields) i64(i int) int64     { return f.at(i).Int() }
func (f fields) num(i int) int       { return int(f.at(i).Int()) }
func (f fields) str(i int) string    { return f.at(i).String() }

// flag reads the 0/1 integers used for booleans.
func (f fields) flag(i int) bool {
	r := f.at(i)
	if r.Type == gjson.True {
		return true
	}
	return r.Int() == 1
}

func (f fields) raw(i int) json.RawMessage {
	r := f.at(i)
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	return json.RawMessage(r.Raw)
}

func parse(payload json.RawMessage) gjson.Result {
	return gjson.ParseBytes(payload)
}

// isSnapshot reports whether payload is a list of records rather than a
// single record.
func isSnapshot(payload gjson.Result) bool {
	if !payload.IsArray() {
		return false
	}
	first := payload.Get("0")
	return !first.Exists() || first.IsArray()
}

func one[T any](payload gjson.Result, min int, decode func(fields) T) (T, error) {
	var zero T
	if !payload.IsArray() {
		return zero, fmt.Errorf("%w: expected array, got %s", ErrMalformedPayload, payload.Type)
	}
	f := fields(payload.Array())
	if len(f) < min {
		return zero, fmt.Errorf("%w: %d fields, want at least %d", ErrMalformedPayload, len(f), min)
	}
	return decode(f), nil
}

func list[T any](payload gjson.Result, min int, decode func(fields) T) ([]T, error) {
	if !payload.IsArray() {
		return nil, fmt.Errorf("%w: expected array, got %s", ErrMalformedPayload, payload.Type)
	}
	items := payload.Array()
	out := make([]T, 0, len(items))
	for i, item := range items {
		rec, err := one(item, min, decode)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
