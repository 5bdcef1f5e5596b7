package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ValueKind tags the variant held by a FieldValue.
type ValueKind string

const (
	KindNull     ValueKind = "null"
	KindString   ValueKind = "string"
	KindNumber   ValueKind = "number"
	KindDate     ValueKind = "date"
	KindCurrency ValueKind = "currency"
)

// DateLayout is the wire form of date values.
const DateLayout = "2006-01-02"

// DefaultCurrency is assumed when an amount carries no currency code.
const DefaultCurrency = "USD"

// Money is an amount in a given ISO 4217 currency.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// FieldValue is a tagged variant: string, number, date, currency amount or
// null. The zero value is null.
type FieldValue struct {
	kind  ValueKind
	str   string
	num   float64
	date  time.Time
	money Money
}

// Null returns the explicit null value.
func Null() FieldValue { return FieldValue{kind: KindNull} }

// StringValue returns a string value; blank strings collapse to null.
func StringValue(s string) FieldValue {
	s = strings.TrimSpace(s)
	if s == "" {
		return Null()
	}
	return FieldValue{kind: KindString, str: s}
}

// NumberValue returns a numeric value; NaN and infinities collapse to null.
func NumberValue(f float64) FieldValue {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return FieldValue{kind: KindNumber, num: f}
}

// DateValue returns a calendar date value (time of day is discarded).
func DateValue(t time.Time) FieldValue {
	if t.IsZero() {
		return Null()
	}
	y, m, d := t.Date()
	return FieldValue{kind: KindDate, date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// CurrencyValue returns a currency amount; an empty code defaults to USD.
func CurrencyValue(amount float64, code string) FieldValue {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Null()
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = DefaultCurrency
	}
	return FieldValue{kind: KindCurrency, money: Money{Amount: amount, Currency: code}}
}

// Kind reports the variant tag.
func (v FieldValue) Kind() ValueKind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether the value is the explicit null.
func (v FieldValue) IsNull() bool { return v.Kind() == KindNull }

// Str returns the string payload.
func (v FieldValue) Str() string { return v.str }

// Number returns the numeric payload.
func (v FieldValue) Number() float64 { return v.num }

// Date returns the date payload.
func (v FieldValue) Date() time.Time { return v.date }

// Money returns the currency payload.
func (v FieldValue) Money() Money { return v.money }

// Text renders the value for flat outputs; null renders as "".
func (v FieldValue) Text() string {
	switch v.Kind() {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindDate:
		return v.date.Format(DateLayout)
	case KindCurrency:
		return strconv.FormatFloat(v.money.Amount, 'f', -1, 64)
	}
	return ""
}

// Equal compares two values after normalisation: strings case- and
// whitespace-insensitively, numbers and amounts with a relative tolerance.
func (v FieldValue) Equal(o FieldValue) bool {
	if v.Kind() != o.Kind() {
		return false
	}
	switch v.Kind() {
	case KindNull:
		return true
	case KindString:
		return normaliseText(v.str) == normaliseText(o.str)
	case KindNumber:
		return closeEnough(v.num, o.num)
	case KindDate:
		return v.date.Equal(o.date)
	case KindCurrency:
		return v.money.Currency == o.money.Currency && closeEnough(v.money.Amount, o.money.Amount)
	}
	return false
}

func normaliseText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func closeEnough(a, b float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	return diff <= 1e-9 || diff <= scale*1e-6
}

// MarshalJSON writes the bare payload: null, a string, a number, an ISO date
// string or an {amount, currency} object.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.Kind() {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindDate:
		return json.Marshal(v.date.Format(DateLayout))
	case KindCurrency:
		return json.Marshal(v.money)
	}
	return []byte("null"), nil
}

// DecodeValue reads a bare payload written by MarshalJSON back into the
// variant named by kind.
func DecodeValue(kind ValueKind, raw json.RawMessage) (FieldValue, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Null(), nil
	}
	switch kind {
	case KindNull:
		return Null(), nil
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Null(), fmt.Errorf("decode string value: %w", err)
		}
		return StringValue(s), nil
	case KindNumber:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Null(), fmt.Errorf("decode number value: %w", err)
		}
		return NumberValue(f), nil
	case KindDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Null(), fmt.Errorf("decode date value: %w", err)
		}
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return Null(), fmt.Errorf("decode date value: %w", err)
		}
		return DateValue(t), nil
	case KindCurrency:
		var m Money
		if err := json.Unmarshal(raw, &m); err != nil {
			return Null(), fmt.Errorf("decode currency value: %w", err)
		}
		return CurrencyValue(m.Amount, m.Currency), nil
	}
	return Null(), fmt.Errorf("unknown value kind %q", kind)
}

// ExtractedField is one named fact with its score and originating section.
type ExtractedField struct {
	Name       string
	Value      FieldValue
	Confidence float64
	Source     string
}

type extractedFieldJSON struct {
	Name       string          `json:"name"`
	Type       ValueKind       `json:"type"`
	Value      json.RawMessage `json:"value"`
	Confidence float64         `json:"confidence"`
	Source     *string         `json:"source"`
}

// MarshalJSON always emits every key; null values and empty sources are
// explicit nulls.
func (f ExtractedField) MarshalJSON() ([]byte, error) {
	raw, err := f.Value.MarshalJSON()
	if err != nil {
		return nil, err
	}
	out := extractedFieldJSON{
		Name:       f.Name,
		Type:       f.Value.Kind(),
		Value:      raw,
		Confidence: f.Confidence,
	}
	if f.Source != "" {
		src := f.Source
		out.Source = &src
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the variant using the "type" tag.
func (f *ExtractedField) UnmarshalJSON(data []byte) error {
	var in extractedFieldJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	v, err := DecodeValue(in.Type, in.Value)
	if err != nil {
		return fmt.Errorf("field %s: %w", in.Name, err)
	}
	f.Name = in.Name
	f.Value = v
	f.Confidence = in.Confidence
	f.Source = ""
	if in.Source != nil {
		f.Source = *in.Source
	}
	return nil
}
