package llm

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

var currencySymbols = map[string]string{
	"$": "USD", "US$": "USD", "€": "EUR", "£": "GBP", "¥": "JPY", "A$": "AUD", "C$": "CAD", "S$": "SGD", "₹": "INR",
}

var (
	amountRe  = regexp.MustCompile(`(?i)^\s*([A-Z]{3})?\s*(US\$|A\$|C\$|S\$|[$€£¥₹])?\s*([0-9][0-9,]*(?:\.[0-9]+)?)\s*(k|m|mm|b|bn|t|thousand|million|billion|trillion)?\s*([A-Z]{3})?\s*%?\s*$`)
	multiples = map[string]float64{
		"k": 1e3, "thousand": 1e3,
		"m": 1e6, "mm": 1e6, "million": 1e6,
		"b": 1e9, "bn": 1e9, "billion": 1e9,
		"t": 1e12, "trillion": 1e12,
	}
)

// ParseAmount reads figures such as "$1.5M", "EUR 200k", "3,000,000" or
// "12%" into a number and an optional ISO currency code.
func ParseAmount(s string) (float64, string, bool) {
	m := amountRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m[3], ",", ""), 64)
	if err != nil {
		return 0, "", false
	}
	if mult, ok := multiples[strings.ToLower(m[4])]; ok {
		n *= mult
	}
	code := strings.ToUpper(m[1])
	if code == "" {
		code = strings.ToUpper(m[5])
	}
	if code == "" {
		code = currencySymbols[strings.ToUpper(m[2])]
	}
	return n, code, true
}

var dateLayouts = []string{models.DateLayout, "2006-01", "2006", "January 2006", "Jan 2006", "01/2006"}

// ParseDate accepts full dates and the partial forms decks usually carry;
// partial dates resolve to the first day of the period.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Coerce converts a loosely typed model answer into the field's declared kind.
// Anything that cannot be read becomes null.
func Coerce(kind models.ValueKind, raw json.RawMessage, currency string) models.FieldValue {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil || v == nil {
		return models.Null()
	}
	switch kind {
	case models.KindString:
		switch t := v.(type) {
		case string:
			if isNullWord(t) {
				return models.Null()
			}
			return models.StringValue(t)
		case float64:
			return models.StringValue(strconv.FormatFloat(t, 'f', -1, 64))
		case []any:
			parts := make([]string, 0, len(t))
			for _, item := range t {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					parts = append(parts, strings.TrimSpace(s))
				}
			}
			return models.StringValue(strings.Join(parts, "; "))
		}
	case models.KindNumber:
		switch t := v.(type) {
		case float64:
			return models.NumberValue(t)
		case string:
			if n, _, ok := ParseAmount(t); ok {
				return models.NumberValue(n)
			}
		}
	case models.KindCurrency:
		switch t := v.(type) {
		case float64:
			return models.CurrencyValue(t, currency)
		case string:
			if n, code, ok := ParseAmount(t); ok {
				if code == "" {
					code = currency
				}
				return models.CurrencyValue(n, code)
			}
		case map[string]any:
			amount, ok := t["amount"].(float64)
			if !ok {
				s, _ := t["amount"].(string)
				if amount, _, ok = ParseAmount(s); !ok {
					return models.Null()
				}
			}
			code, _ := t["currency"].(string)
			if code == "" {
				code = currency
			}
			return models.CurrencyValue(amount, code)
		}
	case models.KindDate:
		switch t := v.(type) {
		case string:
			if d, ok := ParseDate(t); ok {
				return models.DateValue(d)
			}
		case float64:
			if t >= 1800 && t <= 2200 && t == math.Trunc(t) {
				return models.DateValue(time.Date(int(t), 1, 1, 0, 0, 0, 0, time.UTC))
			}
		}
	}
	return models.Null()
}

func isNullWord(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none", "n/a", "na", "unknown", "not mentioned", "not specified":
		return true
	}
	return false
}
