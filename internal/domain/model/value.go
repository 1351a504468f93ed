package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ValueKind discriminates the NormalizedValue variants.
type ValueKind string

const (
	ValueKindPrice        ValueKind = "price"
	ValueKindNumber       ValueKind = "number"
	ValueKindText         ValueKind = "text"
	ValueKindAvailability ValueKind = "availability"
)

// AvailabilityStatus is the normalized stock state of a product.
type AvailabilityStatus string

const (
	AvailabilityInStock    AvailabilityStatus = "in_stock"
	AvailabilityOutOfStock AvailabilityStatus = "out_of_stock"
	AvailabilityPreorder   AvailabilityStatus = "preorder"
	AvailabilityLimited    AvailabilityStatus = "limited"
	AvailabilityUnknown    AvailabilityStatus = "unknown"
)

// PriceValue is a normalized price. Cents preserves the exact minor-unit
// amount when it came from schema metadata, for loss-free equality.
type PriceValue struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency,omitempty"`
	Cents    *int64  `json:"cents,omitempty"`
}

// TextValue is a normalized text snippet plus a 32-bit djb2 hash used for
// stable equality without comparing full bodies.
type TextValue struct {
	Snippet string `json:"snippet"`
	Hash    uint32 `json:"hash"`
}

// AvailabilityValue is a normalized availability observation.
type AvailabilityValue struct {
	Status          AvailabilityStatus `json:"status"`
	LeadTimeDays    *int               `json:"lead_time_days,omitempty"`
	AvailabilityURL string             `json:"availability_url,omitempty"`
}

// NormalizedValue is the tagged union produced by normalization. Exactly one
// variant pointer matching Kind is set.
type NormalizedValue struct {
	Kind         ValueKind          `json:"kind"`
	Price        *PriceValue        `json:"price,omitempty"`
	Number       *float64           `json:"number,omitempty"`
	Text         *TextValue         `json:"text,omitempty"`
	Availability *AvailabilityValue `json:"availability,omitempty"`
}

const priceEqualityEpsilon = 1e-9

// Equal reports whether two normalized values are the same observation.
// Prices compare cents exactly when both carry them, otherwise float values
// within epsilon; text compares by hash.
func (v *NormalizedValue) Equal(other *NormalizedValue) bool {
	if v == nil || other == nil {
		return v == other
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case ValueKindPrice:
		a, b := v.Price, other.Price
		if a == nil || b == nil {
			return a == b
		}
		if a.Currency != b.Currency {
			return false
		}
		if a.Cents != nil && b.Cents != nil {
			return *a.Cents == *b.Cents
		}
		return math.Abs(a.Value-b.Value) < priceEqualityEpsilon
	case ValueKindNumber:
		if v.Number == nil || other.Number == nil {
			return v.Number == other.Number
		}
		return math.Abs(*v.Number-*other.Number) < priceEqualityEpsilon
	case ValueKindText:
		if v.Text == nil || other.Text == nil {
			return v.Text == other.Text
		}
		return v.Text.Hash == other.Text.Hash
	case ValueKindAvailability:
		if v.Availability == nil || other.Availability == nil {
			return v.Availability == other.Availability
		}
		return v.Availability.Status == other.Availability.Status
	default:
		return false
	}
}

// Numeric returns the comparable float for price and number values and false
// for the other kinds.
func (v *NormalizedValue) Numeric() (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch v.Kind {
	case ValueKindPrice:
		if v.Price != nil {
			return v.Price.Value, true
		}
	case ValueKindNumber:
		if v.Number != nil {
			return *v.Number, true
		}
	}
	return 0, false
}

// Canonical returns a deterministic string representation used in dedupe-key
// hashing and diff summaries.
func (v *NormalizedValue) Canonical() string {
	if v == nil {
		return ""
	}
	switch v.Kind {
	case ValueKindPrice:
		if v.Price == nil {
			return "price:"
		}
		return fmt.Sprintf("price:%s:%s", strconv.FormatFloat(v.Price.Value, 'f', -1, 64), v.Price.Currency)
	case ValueKindNumber:
		if v.Number == nil {
			return "number:"
		}
		return "number:" + strconv.FormatFloat(*v.Number, 'f', -1, 64)
	case ValueKindText:
		if v.Text == nil {
			return "text:"
		}
		return "text:" + strconv.FormatUint(uint64(v.Text.Hash), 10)
	case ValueKindAvailability:
		if v.Availability == nil {
			return "availability:"
		}
		return "availability:" + string(v.Availability.Status)
	default:
		return ""
	}
}

// DecodeNormalizedValue parses a stored normalized value. Empty input yields
// nil.
func DecodeNormalizedValue(raw []byte) (*NormalizedValue, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var v NormalizedValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
