package config

import (
	"os"
	"strings"
)

// StrictPaymentImmutability hardens the payment edit path: once an income record
// has been fanned out for a payment, update/delete of that payment is rejected.
//
// Set via env:
// - STRICT_PAYMENT_IMMUTABLE=true
//
// Default is ON; set to "false"/"0" explicitly to allow edits (dev only).
func StrictPaymentImmutability() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_PAYMENT_IMMUTABLE")))
	if v == "" {
		return true
	}
	return !(v == "0" || v == "false" || v == "no" || v == "n")
}

// IncomeFanoutEnabled controls whether payment inserts write income outbox
// records. Disable only in local/dev environments without Pub/Sub.
//
// Set via env:
// - INCOME_FANOUT=false
func IncomeFanoutEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("INCOME_FANOUT")))
	if v == "" {
		return true
	}
	return !(v == "0" || v == "false" || v == "no" || v == "n")
}
