package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError names every missing or invalid field found by Load.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending field paths, e.g. "RateLimits.StaffSend".
func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

type validator struct {
	fields []string
}

func (v *validator) require(ok bool, field string) {
	if !ok {
		v.fields = append(v.fields, field)
	}
}

func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{fields: v.fields}
}

func validateConfig(cfg Config, invalid ...string) error {
	v := &validator{fields: slices.Clone(invalid)}

	v.require(cfg.Server.Port != "", "Server.Port")
	v.require(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	v.require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	v.require(strings.TrimSpace(cfg.Mail.Collection) != "", "Mail.Collection")

	v.require(len(cfg.Pricing.Currency) == 3, "Pricing.Currency")
	v.require(cfg.Pricing.ScannedCopiesFee >= 0, "Pricing.ScannedCopiesFee")
	v.require(cfg.Pricing.PickupFee >= 0, "Pricing.PickupFee")
	v.require(cfg.Pricing.ExpressFee >= 0, "Pricing.ExpressFee")

	// A zero TTL disables expiry for that kind.
	v.require(cfg.Confirmations.EmbassyPriceTTL >= 0, "Confirmations.EmbassyPriceTTL")
	v.require(cfg.Confirmations.AddressTTL >= 0, "Confirmations.AddressTTL")
	v.require(cfg.Confirmations.QuoteTTL >= 0, "Confirmations.QuoteTTL")
	base, err := url.Parse(strings.TrimSpace(cfg.Confirmations.PublicBaseURL))
	v.require(err == nil && base.Scheme != "" && base.Host != "", "Confirmations.PublicBaseURL")

	budget := func(b RateBudget, field string) { v.require(b.Limit > 0 && b.Window > 0, field) }
	budget(cfg.RateLimits.Confirmation, "RateLimits.Confirmation")
	budget(cfg.RateLimits.OrderCreate, "RateLimits.OrderCreate")
	budget(cfg.RateLimits.StaffSend, "RateLimits.StaffSend")

	v.require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	v.require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	v.require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	v.require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
	return v.err()
}

