package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Provider string

const (
	ProviderCryptomus Provider = "cryptomus"
	ProviderTlync     Provider = "tlync"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderCryptomus, ProviderTlync:
		return true
	}
	return false
}

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// PaymentEvent is the canonical form of a provider callback. It lives for one
// request and produces at most one balance mutation.
type PaymentEvent struct {
	Provider        Provider
	ExternalOrderID string
	UserID          string
	Amount          decimal.Decimal
	Currency        string
	Status          Status
	Signature       string
	IsFinal         bool
	ReceivedAt      time.Time
}

// Creditable reports whether the event should move money into the ledger.
func (e PaymentEvent) Creditable() bool {
	return e.Status == StatusPaid && e.IsFinal
}

// DedupKey identifies the order across providers. Order ids are only unique
// within one provider.
func (e PaymentEvent) DedupKey() string {
	return string(e.Provider) + ":" + e.ExternalOrderID
}

// Amounts are stored as NUMERIC(20,8).
const (
	AmountScale         = 8
	AmountIntegerDigits = 12
)

var maxAmount = decimal.New(1, AmountIntegerDigits)

// CheckAmount rejects values the ledger cannot hold exactly.
func CheckAmount(d decimal.Decimal) error {
	switch {
	case d.IsNegative():
		return fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	case !d.Equal(d.Truncate(AmountScale)):
		return fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, AmountScale)
	case d.GreaterThanOrEqual(maxAmount):
		return fmt.Errorf("%w: more than %d integer digits", ErrInvalidAmount, AmountIntegerDigits)
	}
	return nil
}

type BalanceRecord struct {
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Payment is the history row written next to every applied credit.
type Payment struct {
	ID              string
	UserID          string
	Provider        Provider
	ExternalOrderID string
	Amount          decimal.Decimal
	Currency        string
	Status          Status
	CreatedAt       time.Time
}
