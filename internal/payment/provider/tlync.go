package provider

import (
	"strings"

	"github.com/dmehra2102/payment-webhooks/internal/payment/domain"
)

const tlyncDefaultCurrency = "LYD"

type tlyncCallback struct {
	StoreID   string `json:"store_id"`
	CustomRef string `json:"custom_ref"`
	OurRef    string `json:"our_ref"`
	Amount    amount `json:"amount"`
	Currency  string `json:"currency"`
	Result    string `json:"result"`
}

func normalizeTlync(raw []byte) (domain.PaymentEvent, error) {
	const p = domain.ProviderTlync

	var cb tlyncCallback
	if err := decode(p, raw, &cb); err != nil {
		return domain.PaymentEvent{}, err
	}
	if err := required(p, "custom_ref", cb.CustomRef); err != nil {
		return domain.PaymentEvent{}, err
	}
	if err := required(p, "result", cb.Result); err != nil {
		return domain.PaymentEvent{}, err
	}
	amt, err := cb.Amount.validate(p, "amount")
	if err != nil {
		return domain.PaymentEvent{}, err
	}
	userID, err := TlyncUserID(cb.CustomRef)
	if err != nil {
		return domain.PaymentEvent{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(cb.Currency))
	if currency == "" {
		currency = tlyncDefaultCurrency
	}
	status := tlyncStatus(cb.Result)

	return domain.PaymentEvent{
		Provider:        p,
		ExternalOrderID: cb.CustomRef,
		UserID:          userID,
		Amount:          amt,
		Currency:        currency,
		Status:          status,
		IsFinal:         status != domain.StatusPending,
	}, nil
}

// TlyncUserID returns the part of custom_ref before the first hyphen.
func TlyncUserID(customRef string) (string, error) {
	userID, _, found := strings.Cut(customRef, "-")
	if !found || strings.TrimSpace(userID) == "" {
		return "", &domain.NormalizationError{
			Provider: domain.ProviderTlync,
			Field:    "custom_ref",
			Reason:   "expected <userID>-<nonce>",
		}
	}
	return userID, nil
}

func tlyncStatus(s string) domain.Status {
	switch strings.ToLower(s) {
	case "success", "paid":
		return domain.StatusPaid
	case "failed", "fail", "error":
		return domain.StatusFailed
	default:
		return domain.StatusPending
	}
}
