package provider

import (
	"regexp"
	"strings"

	"github.com/dmehra2102/payment-webhooks/internal/payment/domain"
)

// Cryptomus order ids are built as "<plan>-<userID>-<nonce>".
var cryptomusUserID = regexp.MustCompile(`^[^-]*-(\d+)-`)

type cryptomusCallback struct {
	Type          string `json:"type"`
	UUID          string `json:"uuid"`
	OrderID       string `json:"order_id"`
	Amount        amount `json:"amount"`
	PaymentAmount amount `json:"payment_amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	IsFinal       bool   `json:"is_final"`
	Sign          string `json:"sign"`
}

func normalizeCryptomus(raw []byte) (domain.PaymentEvent, error) {
	const p = domain.ProviderCryptomus

	var cb cryptomusCallback
	if err := decode(p, raw, &cb); err != nil {
		return domain.PaymentEvent{}, err
	}
	for _, f := range [][2]string{
		{"order_id", cb.OrderID},
		{"currency", cb.Currency},
		{"status", cb.Status},
		{"sign", cb.Sign},
	} {
		if err := required(p, f[0], f[1]); err != nil {
			return domain.PaymentEvent{}, err
		}
	}
	amt, err := cb.Amount.validate(p, "amount")
	if err != nil {
		return domain.PaymentEvent{}, err
	}
	userID, err := CryptomusUserID(cb.OrderID)
	if err != nil {
		return domain.PaymentEvent{}, err
	}

	return domain.PaymentEvent{
		Provider:        p,
		ExternalOrderID: cb.OrderID,
		UserID:          userID,
		Amount:          amt,
		Currency:        strings.ToUpper(cb.Currency),
		Status:          cryptomusStatus(cb.Status),
		Signature:       cb.Sign,
		IsFinal:         cb.IsFinal,
	}, nil
}

// CryptomusUserID returns the numeric segment between the first two hyphens.
func CryptomusUserID(orderID string) (string, error) {
	m := cryptomusUserID.FindStringSubmatch(orderID)
	if m == nil {
		return "", &domain.NormalizationError{
			Provider: domain.ProviderCryptomus,
			Field:    "order_id",
			Reason:   "no numeric user id between the first two hyphens",
		}
	}
	return m[1], nil
}

func cryptomusStatus(s string) domain.Status {
	switch strings.ToLower(s) {
	case "paid", "paid_over":
		return domain.StatusPaid
	case "fail", "cancel", "system_fail", "wrong_amount", "refund_paid":
		return domain.StatusFailed
	default:
		return domain.StatusPending
	}
}
