package provider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmehra2102/payment-webhooks/internal/payment/domain"
	"github.com/shopspring/decimal"
)

const (
	// CryptomusSignField carries the body signature for cryptomus callbacks.
	CryptomusSignField = "sign"
	// TlyncSignatureHeader carries the body signature for tlync callbacks.
	TlyncSignatureHeader = "X-Signature"
)

// Normalize maps a provider callback body onto the canonical PaymentEvent.
func Normalize(p domain.Provider, raw []byte) (domain.PaymentEvent, error) {
	var (
		ev  domain.PaymentEvent
		err error
	)
	switch p {
	case domain.ProviderCryptomus:
		ev, err = normalizeCryptomus(raw)
	case domain.ProviderTlync:
		ev, err = normalizeTlync(raw)
	default:
		return domain.PaymentEvent{}, &domain.NormalizationError{Provider: p, Reason: "unknown provider"}
	}
	if err != nil {
		return domain.PaymentEvent{}, err
	}
	ev.ReceivedAt = time.Now().UTC()
	return ev, nil
}

// SignatureField is the body key stripped before hashing, if any.
func SignatureField(p domain.Provider) string {
	if p == domain.ProviderCryptomus {
		return CryptomusSignField
	}
	return ""
}

// Signature extracts the signature a provider attached to the request.
func Signature(p domain.Provider, raw []byte, headers http.Header) string {
	switch p {
	case domain.ProviderCryptomus:
		var body struct {
			Sign string `json:"sign"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return ""
		}
		return body.Sign
	case domain.ProviderTlync:
		return headers.Get(TlyncSignatureHeader)
	}
	return ""
}

func decode(p domain.Provider, raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &domain.NormalizationError{Provider: p, Field: typeErr.Field, Reason: "unexpected type " + typeErr.Value}
		}
		return &domain.NormalizationError{Provider: p, Reason: err.Error()}
	}
	return nil
}

func required(p domain.Provider, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &domain.NormalizationError{Provider: p, Field: field, Reason: "required"}
	}
	return nil
}

// amount accepts a JSON string or number holding a decimal the ledger can store.
type amount struct {
	set   bool
	value decimal.Decimal
	err   error
}

func (a *amount) UnmarshalJSON(b []byte) error {
	a.set = true
	s := strings.TrimSpace(string(b))
	if s == "null" {
		a.set = false
		return nil
	}
	s = strings.Trim(s, `"`)
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		a.err = fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
		return nil
	}
	a.value = d
	return nil
}

func (a amount) validate(p domain.Provider, field string) (decimal.Decimal, error) {
	if !a.set {
		return decimal.Zero, &domain.NormalizationError{Provider: p, Field: field, Reason: "required"}
	}
	if a.err != nil {
		return decimal.Zero, &domain.NormalizationError{Provider: p, Field: field, Reason: a.err.Error()}
	}
	if err := domain.CheckAmount(a.value); err != nil {
		return decimal.Zero, &domain.NormalizationError{Provider: p, Field: field, Reason: err.Error()}
	}
	return a.value, nil
}
