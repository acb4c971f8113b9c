package domain

import "github.com/shopspring/decimal"

const EventBalanceCredited = "BalanceCredited"

type BalanceCredited struct {
	UserID          string          `json:"user_id"`
	Provider        Provider        `json:"provider"`
	ExternalOrderID string          `json:"external_order_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Balance         decimal.Decimal `json:"balance"`
}
