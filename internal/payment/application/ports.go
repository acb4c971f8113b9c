package application

import (
	"context"

	"github.com/dmehra2102/payment-webhooks/internal/payment/domain"
	"github.com/shopspring/decimal"
)

// LedgerStore persists balances. Credit must dedup on PaymentEvent.DedupKey and
// increment the balance in one atomic step; applied is false for a replay.
type LedgerStore interface {
	Credit(ctx context.Context, ev domain.PaymentEvent) (rec domain.BalanceRecord, applied bool, err error)
	Balance(ctx context.Context, userID string) (domain.BalanceRecord, error)
	Consume(ctx context.Context, userID string, amount decimal.Decimal) (domain.BalanceRecord, error)
}

// ProcessedCache is a fast, lossy view of processed dedup keys.
type ProcessedCache interface {
	HasProcessed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string) error
}
