// Package memory is a process-local ledger used for local runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dmehra2102/payment-webhooks/internal/payment/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu        sync.Mutex
	balances  map[string]domain.BalanceRecord
	processed map[string]struct{}
	payments  []domain.Payment
}

func NewStore() *Store {
	return &Store{
		balances:  make(map[string]domain.BalanceRecord),
		processed: make(map[string]struct{}),
	}
}

func (s *Store) Credit(ctx context.Context, ev domain.PaymentEvent) (domain.BalanceRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.BalanceRecord{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ev.DedupKey()
	if _, ok := s.processed[key]; ok {
		return s.balances[ev.UserID], false, nil
	}
	now := time.Now().UTC()

	rec, ok := s.balances[ev.UserID]
	if !ok {
		rec = domain.BalanceRecord{UserID: ev.UserID, Amount: decimal.Zero}
	}
	rec.Amount = rec.Amount.Add(ev.Amount)
	rec.UpdatedAt = now
	s.balances[ev.UserID] = rec
	s.processed[key] = struct{}{}
	s.payments = append(s.payments, domain.Payment{
		ID:              uuid.NewString(),
		UserID:          ev.UserID,
		Provider:        ev.Provider,
		ExternalOrderID: ev.ExternalOrderID,
		Amount:          ev.Amount,
		Currency:        ev.Currency,
		Status:          ev.Status,
		CreatedAt:       now,
	})
	return rec, true, nil
}

func (s *Store) Balance(ctx context.Context, userID string) (domain.BalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.balances[userID]
	if !ok {
		return domain.BalanceRecord{}, domain.ErrBalanceNotFound
	}
	return rec, nil
}

func (s *Store) Consume(ctx context.Context, userID string, amount decimal.Decimal) (domain.BalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.balances[userID]
	if !ok {
		return domain.BalanceRecord{}, domain.ErrBalanceNotFound
	}
	rec.Amount = decimal.Max(rec.Amount.Sub(amount), decimal.Zero)
	rec.UpdatedAt = time.Now().UTC()
	s.balances[userID] = rec
	return rec, nil
}

// Payments returns a copy of the payment history.
func (s *Store) Payments() []domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Payment, len(s.payments))
	copy(out, s.payments)
	return out
}
