package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmehra2102/payment-webhooks/internal/payment/domain"
	"github.com/dmehra2102/payment-webhooks/pkg/tracing"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// Migrate creates the ledger and outbox tables if they are missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// Credit claims (provider, order id) and increments the balance in one
// transaction. Concurrent deliveries of the same order serialize on the
// processed_events primary key; the loser sees zero affected rows and reads the
// current balance.
func (r *Repository) Credit(ctx context.Context, ev domain.PaymentEvent) (domain.BalanceRecord, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.BalanceRecord{}, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `INSERT INTO processed_events (provider, external_order_id, user_id, amount)
		VALUES ($1,$2,$3,$4::numeric)
		ON CONFLICT (provider, external_order_id) DO NOTHING`,
		string(ev.Provider), ev.ExternalOrderID, ev.UserID, ev.Amount.String())
	if err != nil {
		return domain.BalanceRecord{}, false, err
	}
	if ct.RowsAffected() == 0 {
		rec, err := r.balance(ctx, tx, ev.UserID)
		if errors.Is(err, domain.ErrBalanceNotFound) {
			rec = domain.BalanceRecord{UserID: ev.UserID, Amount: decimal.Zero}
			err = nil
		}
		if err != nil {
			return domain.BalanceRecord{}, false, err
		}
		r.log.Debug("order id already processed", "provider", ev.Provider, "order_id", ev.ExternalOrderID)
		return rec, false, tx.Commit(ctx)
	}

	var (
		amount string
		rec    = domain.BalanceRecord{UserID: ev.UserID}
	)
	err = tx.QueryRow(ctx, `INSERT INTO balances (user_id, amount, updated_at)
		VALUES ($1, $2::numeric, now())
		ON CONFLICT (user_id) DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = now()
		RETURNING amount::text, updated_at`,
		ev.UserID, ev.Amount.String()).Scan(&amount, &rec.UpdatedAt)
	if err != nil {
		return domain.BalanceRecord{}, false, err
	}
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.BalanceRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `INSERT INTO payments (id, user_id, provider, external_order_id, amount, currency, status, created_at)
		VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,$8)`,
		uuid.New(), ev.UserID, string(ev.Provider), ev.ExternalOrderID, ev.Amount.String(), ev.Currency, string(ev.Status), time.Now().UTC())
	if err != nil {
		return domain.BalanceRecord{}, false, err
	}

	payload, err := json.Marshal(domain.BalanceCredited{
		UserID:          ev.UserID,
		Provider:        ev.Provider,
		ExternalOrderID: ev.ExternalOrderID,
		Amount:          ev.Amount,
		Currency:        ev.Currency,
		Balance:         rec.Amount,
	})
	if err != nil {
		return domain.BalanceRecord{}, false, err
	}
	headers := map[string]string{
		"source":   "payment-webhooks",
		"provider": string(ev.Provider),
		"event_id": uuid.NewString(),
	}

	_, err = tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status) VALUES ($1,$2,$3,$4,$5,$6,'pending')`,
		"balance", ev.UserID, domain.EventBalanceCredited, payload, headers, tracing.Traceparent(ctx))
	if err != nil {
		return domain.BalanceRecord{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.BalanceRecord{}, false, err
	}
	return rec, true, nil
}

func (r *Repository) Balance(ctx context.Context, userID string) (domain.BalanceRecord, error) {
	return r.balance(ctx, r.pool, userID)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) balance(ctx context.Context, q querier, userID string) (domain.BalanceRecord, error) {
	rec := domain.BalanceRecord{UserID: userID}
	var amount string
	err := q.QueryRow(ctx, `SELECT amount::text, updated_at FROM balances WHERE user_id=$1`, userID).
		Scan(&amount, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BalanceRecord{}, domain.ErrBalanceNotFound
	}
	if err != nil {
		return domain.BalanceRecord{}, err
	}
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.BalanceRecord{}, err
	}
	return rec, nil
}

// Consume subtracts amount in a single statement, flooring the balance at zero.
func (r *Repository) Consume(ctx context.Context, userID string, amount decimal.Decimal) (domain.BalanceRecord, error) {
	rec := domain.BalanceRecord{UserID: userID}
	var left string
	err := r.pool.QueryRow(ctx, `UPDATE balances SET amount = GREATEST(amount - $2::numeric, 0), updated_at = now()
		WHERE user_id=$1
		RETURNING amount::text, updated_at`, userID, amount.String()).Scan(&left, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BalanceRecord{}, domain.ErrBalanceNotFound
	}
	if err != nil {
		return domain.BalanceRecord{}, err
	}
	if rec.Amount, err = decimal.NewFromString(left); err != nil {
		return domain.BalanceRecord{}, err
	}
	return rec, nil
}
