package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/dmehra2102/payment-webhooks/internal/payment/domain"
	"github.com/dmehra2102/payment-webhooks/internal/payment/infrastructure/memory"
	"github.com/dmehra2102/payment-webhooks/internal/payment/infrastructure/signature"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type failingLedger struct {
	err     error
	credits int
}

func (f *failingLedger) Credit(ctx context.Context, ev domain.PaymentEvent) (domain.BalanceRecord, bool, error) {
	f.credits++
	return domain.BalanceRecord{}, false, f.err
}

func (f *failingLedger) Balance(ctx context.Context, userID string) (domain.BalanceRecord, error) {
	return domain.BalanceRecord{}, f.err
}

func (f *failingLedger) Consume(ctx context.Context, userID string, amount decimal.Decimal) (domain.BalanceRecord, error) {
	return domain.BalanceRecord{}, f.err
}

type mapCache struct {
	mu      sync.Mutex
	ids     map[string]bool
	readErr error
}

func (c *mapCache) HasProcessed(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return false, c.readErr
	}
	return c.ids[id], nil
}

func (c *mapCache) MarkProcessed(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ids == nil {
		c.ids = map[string]bool{}
	}
	c.ids[id] = true
	return nil
}

func paid(orderID, userID, amount string) domain.PaymentEvent {
	return domain.PaymentEvent{
		Provider:        domain.ProviderCryptomus,
		ExternalOrderID: orderID,
		UserID:          userID,
		Amount:          decimal.RequireFromString(amount),
		Currency:        "USDT",
		Status:          domain.StatusPaid,
		IsFinal:         true,
	}
}

func newService(ledger LedgerStore, cache ProcessedCache) *Service {
	return NewService(discard(), ledger, cache, map[domain.Provider]Verifier{
		domain.ProviderCryptomus: signature.NewVerifier("cs", "sign"),
		domain.ProviderTlync:     signature.NewVerifier("ts", ""),
	})
}

func TestApply_CreditsThenDedups(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store, nil)

	res, err := svc.Apply(ctx, paid("X1", "42", "3.00"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.True(t, res.Record.Amount.Equal(decimal.RequireFromString("3.00")))

	res, err = svc.Apply(ctx, paid("X1", "42", "3.00"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.True(t, res.Record.Amount.Equal(decimal.RequireFromString("3.00")))

	rec, err := svc.Balance(ctx, "42")
	require.NoError(t, err)
	assert.True(t, rec.Amount.Equal(decimal.RequireFromString("3.00")))
}

func TestApply_IgnoresNonFinalOrUnpaid(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store, nil)

	pending := paid("X1", "42", "3")
	pending.Status = domain.StatusPending
	notFinal := paid("X2", "42", "3")
	notFinal.IsFinal = false

	for _, ev := range []domain.PaymentEvent{pending, notFinal} {
		res, err := svc.Apply(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, res.Outcome)
	}
	_, err := svc.Balance(ctx, "42")
	assert.ErrorIs(t, err, domain.ErrBalanceNotFound)
}

func TestApply_ConcurrentCreditsSum(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store, &mapCache{})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every order is delivered twice
			for j := 0; j < 2; j++ {
				_, err := svc.Apply(ctx, paid(fmt.Sprintf("order-%d", i), "7", "1.10"))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	rec, err := svc.Balance(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "55", rec.Amount.String())
	assert.Len(t, store.Payments(), n)
}

func TestApply_OrderIDsAreScopedByProvider(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cache := &mapCache{}
	svc := newService(store, cache)

	_, err := svc.Apply(ctx, paid("shared-1", "42", "3"))
	require.NoError(t, err)

	other := paid("shared-1", "77", "5")
	other.Provider = domain.ProviderTlync
	res, err := svc.Apply(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "77", res.Record.UserID)
	assert.Equal(t, "5", res.Record.Amount.String())
	assert.True(t, cache.ids["tlync:shared-1"])
}

func TestApply_StorageErrorIsRetryable(t *testing.T) {
	ledger := &failingLedger{err: errors.New("connection refused")}
	cache := &mapCache{}
	svc := newService(ledger, cache)

	_, err := svc.Apply(context.Background(), paid("X1", "42", "3"))
	require.Error(t, err)

	var serr *domain.StorageError
	assert.True(t, errors.As(err, &serr))
	assert.False(t, cache.ids["cryptomus:X1"], "failed credits are not cached as processed")
}

func TestApply_CacheFastPath(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cache := &mapCache{}
	svc := newService(store, cache)

	_, err := svc.Apply(ctx, paid("X1", "42", "3"))
	require.NoError(t, err)
	assert.True(t, cache.ids["cryptomus:X1"])

	res, err := svc.Apply(ctx, paid("X1", "42", "3"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, "3", res.Record.Amount.String())
}

func TestApply_CacheHitWithoutBalanceFallsThrough(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cache := &mapCache{ids: map[string]bool{"cryptomus:X1": true}}
	svc := newService(store, cache)

	res, err := svc.Apply(ctx, paid("X1", "42", "3"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
}

func TestApply_CacheReadErrorIsNotFatal(t *testing.T) {
	store := memory.NewStore()
	svc := newService(store, &mapCache{readErr: errors.New("redis down")})

	res, err := svc.Apply(context.Background(), paid("X1", "42", "3"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store, nil)

	body := []byte(`{"order_id":"basic-42-n1","amount":"3.00","currency":"USDT","status":"paid","is_final":true}`)
	sig, err := signature.NewVerifier("cs", "sign").Sign(body)
	require.NoError(t, err)
	signed := []byte(`{"order_id":"basic-42-n1","amount":"3.00","currency":"USDT","status":"paid","is_final":true,"sign":"` + sig + `"}`)

	t.Run("valid", func(t *testing.T) {
		res, err := svc.Ingest(ctx, domain.ProviderCryptomus, signed, sig)
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, res.Outcome)
		assert.Equal(t, "42", res.Record.UserID)
	})

	t.Run("bad signature", func(t *testing.T) {
		_, err := svc.Ingest(ctx, domain.ProviderCryptomus, signed, strings.Repeat("0", 64))
		assert.ErrorIs(t, err, domain.ErrVerificationFailed)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := svc.Ingest(ctx, domain.Provider("paypal"), signed, sig)
		var nerr *domain.NormalizationError
		assert.True(t, errors.As(err, &nerr))
	})

	t.Run("signed but invalid payload", func(t *testing.T) {
		bad := []byte(`{"custom_ref":"nohyphen","amount":1,"result":"success"}`)
		tsig, err := signature.NewVerifier("ts", "").Sign(bad)
		require.NoError(t, err)
		_, err = svc.Ingest(ctx, domain.ProviderTlync, bad, tsig)
		var nerr *domain.NormalizationError
		assert.True(t, errors.As(err, &nerr))
	})
}

func TestConsume(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store, nil)

	_, err := svc.Consume(ctx, "42", decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Consume(ctx, "42", decimal.RequireFromString("0.000000001"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Consume(ctx, "42", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrBalanceNotFound)

	_, err = svc.Apply(ctx, paid("X1", "42", "2"))
	require.NoError(t, err)

	rec, err := svc.Consume(ctx, "42", decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.Equal(t, "1.5", rec.Amount.String())

	failing := newService(&failingLedger{err: errors.New("timeout")}, nil)
	_, err = failing.Consume(ctx, "42", decimal.NewFromInt(1))
	var serr *domain.StorageError
	assert.True(t, errors.As(err, &serr))
}
