package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmehra2102/payment-webhooks/internal/metrics"
	"github.com/dmehra2102/payment-webhooks/internal/payment/domain"
	"github.com/dmehra2102/payment-webhooks/internal/payment/provider"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type Result struct {
	Event   domain.PaymentEvent
	Record  domain.BalanceRecord
	Outcome Outcome
}

// Verifier checks a raw body against the signature the provider attached.
type Verifier interface {
	Verify(raw []byte, provided string) bool
}

type Service struct {
	log       *slog.Logger
	ledger    LedgerStore
	cache     ProcessedCache
	verifiers map[domain.Provider]Verifier
	tracer    trace.Tracer
}

func NewService(log *slog.Logger, ledger LedgerStore, cache ProcessedCache, verifiers map[domain.Provider]Verifier) *Service {
	return &Service{
		log:       log,
		ledger:    ledger,
		cache:     cache,
		verifiers: verifiers,
		tracer:    otel.Tracer("payment-service"),
	}
}

// Ingest runs a raw callback through verification, normalization and the ledger.
func (s *Service) Ingest(ctx context.Context, p domain.Provider, raw []byte, signature string) (Result, error) {
	v, ok := s.verifiers[p]
	if !ok {
		return Result{}, &domain.NormalizationError{Provider: p, Reason: "unknown provider"}
	}
	if !v.Verify(raw, signature) {
		metrics.SignatureFailures.WithLabelValues(string(p)).Inc()
		return Result{}, domain.ErrVerificationFailed
	}

	ev, err := provider.Normalize(p, raw)
	if err != nil {
		return Result{}, err
	}
	return s.Apply(ctx, ev)
}

// Apply credits a normalized event at most once per provider and ExternalOrderID.
func (s *Service) Apply(ctx context.Context, ev domain.PaymentEvent) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerApply", trace.WithAttributes(
		attribute.String("provider", string(ev.Provider)),
		attribute.String("external_order_id", ev.ExternalOrderID),
	))
	defer span.End()

	res := Result{Event: ev}
	if !ev.Creditable() {
		s.log.Info("payment event ignored", "provider", ev.Provider, "order_id", ev.ExternalOrderID, "status", ev.Status, "final", ev.IsFinal)
		res.Outcome = OutcomeIgnored
		return res, nil
	}

	if s.seen(ctx, ev.DedupKey()) {
		rec, err := s.ledger.Balance(ctx, ev.UserID)
		if err == nil {
			s.log.Info("duplicate payment event skipped", "provider", ev.Provider, "order_id", ev.ExternalOrderID)
			metrics.LedgerDuplicates.WithLabelValues(string(ev.Provider)).Inc()
			res.Record, res.Outcome = rec, OutcomeDuplicate
			return res, nil
		}
		// Cache and ledger disagree; the ledger decides.
		s.log.Warn("processed cache hit without balance", "order_id", ev.ExternalOrderID, "err", err)
	}

	rec, applied, err := s.ledger.Credit(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credit failed")
		s.log.Error("ledger credit failed", "provider", ev.Provider, "order_id", ev.ExternalOrderID, "err", err)
		return Result{}, domain.NewStorageError("credit", err)
	}
	res.Record = rec

	if applied {
		res.Outcome = OutcomeApplied
		amount, _ := ev.Amount.Float64()
		metrics.LedgerCredits.WithLabelValues(string(ev.Provider)).Inc()
		metrics.CreditedAmount.WithLabelValues(string(ev.Provider), ev.Currency).Add(amount)
		s.log.Info("balance credited", "provider", ev.Provider, "order_id", ev.ExternalOrderID, "user_id", ev.UserID, "amount", ev.Amount.String(), "balance", rec.Amount.String())
	} else {
		res.Outcome = OutcomeDuplicate
		metrics.LedgerDuplicates.WithLabelValues(string(ev.Provider)).Inc()
		s.log.Info("duplicate payment event skipped", "provider", ev.Provider, "order_id", ev.ExternalOrderID)
	}

	if s.cache != nil {
		if err := s.cache.MarkProcessed(ctx, ev.DedupKey()); err != nil {
			s.log.Warn("processed cache write failed", "order_id", ev.ExternalOrderID, "err", err)
		}
	}
	return res, nil
}

func (s *Service) seen(ctx context.Context, key string) bool {
	if s.cache == nil {
		return false
	}
	ok, err := s.cache.HasProcessed(ctx, key)
	if err != nil {
		s.log.Warn("processed cache read failed", "key", key, "err", err)
		return false
	}
	return ok
}

func (s *Service) Balance(ctx context.Context, userID string) (domain.BalanceRecord, error) {
	rec, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrBalanceNotFound) {
			return domain.BalanceRecord{}, err
		}
		return domain.BalanceRecord{}, domain.NewStorageError("balance", err)
	}
	return rec, nil
}

// Consume debits usage from a balance. The stored amount never drops below zero.
func (s *Service) Consume(ctx context.Context, userID string, amount decimal.Decimal) (domain.BalanceRecord, error) {
	if !amount.IsPositive() {
		return domain.BalanceRecord{}, fmt.Errorf("%w: consume amount must be positive", domain.ErrInvalidAmount)
	}
	if err := domain.CheckAmount(amount); err != nil {
		return domain.BalanceRecord{}, err
	}
	rec, err := s.ledger.Consume(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, domain.ErrBalanceNotFound) {
			return domain.BalanceRecord{}, err
		}
		return domain.BalanceRecord{}, domain.NewStorageError("consume", err)
	}
	s.log.Info("balance consumed", "user_id", userID, "amount", amount.String(), "balance", rec.Amount.String())
	return rec, nil
}
