package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"multiplier-trade-bot-go/internal/config"
	"multiplier-trade-bot-go/internal/gmgn"
	"multiplier-trade-bot-go/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrRetryExhausted means an order submission or fill confirmation ran
	// out of its retry budget. The position escalates to FAULTED with its
	// remaining quantity untouched.
	ErrRetryExhausted = errors.New("order retry budget exhausted")

	// ErrOrderFailed means the venue definitively reported the order as
	// failed.
	ErrOrderFailed = errors.New("venue reported order failed")
)

// attemptRecorder persists per-leg submission attempt counts for audit.
type attemptRecorder interface {
	RecordAttempt(legID uint) error
}

// OrderExecutor wraps the order gateway with idempotent submission, bounded
// exponential-backoff retry on transient failures, and fill confirmation
// polling. It never assumes a fill it cannot confirm.
type OrderExecutor struct {
	gateway     gmgn.Gateway
	attempts    attemptRecorder
	logger      *zap.Logger
	maxAttempts int
	retryBase   time.Duration
	fillPoll    time.Duration
	fillTimeout time.Duration
}

// NewOrderExecutor creates an executor over the gateway with the configured
// retry budget.
func NewOrderExecutor(gateway gmgn.Gateway, attempts attemptRecorder, cfg *config.Executor, logger *zap.Logger) *OrderExecutor {
	return &OrderExecutor{
		gateway:     gateway,
		attempts:    attempts,
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
		retryBase:   time.Duration(cfg.RetryBaseMs) * time.Millisecond,
		fillPoll:    time.Duration(cfg.FillPollMs) * time.Millisecond,
		fillTimeout: time.Duration(cfg.FillTimeoutMs) * time.Millisecond,
	}
}

// Execute submits the leg's order and waits for a confirmed outcome. Every
// submission attempt carries the leg's client reference, so the venue
// deduplicates retries; every attempt is recorded against the leg, including
// failed ones. Returns the fill on FILLED, ErrOrderFailed when the venue
// rejects the order, and ErrRetryExhausted when the budget or the fill
// timeout runs out.
func (x *OrderExecutor) Execute(ctx context.Context, leg *models.TradeLeg, req gmgn.OrderRequest) (*gmgn.FillStatus, error) {
	l := x.logger.With(
		zap.String("client_ref", leg.ClientRef),
		zap.String("side", leg.Side),
		zap.String("trigger", leg.Trigger),
	)

	var lastErr error
	submitted := false
	for attempt := 1; attempt <= x.maxAttempts; attempt++ {
		if err := x.attempts.RecordAttempt(leg.ID); err != nil {
			l.Warn("Could not record submission attempt", zap.Error(err))
		}
		leg.Attempts++

		_, err := x.gateway.SubmitOrder(ctx, req)
		if err == nil {
			submitted = true
			break
		}
		lastErr = err

		if !gmgn.IsRetryable(err) {
			l.Error("Order submission failed with non-retryable error", zap.Error(err))
			return nil, fmt.Errorf("order submission failed: %w", err)
		}

		backoff := x.retryBase * time.Duration(1<<(attempt-1))
		l.Warn("Order submission failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !submitted {
		return nil, fmt.Errorf("submission failed after %d attempts (last error: %v): %w", x.maxAttempts, lastErr, ErrRetryExhausted)
	}

	return x.awaitFill(ctx, leg.ClientRef, l)
}

// awaitFill polls the venue until the order reaches a terminal status or the
// confirmation window closes.
func (x *OrderExecutor) awaitFill(ctx context.Context, clientRef string, l *zap.Logger) (*gmgn.FillStatus, error) {
	deadline := time.Now().Add(x.fillTimeout)

	for {
		fill, err := x.gateway.OrderStatus(ctx, clientRef)
		if err != nil {
			if !gmgn.IsRetryable(err) {
				return nil, fmt.Errorf("fill confirmation failed: %w", err)
			}
			l.Warn("Fill status query failed, will poll again", zap.Error(err))
		} else {
			switch fill.Status {
			case gmgn.FillFilled:
				l.Info("Order filled",
					zap.String("filled_qty", fill.FilledQuantity.String()),
					zap.String("price", fill.Price.String()),
				)
				return fill, nil
			case gmgn.FillFailed:
				return nil, fmt.Errorf("order %s: %w", clientRef, ErrOrderFailed)
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("fill confirmation timed out after %s: %w", x.fillTimeout, ErrRetryExhausted)
		}
		select {
		case <-time.After(x.fillPoll):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
