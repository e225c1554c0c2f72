package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"multiplier-trade-bot-go/internal/config"
	"multiplier-trade-bot-go/internal/exchange"
	"multiplier-trade-bot-go/internal/gmgn"
	"multiplier-trade-bot-go/internal/models"
	"multiplier-trade-bot-go/internal/rugcheck"
	"multiplier-trade-bot-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Session is the authenticated-session capability the engine depends on. The
// engine checks validity before each cycle and asks for renewal; it never
// manages authentication itself.
type Session interface {
	Valid() bool
	Renew(ctx context.Context) error
}

// Engine runs one independent monitoring cycle per configured symbol and
// coordinates the strategy state machine with the order executor and the
// position store.
type Engine struct {
	logger     *zap.Logger
	cfg        *config.Config
	feed       exchange.MarketData
	validator  rugcheck.TokenValidator
	gateway    gmgn.Gateway
	session    Session
	store      *store.Store
	executor   *OrderExecutor
	params     StrategyParams
	netTimeout time.Duration
}

// NewEngine wires the engine. The minimum tradable unit is parsed here so a
// malformed value fails startup instead of a trading cycle.
func NewEngine(
	logger *zap.Logger,
	cfg *config.Config,
	feed exchange.MarketData,
	validator rugcheck.TokenValidator,
	gateway gmgn.Gateway,
	session Session,
	st *store.Store,
	executor *OrderExecutor,
) (*Engine, error) {
	unit, err := decimal.NewFromString(cfg.Trading.MinTradeUnit)
	if err != nil {
		return nil, fmt.Errorf("invalid trading.min_trade_unit %q: %w", cfg.Trading.MinTradeUnit, err)
	}
	if !unit.IsPositive() {
		return nil, fmt.Errorf("trading.min_trade_unit must be positive, got %s", unit)
	}

	hundred := decimal.NewFromInt(100)
	return &Engine{
		logger:    logger,
		cfg:       cfg,
		feed:      feed,
		validator: validator,
		gateway:   gateway,
		session:   session,
		store:     st,
		executor:  executor,
		params: StrategyParams{
			SellFraction2x: decimal.NewFromFloat(cfg.Trading.SellPercent2x).Div(hundred),
			SellFraction3x: decimal.NewFromFloat(cfg.Trading.SellPercent3x).Div(hundred),
			MinTradeUnit:   unit,
		},
		netTimeout: time.Duration(cfg.Executor.NetworkTimeoutSec) * time.Second,
	}, nil
}

// Run reconciles any orders left uncertain by a previous run, then monitors
// every configured symbol until the context is cancelled. A lost session
// halts all symbols.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, symbol := range e.cfg.Trading.Symbols {
		symbol := symbol
		g.Go(func() error {
			return e.monitorSymbol(ctx, symbol)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// monitorSymbol runs one symbol's fixed-interval monitoring loop.
func (e *Engine) monitorSymbol(ctx context.Context, symbol string) error {
	interval := time.Duration(e.cfg.Trading.IntervalSeconds) * time.Second
	l := e.logger.With(zap.String("symbol", symbol))
	l.Info("Starting monitoring loop", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Info("Stopping monitoring loop")
			return ctx.Err()
		case <-ticker.C:
			if err := e.cycle(ctx, symbol); err != nil {
				if errors.Is(err, gmgn.ErrSessionExpired) {
					l.Error("Trading session lost, halting all symbols", zap.Error(err))
					return err
				}
				if errors.Is(err, context.Canceled) {
					continue
				}
				l.Error("Monitoring cycle failed", zap.Error(err))
			}
		}
	}
}

// cycle performs one monitoring pass for a symbol: session gate, price
// sample, then evaluate-and-act until the position holds. A sample that gaps
// past both thresholds is handled in ascending order within this one cycle.
func (e *Engine) cycle(ctx context.Context, symbol string) error {
	if !e.session.Valid() {
		rctx, cancel := context.WithTimeout(ctx, e.netTimeout)
		err := e.session.Renew(rctx)
		cancel()
		if err != nil {
			return fmt.Errorf("session renewal failed (%v): %w", err, gmgn.ErrSessionExpired)
		}
	}

	fctx, cancel := context.WithTimeout(ctx, e.netTimeout)
	candle, err := e.feed.LatestCandle(fctx, symbol, e.cfg.Trading.Timeframe)
	cancel()
	if err != nil {
		// A feed gap is "no signal this cycle", never a zero price.
		if errors.Is(err, exchange.ErrNoCandle) {
			e.logger.Debug("No completed price sample this cycle", zap.String("symbol", symbol))
		} else {
			e.logger.Warn("Price feed unavailable this cycle", zap.String("symbol", symbol), zap.Error(err))
		}
		return nil
	}
	price := candle.Close

	for first := true; ; first = false {
		pos, err := e.store.Live(symbol)
		if err != nil {
			return err
		}

		decision := Evaluate(pos, price, e.params)
		switch decision.Action {
		case ActionEnter:
			// A position closed earlier in this same cycle returns the
			// symbol to IDLE for the next cycle, not an immediate re-entry.
			if !first {
				return nil
			}
			return e.enter(ctx, symbol, price)
		case ActionSell:
			if err := e.sell(ctx, pos, decision, price); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// enter validates the symbol's token and, on a GOOD verdict, opens a position
// sized from the free quote balance. The OPENING row with its PENDING entry
// leg is the race-safe claim on the symbol; execution happens outside the
// store lock.
func (e *Engine) enter(ctx context.Context, symbol string, price decimal.Decimal) error {
	l := e.logger.With(zap.String("symbol", symbol))
	td := e.cfg.Trading.Tokens[symbol]

	vctx, cancel := context.WithTimeout(ctx, e.netTimeout)
	verdict := e.validator.Validate(vctx, td.Chain, td.ContractAddress)
	cancel()

	switch verdict {
	case models.VerdictGood:
		// fall through to sizing
	case models.VerdictBad:
		l.Warn("Token failed safety validation", zap.String("contract", td.ContractAddress))
		_, err := e.store.Update(symbol, func(cur *models.Position) (*models.Position, error) {
			if cur != nil {
				return nil, nil
			}
			return &models.Position{
				Symbol:          symbol,
				Chain:           td.Chain,
				ContractAddress: td.ContractAddress,
				State:           models.StateRejected,
			}, nil
		})
		return err
	default:
		// Unreachable or ambiguous validator: no funds at risk, retry next
		// interval.
		l.Info("Token verdict unknown, retrying next cycle", zap.String("contract", td.ContractAddress))
		return nil
	}

	if !price.IsPositive() {
		l.Warn("Refusing to size an entry from a non-positive price", zap.String("price", price.String()))
		return nil
	}

	bctx, cancel := context.WithTimeout(ctx, e.netTimeout)
	balance, err := e.feed.FreeBalance(bctx, quoteAsset(symbol))
	cancel()
	if err != nil {
		return fmt.Errorf("could not fetch balance for entry sizing: %w", err)
	}

	allocPct := decimal.NewFromFloat(e.cfg.Trading.AllocationPercent)
	maxPct := decimal.NewFromFloat(e.cfg.Trading.MaxAllocationPercent)
	if allocPct.GreaterThan(maxPct) {
		allocPct = maxPct
	}
	alloc := balance.Mul(allocPct).Div(decimal.NewFromInt(100))
	qty := FloorToUnit(alloc.Div(price), e.params.MinTradeUnit)
	if !qty.IsPositive() {
		l.Info("Allocation too small to trade",
			zap.String("allocation", alloc.String()),
			zap.String("price", price.String()),
		)
		return nil
	}

	claimed := false
	pos, err := e.store.Update(symbol, func(cur *models.Position) (*models.Position, error) {
		if cur != nil {
			return nil, nil // a concurrent cycle claimed the symbol first
		}
		claimed = true
		return &models.Position{
			Symbol:          symbol,
			Chain:           td.Chain,
			ContractAddress: td.ContractAddress,
			EntryPrice:      price,
			AllocationQuote: alloc,
			State:           models.StateOpening,
			Legs: []models.TradeLeg{{
				Side:              models.SideBuy,
				Trigger:           models.TriggerEntry,
				ClientRef:         uuid.NewString(),
				RequestedQuantity: qty,
				Price:             price,
				Status:            models.LegPending,
			}},
		}, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrPositionExists) {
			return nil
		}
		return err
	}
	if !claimed {
		return nil
	}

	leg := &pos.Legs[0]
	l.Info("Opening position",
		zap.String("entry_price", price.String()),
		zap.String("quantity", qty.String()),
		zap.String("allocation", alloc.String()),
		zap.String("client_ref", leg.ClientRef),
	)

	fill, execErr := e.executor.Execute(ctx, leg, gmgn.OrderRequest{
		ClientRef:  leg.ClientRef,
		Side:       models.SideBuy,
		TokenIn:    td.InputToken,
		TokenOut:   td.OutputToken,
		Quantity:   qty,
		LimitPrice: price,
	})
	return e.commitLeg(symbol, pos.ID, leg.ID, fill, execErr)
}

// sell records a PENDING sell leg for the triggered threshold, executes it
// outside the store lock, and commits the resulting transition.
func (e *Engine) sell(ctx context.Context, pos *models.Position, d Decision, price decimal.Decimal) error {
	symbol := pos.Symbol
	td := e.cfg.Trading.Tokens[symbol]
	l := e.logger.With(zap.String("symbol", symbol), zap.String("trigger", d.Trigger))

	appended := false
	updated, err := e.store.Update(symbol, func(cur *models.Position) (*models.Position, error) {
		if cur == nil || cur.ID != pos.ID {
			return nil, nil // position moved underneath the decision
		}
		if cur.LegFor(d.Trigger) != nil {
			return nil, nil // trigger already recorded; checks are monotonic
		}
		appended = true
		cur.Legs = append(cur.Legs, models.TradeLeg{
			Side:              models.SideSell,
			Trigger:           d.Trigger,
			ClientRef:         uuid.NewString(),
			RequestedQuantity: d.Quantity,
			Price:             price,
			Status:            models.LegPending,
		})
		return cur, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil // re-read next cycle
		}
		return err
	}
	if !appended {
		return nil
	}

	leg := updated.LegFor(d.Trigger)
	l.Info("Selling on multiplier trigger",
		zap.String("quantity", d.Quantity.String()),
		zap.String("price", price.String()),
		zap.String("client_ref", leg.ClientRef),
	)

	// Sells swap in the opposite direction of the entry.
	fill, execErr := e.executor.Execute(ctx, leg, gmgn.OrderRequest{
		ClientRef:  leg.ClientRef,
		Side:       models.SideSell,
		TokenIn:    td.OutputToken,
		TokenOut:   td.InputToken,
		Quantity:   d.Quantity,
		LimitPrice: price,
	})
	return e.commitLeg(symbol, pos.ID, leg.ID, fill, execErr)
}

// commitLeg re-acquires the symbol lock and commits an execution outcome. A
// session loss or shutdown leaves the leg PENDING for the next run's
// reconciliation: an uncertain order is never discarded, and a fill the
// engine could not confirm is never assumed.
func (e *Engine) commitLeg(symbol string, posID, legID uint, fill *gmgn.FillStatus, execErr error) error {
	if execErr != nil &&
		(errors.Is(execErr, gmgn.ErrSessionExpired) || errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded)) {
		return execErr
	}

	_, err := e.store.Update(symbol, func(pos *models.Position) (*models.Position, error) {
		if pos == nil || pos.ID != posID {
			return nil, nil
		}
		var leg *models.TradeLeg
		for i := range pos.Legs {
			if pos.Legs[i].ID == legID {
				leg = &pos.Legs[i]
				break
			}
		}
		if leg == nil || leg.Status != models.LegPending {
			return nil, nil
		}
		if execErr != nil {
			applyFailure(pos, leg)
		} else {
			applyFill(pos, leg, fill)
		}
		return pos, nil
	})
	if err != nil {
		return err
	}

	if execErr != nil {
		e.logger.Error("Order execution failed, position faulted for manual intervention",
			zap.String("symbol", symbol),
			zap.Error(execErr),
		)
	}
	return nil
}

// reconcile resolves every PENDING leg from a previous run against the
// gateway before monitoring starts, so an open position is never silently
// re-entered and no uncertain order is abandoned.
func (e *Engine) reconcile(ctx context.Context) error {
	legs, err := e.store.PendingLegs()
	if err != nil {
		return err
	}
	if len(legs) == 0 {
		return nil
	}
	e.logger.Info("Reconciling pending trade legs from previous run", zap.Int("count", len(legs)))

	for _, leg := range legs {
		pos, err := e.store.PositionByID(leg.PositionID)
		if err != nil {
			return err
		}

		sctx, cancel := context.WithTimeout(ctx, e.netTimeout)
		fill, err := e.gateway.OrderStatus(sctx, leg.ClientRef)
		cancel()
		if err != nil {
			if errors.Is(err, gmgn.ErrSessionExpired) {
				return err
			}
			e.logger.Warn("Could not reconcile pending leg, leaving for a later run",
				zap.String("client_ref", leg.ClientRef),
				zap.Error(err),
			)
			continue
		}

		switch fill.Status {
		case gmgn.FillFilled:
			err = e.commitLeg(pos.Symbol, pos.ID, leg.ID, fill, nil)
		case gmgn.FillFailed:
			err = e.commitLeg(pos.Symbol, pos.ID, leg.ID, nil, ErrOrderFailed)
		default:
			e.logger.Info("Leg still pending at the venue",
				zap.String("client_ref", leg.ClientRef),
			)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// applyFill applies a confirmed fill to its position.
func applyFill(pos *models.Position, leg *models.TradeLeg, fill *gmgn.FillStatus) {
	leg.Status = models.LegFilled
	leg.FilledQuantity = fill.FilledQuantity
	if fill.Price.IsPositive() {
		leg.Price = fill.Price
	}

	switch leg.Trigger {
	case models.TriggerEntry:
		if fill.Price.IsPositive() {
			pos.EntryPrice = fill.Price
		}
		pos.QuantityAcquired = fill.FilledQuantity
		pos.QuantityRemaining = fill.FilledQuantity
		pos.State = models.StateOpen
	case models.Trigger2x:
		pos.QuantityRemaining = pos.QuantityRemaining.Sub(fill.FilledQuantity)
		if pos.QuantityRemaining.IsNegative() {
			pos.QuantityRemaining = decimal.Zero
		}
		// A 2x sell configured at 100 percent exits the whole position; there
		// is nothing left for a 3x leg to sell.
		if pos.QuantityRemaining.IsZero() {
			pos.State = models.StateClosed
		} else {
			pos.State = models.StatePartialExited
		}
	case models.Trigger3x:
		pos.QuantityRemaining = pos.QuantityRemaining.Sub(fill.FilledQuantity)
		if pos.QuantityRemaining.IsNegative() {
			pos.QuantityRemaining = decimal.Zero
		}
		pos.State = models.StateClosed
	}
}

// applyFailure marks a leg failed and faults the position. The remaining
// quantity is left untouched for manual intervention.
func applyFailure(pos *models.Position, leg *models.TradeLeg) {
	leg.Status = models.LegFailed
	pos.State = models.StateFaulted
}
