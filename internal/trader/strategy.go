package trader

import (
	"strings"

	"multiplier-trade-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// Decision actions.
const (
	ActionHold  = "HOLD"
	ActionEnter = "ENTER"
	ActionSell  = "SELL"
)

// StrategyParams are the per-run multiplier-strategy parameters, fixed at
// startup.
type StrategyParams struct {
	SellFraction2x decimal.Decimal // fraction of remaining to sell at 2x
	SellFraction3x decimal.Decimal // fraction of remaining to sell at 3x
	MinTradeUnit   decimal.Decimal // asset's minimum tradable unit
}

// Decision is the outcome of evaluating one price sample against a position.
type Decision struct {
	Action   string
	Trigger  string
	Quantity decimal.Decimal
}

var (
	two   = decimal.NewFromInt(2)
	three = decimal.NewFromInt(3)
)

// Evaluate is the strategy state machine, pure over its inputs. It returns at
// most one action for the given sample; after committing an action the caller
// re-evaluates with the same price, so a sample that gaps past both
// thresholds sells the 2x leg first and the 3x leg from the post-2x
// remainder.
//
// Multiplier checks are monotonic: once a leg exists for a trigger, in any
// status, that threshold is never evaluated again for the position.
func Evaluate(pos *models.Position, price decimal.Decimal, p StrategyParams) Decision {
	if pos == nil || !pos.Live() {
		return Decision{Action: ActionEnter}
	}

	// OPENING means an entry is awaiting confirmation, FAULTED means an
	// operator owns the position; a pending leg of any kind means an order
	// outcome is still uncertain. No decision is taken over uncertain state.
	if pos.State == models.StateOpening || pos.State == models.StateFaulted || pos.HasPendingLeg() {
		return Decision{Action: ActionHold}
	}

	if pos.State == models.StateOpen && pos.LegFor(models.Trigger2x) == nil {
		if price.GreaterThanOrEqual(pos.EntryPrice.Mul(two)) {
			qty := FloorToUnit(pos.QuantityRemaining.Mul(p.SellFraction2x), p.MinTradeUnit)
			if qty.IsPositive() {
				return Decision{Action: ActionSell, Trigger: models.Trigger2x, Quantity: qty}
			}
		}
		return Decision{Action: ActionHold}
	}

	if pos.LegFor(models.Trigger3x) == nil && price.GreaterThanOrEqual(pos.EntryPrice.Mul(three)) {
		qty := FloorToUnit(pos.QuantityRemaining.Mul(p.SellFraction3x), p.MinTradeUnit)
		if qty.IsPositive() {
			return Decision{Action: ActionSell, Trigger: models.Trigger3x, Quantity: qty}
		}
	}

	return Decision{Action: ActionHold}
}

// FloorToUnit rounds a quantity down to a whole multiple of the asset's
// minimum tradable unit.
func FloorToUnit(qty, unit decimal.Decimal) decimal.Decimal {
	if !unit.IsPositive() {
		return qty
	}
	return qty.Div(unit).Floor().Mul(unit)
}

// quoteAsset extracts the quote asset from a BASE/QUOTE symbol, e.g.
// "SOL/USDT" -> "USDT".
func quoteAsset(symbol string) string {
	if _, quote, ok := strings.Cut(symbol, "/"); ok {
		return quote
	}
	return symbol
}
