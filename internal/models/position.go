package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Position lifecycle states. CLOSED and REJECTED are terminal but release the
// symbol for a fresh cycle; FAULTED is terminal and keeps the symbol blocked
// until an operator intervenes.
const (
	StateOpening       = "OPENING"
	StateOpen          = "OPEN"
	StatePartialExited = "PARTIAL_EXITED"
	StateClosed        = "CLOSED"
	StateRejected      = "REJECTED"
	StateFaulted       = "FAULTED"
)

// Position is the authoritative record of one trading cycle for a symbol.
// QuantityRemaining never exceeds QuantityAcquired and only decreases as sell
// legs fill.
type Position struct {
	gorm.Model
	Symbol            string          `gorm:"index;not null"`
	Chain             string          `gorm:"not null"`
	ContractAddress   string          `gorm:"not null"`
	EntryPrice        decimal.Decimal `gorm:"type:decimal(32,18)"`
	QuantityAcquired  decimal.Decimal `gorm:"type:decimal(32,18)"`
	QuantityRemaining decimal.Decimal `gorm:"type:decimal(32,18)"`
	AllocationQuote   decimal.Decimal `gorm:"type:decimal(32,18)"`
	State             string          `gorm:"not null"`
	Version           int64           `gorm:"not null;default:0"`
	Legs              []TradeLeg      `gorm:"foreignKey:PositionID"`
}

// Live reports whether the position still binds its symbol. CLOSED and
// REJECTED positions release the symbol; everything else (including FAULTED)
// keeps it bound.
func (p *Position) Live() bool {
	return p.State != StateClosed && p.State != StateRejected
}

// HasPendingLeg reports whether any leg is still awaiting a confirmed
// outcome. The strategy takes no decision while an order is uncertain.
func (p *Position) HasPendingLeg() bool {
	for i := range p.Legs {
		if p.Legs[i].Status == LegPending {
			return true
		}
	}
	return false
}

// LegFor returns the first leg recorded for the given trigger, or nil.
// Multiplier triggers are monotonic: once a 2X or 3X leg exists, in any
// status, that threshold is never evaluated again for this position.
func (p *Position) LegFor(trigger string) *TradeLeg {
	for i := range p.Legs {
		if p.Legs[i].Trigger == trigger {
			return &p.Legs[i]
		}
	}
	return nil
}
