package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Trade leg sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade leg triggers.
const (
	TriggerEntry = "ENTRY"
	Trigger2x    = "2X"
	Trigger3x    = "3X"
)

// Trade leg statuses. A leg moves PENDING -> FILLED or PENDING -> FAILED and
// never back.
const (
	LegPending = "PENDING"
	LegFilled  = "FILLED"
	LegFailed  = "FAILED"
)

// TradeLeg is one order execution within a position's lifecycle. Legs are
// append-only; ClientRef is the client-assigned idempotency reference passed
// to the venue so a retried submission cannot double-execute.
type TradeLeg struct {
	gorm.Model
	PositionID        uint            `gorm:"index;not null"`
	Side              string          `gorm:"not null"`
	Trigger           string          `gorm:"not null"`
	ClientRef         string          `gorm:"uniqueIndex;not null"`
	RequestedQuantity decimal.Decimal `gorm:"type:decimal(32,18)"`
	FilledQuantity    decimal.Decimal `gorm:"type:decimal(32,18)"`
	Price             decimal.Decimal `gorm:"type:decimal(32,18)"`
	Status            string          `gorm:"not null"`
	Attempts          int             `gorm:"not null;default:0"`
}
