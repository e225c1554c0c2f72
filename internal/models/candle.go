package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one completed OHLCV observation for a timeframe. The feed adapter
// only ever returns completed candles; threshold checks never see provisional
// intra-candle data.
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}
