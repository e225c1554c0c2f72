package store

import (
	"errors"
	"fmt"
	"sync"

	"multiplier-trade-bot-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrVersionConflict means the position changed between the read that
	// produced a decision and the commit of that decision. The caller must
	// re-read and re-decide.
	ErrVersionConflict = errors.New("position changed underneath update")

	// ErrPositionExists means a live position already binds the symbol; only
	// one open position per symbol is allowed.
	ErrPositionExists = errors.New("a live position already exists for this symbol")
)

// liveStates match every state that still binds a symbol.
var liveStates = []string{
	models.StateOpening,
	models.StateOpen,
	models.StatePartialExited,
	models.StateFaulted,
}

// Store owns all Position and TradeLeg records. All mutations flow through
// Update, which serializes read-decide-write per symbol and persists the
// result atomically. State survives process restarts.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Store over an already-migrated database.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// symbolLock returns the mutex serializing mutations for one symbol.
func (s *Store) symbolLock(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		s.locks[symbol] = l
	}
	return l
}

// Live returns the position currently binding the symbol, with legs
// preloaded, or nil when the symbol is idle.
func (s *Store) Live(symbol string) (*models.Position, error) {
	var pos models.Position
	err := s.db.Preload("Legs").
		Where("symbol = ? AND state IN ?", symbol, liveStates).
		Order("id DESC").
		First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not load live position for %s: %w", symbol, err)
	}
	return &pos, nil
}

// Update atomically applies a decision for one symbol. The closure receives
// the current live position (nil when idle) and returns the next state of
// that position, possibly a brand new record, with any appended legs; a nil
// result commits nothing. The per-symbol lock serializes concurrent cycles,
// and an optimistic version check rejects a commit whose snapshot went stale
// (order execution happens outside this lock, so a reconciliation pass may
// have moved the position meanwhile).
func (s *Store) Update(symbol string, fn func(pos *models.Position) (*models.Position, error)) (*models.Position, error) {
	lock := s.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.Live(symbol)
	if err != nil {
		return nil, err
	}

	var snapshot int64
	if current != nil {
		snapshot = current.Version
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if next.ID == 0 {
			var count int64
			if err := tx.Model(&models.Position{}).
				Where("symbol = ? AND state IN ?", symbol, liveStates).
				Count(&count).Error; err != nil {
				return fmt.Errorf("could not check for live position: %w", err)
			}
			if count > 0 {
				return ErrPositionExists
			}
			next.Version = 1
			if err := tx.Create(next).Error; err != nil {
				return fmt.Errorf("could not create position: %w", err)
			}
			return nil
		}

		next.Version = snapshot + 1
		res := tx.Model(&models.Position{}).
			Where("id = ? AND version = ?", next.ID, snapshot).
			Updates(map[string]interface{}{
				"entry_price":        next.EntryPrice,
				"quantity_acquired":  next.QuantityAcquired,
				"quantity_remaining": next.QuantityRemaining,
				"allocation_quote":   next.AllocationQuote,
				"state":              next.State,
				"version":            next.Version,
			})
		if res.Error != nil {
			return fmt.Errorf("could not update position: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}

		for i := range next.Legs {
			leg := &next.Legs[i]
			leg.PositionID = next.ID
			if leg.ID == 0 {
				if err := tx.Create(leg).Error; err != nil {
					return fmt.Errorf("could not append trade leg: %w", err)
				}
			} else if err := tx.Model(&models.TradeLeg{}).
				Where("id = ?", leg.ID).
				Updates(map[string]interface{}{
					"status":          leg.Status,
					"filled_quantity": leg.FilledQuantity,
					"price":           leg.Price,
				}).Error; err != nil {
				return fmt.Errorf("could not update trade leg: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// RecordAttempt increments a leg's attempt counter. Every submission attempt
// is recorded, including failed ones, for after-the-fact audit. This bypasses
// the symbol lock: the counter is audit data, not decision state.
func (s *Store) RecordAttempt(legID uint) error {
	return s.db.Model(&models.TradeLeg{}).
		Where("id = ?", legID).
		UpdateColumn("attempts", gorm.Expr("attempts + ?", 1)).Error
}

// PendingLegs returns every leg still awaiting a confirmed outcome, oldest
// first. The engine reconciles these against the gateway on startup before
// any monitoring begins.
func (s *Store) PendingLegs() ([]models.TradeLeg, error) {
	var legs []models.TradeLeg
	if err := s.db.Where("status = ?", models.LegPending).
		Order("id ASC").
		Find(&legs).Error; err != nil {
		return nil, fmt.Errorf("could not load pending legs: %w", err)
	}
	return legs, nil
}

// PositionByID loads a position with its legs regardless of state.
func (s *Store) PositionByID(id uint) (*models.Position, error) {
	var pos models.Position
	if err := s.db.Preload("Legs").First(&pos, id).Error; err != nil {
		return nil, fmt.Errorf("could not load position %d: %w", id, err)
	}
	return &pos, nil
}
