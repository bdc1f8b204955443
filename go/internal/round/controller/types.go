package controller

import (
	"time"

	"github.com/google/uuid"
	"github.com/oddsworks/spindle/go/internal/models"
)

// Config holds lifecycle tuning for the controller.
type Config struct {
	// WheelDurationSeconds is the betting window for timed wheel rounds.
	WheelDurationSeconds int
	// Cooldown is how long after a resolved round a fresh one may be created.
	Cooldown time.Duration
	// SettlementBudget is the expected time for settlement to complete. A
	// round resolving for longer than twice this budget is considered stuck
	// and eligible for watchdog retry.
	SettlementBudget time.Duration
}

// DefaultConfig returns the standard lifecycle tuning.
func DefaultConfig() Config {
	return Config{
		WheelDurationSeconds: 30,
		Cooldown:             8 * time.Second,
		SettlementBudget:     5 * time.Second,
	}
}

// StuckCutoff returns the watchdog retry threshold.
func (c Config) StuckCutoff() time.Duration {
	return 2 * c.SettlementBudget
}

// PlaceBetRequest is a bet on an existing round. Exactly one pick field is
// set depending on the round type.
type PlaceBetRequest struct {
	RoundID     uuid.UUID
	UserID      uuid.UUID
	Stake       int64
	PickSection *int
	PickColor   models.WheelColor
	PickSide    models.Side
}

// CreateCoinflipRequest opens a matched-pair round with the creator's bet.
type CreateCoinflipRequest struct {
	UserID     uuid.UUID
	Stake      int64
	Side       models.Side
	ClientSeed string
}
