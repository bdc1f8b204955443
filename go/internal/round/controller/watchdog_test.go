package controller

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oddsworks/spindle/go/internal/models"
	"github.com/oddsworks/spindle/go/internal/round/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchdogResolvesOverdueRound(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	userID := uuid.New()
	f.fund(t, userID, 100)

	round, err := f.app.EnsureActiveRound(ctx, models.RoundTypeWheel)
	require.NoError(t, err)
	_, err = f.app.PlaceBet(ctx, PlaceBetRequest{RoundID: round.ID, UserID: userID, Stake: 100, PickColor: models.WheelColorRed})
	require.NoError(t, err)

	wd := NewWatchdog(f.app, f.clock, time.Second)
	go func() {
		_ = wd.Run(ctx)
	}()
	f.clock.BlockUntil(1)

	// The round's deadline passes with no observer asking to resolve.
	f.clock.Advance(31 * time.Second)

	require.Eventually(t, func() bool {
		got, err := f.store.GetRound(ctx, round.ID)
		return err == nil && got.Status == models.RoundStatusResolved
	}, 2*time.Second, 10*time.Millisecond, "watchdog never resolved the overdue round")

	assert.Equal(t, 1, f.ledger.EntryCount())
}

func TestWatchdogRetriesStuckRound(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	creator := uuid.New()
	joiner := uuid.New()
	f.fund(t, creator, 100)
	f.fund(t, joiner, 100)

	round, err := f.app.CreateCoinflip(ctx, CreateCoinflipRequest{UserID: creator, Stake: 100, Side: models.SideHeads})
	require.NoError(t, err)

	// The join-triggered settlement dies against the ledger, leaving the
	// round RESOLVING.
	f.ledger.FailNextPayouts(1)
	stuck, err := f.app.PlaceBet(ctx, PlaceBetRequest{RoundID: round.ID, UserID: joiner, Stake: 100, PickSide: models.SideTails})
	require.NoError(t, err)
	require.Equal(t, models.RoundStatusResolving, stuck.Status)

	wd := NewWatchdog(f.app, f.clock, time.Second)
	go func() {
		_ = wd.Run(ctx)
	}()
	f.clock.BlockUntil(1)

	f.clock.Advance(f.app.cfg.StuckCutoff() + 2*time.Second)

	require.Eventually(t, func() bool {
		got, err := f.store.GetRound(ctx, round.ID)
		return err == nil && got.Status == models.RoundStatusResolved
	}, 2*time.Second, 10*time.Millisecond, "watchdog never retried the stuck round")

	// The retried settlement pays each participant exactly once.
	total := f.ledger.Balance(creator) + f.ledger.Balance(joiner)
	assert.Equal(t, int64(200), total)
	assert.Equal(t, 2, f.ledger.EntryCount())
}

func TestWatchdogParksUnresolvableRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A round whose type no selector recognizes can never settle; retries
	// are pointless.
	staleAt := f.clock.Now().Add(-time.Hour)
	round, err := f.store.CreateRound(ctx, store.CreateRoundRequest{
		ID:              uuid.New(),
		Type:            models.RoundType("MYSTERY"),
		DurationSeconds: 30,
		ServerSeed:      "seed",
		ServerSeedHash:  "hash",
		CreatedAt:       staleAt,
	})
	require.NoError(t, err)
	won, err := f.store.ConditionalTransition(ctx, round.ID, models.RoundStatusActive, models.RoundStatusResolving, staleAt)
	require.NoError(t, err)
	require.True(t, won)

	wd := NewWatchdog(f.app, f.clock, time.Second)
	wd.handle(ctx, job{roundID: round.ID, stuck: true}, 0)

	wd.inFlightMu.Lock()
	parked := wd.parked[round.ID]
	wd.inFlightMu.Unlock()
	assert.True(t, parked)

	// The round still shows as stuck but later sweeps leave it alone.
	require.NoError(t, wd.sweep(ctx))
	assert.Empty(t, wd.workCh)

	got, err := f.store.GetRound(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusResolving, got.Status)
}

func TestWatchdogIgnoresHealthyRounds(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	round, err := f.app.EnsureActiveRound(ctx, models.RoundTypeWheel)
	require.NoError(t, err)

	wd := NewWatchdog(f.app, f.clock, time.Second)
	go func() {
		_ = wd.Run(ctx)
	}()
	f.clock.BlockUntil(1)

	// A sweep before the deadline leaves the round alone.
	f.clock.Advance(time.Second)

	assert.Never(t, func() bool {
		got, err := f.store.GetRound(ctx, round.ID)
		return err == nil && got.Status != models.RoundStatusActive
	}, 200*time.Millisecond, 20*time.Millisecond)
}
