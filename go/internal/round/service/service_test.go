package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/oddsworks/spindle/go/internal/models"
	"github.com/oddsworks/spindle/go/internal/round/controller"
	"github.com/oddsworks/spindle/go/internal/round/notify"
	"github.com/oddsworks/spindle/go/internal/round/settle"
	"github.com/oddsworks/spindle/go/internal/round/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	svc    *Service
	ledger *settle.MemoryLedger
	clock  *clockwork.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	ledger := settle.NewMemoryLedger()
	clock := clockwork.NewFakeClock()
	ctrl := controller.NewApp(st, settle.NewProcessor(ledger), ledger, notify.NewLogPublisher(), clock, controller.DefaultConfig())
	return &harness{
		svc:    NewService(ctrl, st, nil, clock),
		ledger: ledger,
		clock:  clock,
	}
}

func TestCurrentRoundStartsTimedRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	round, err := h.svc.CurrentRound(ctx, models.RoundTypeWheel)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusActive, round.Status)
	assert.Equal(t, 30, h.svc.GetRemainingSeconds(round))

	// An observer joining later derives a smaller countdown from the same
	// CreatedAt.
	h.clock.Advance(12 * time.Second)
	assert.Equal(t, 18, h.svc.GetRemainingSeconds(round))
}

func TestPlaceBetWrapsFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	round, err := h.svc.CurrentRound(ctx, models.RoundTypeWheel)
	require.NoError(t, err)

	// Unfunded user: the cause stays internal, the user sees one error kind.
	_, err = h.svc.PlaceBet(ctx, controller.PlaceBetRequest{
		RoundID:   round.ID,
		UserID:    uuid.New(),
		Stake:     100,
		PickColor: models.WheelColorRed,
	})
	assert.ErrorIs(t, err, ErrCouldNotPlaceBet)

	_, err = h.svc.CreateCoinflip(ctx, controller.CreateCoinflipRequest{
		UserID: uuid.New(),
		Stake:  100,
		Side:   models.SideHeads,
	})
	assert.ErrorIs(t, err, ErrCouldNotPlaceBet)
}

func TestRequestResolveSwallowsIneligible(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	round, err := h.svc.CurrentRound(ctx, models.RoundTypeWheel)
	require.NoError(t, err)

	// A client whose countdown drifted early gets a silent no-op.
	assert.NoError(t, h.svc.RequestResolve(ctx, round.ID))

	got, err := h.svc.CurrentRound(ctx, models.RoundTypeWheel)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusActive, got.Status)
}

func TestPollLatestResolution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	require.NoError(t, h.ledger.Credit(ctx, userID, 100))

	_, err := h.svc.PollLatestResolution(ctx, userID)
	assert.ErrorIs(t, err, store.ErrNoResolution)

	round, err := h.svc.CurrentRound(ctx, models.RoundTypeWheel)
	require.NoError(t, err)
	_, err = h.svc.PlaceBet(ctx, controller.PlaceBetRequest{
		RoundID:   round.ID,
		UserID:    userID,
		Stake:     100,
		PickColor: models.WheelColorRed,
	})
	require.NoError(t, err)

	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.svc.RequestResolve(ctx, round.ID))

	ev, err := h.svc.PollLatestResolution(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, round.ID, ev.RoundID)
	assert.Equal(t, models.RoundTypeWheel, ev.Type)
	require.Len(t, ev.Payouts, 1)
	assert.Equal(t, userID, ev.Payouts[0].UserID)

	// Polling again redelivers the identical event; dedup is the observer's
	// job, not the poll's.
	again, err := h.svc.PollLatestResolution(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, ev, again)
}

func TestFlipAgainstBotSettlesLoneCreator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	require.NoError(t, h.ledger.Credit(ctx, userID, 100))

	round, err := h.svc.CreateCoinflip(ctx, controller.CreateCoinflipRequest{
		UserID: userID,
		Stake:  100,
		Side:   models.SideHeads,
	})
	require.NoError(t, err)

	require.NoError(t, h.svc.FlipAgainstBot(ctx, round.ID))

	ev, err := h.svc.PollLatestResolution(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, round.ID, ev.RoundID)
	require.Len(t, ev.Payouts, 2)
}

func TestSubscribeRequiresPushBus(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.svc.SubscribeToRoundUpdates(context.Background(), models.RoundTypeWheel)
	assert.Error(t, err)
}
