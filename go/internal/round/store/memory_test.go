package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oddsworks/spindle/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTimedRound(t *testing.T, s *MemoryStore, createdAt time.Time) *models.Round {
	t.Helper()
	round, err := s.CreateRound(context.Background(), CreateRoundRequest{
		ID:              uuid.New(),
		Type:            models.RoundTypeWheel,
		DurationSeconds: 30,
		ServerSeed:      "seed",
		ServerSeedHash:  "hash",
		CreatedAt:       createdAt,
	})
	require.NoError(t, err)
	return round
}

func TestConditionalTransitionExactlyOneWinner(t *testing.T) {
	s := NewMemoryStore()
	round := newTimedRound(t, s, time.Now())
	ctx := context.Background()

	const callers = 32
	var wg sync.WaitGroup
	wins := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.ConditionalTransition(ctx, round.ID, models.RoundStatusActive, models.RoundStatusResolving, time.Now())
			assert.NoError(t, err)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	got, err := s.GetRound(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusResolving, got.Status)
}

func TestConditionalTransitionWrongFrom(t *testing.T) {
	s := NewMemoryStore()
	round := newTimedRound(t, s, time.Now())
	ctx := context.Background()

	won, err := s.ConditionalTransition(ctx, round.ID, models.RoundStatusResolving, models.RoundStatusResolved, time.Now())
	require.NoError(t, err)
	assert.False(t, won)

	got, err := s.GetRound(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusActive, got.Status)
}

func TestConditionalTransitionMissingRound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.ConditionalTransition(context.Background(), uuid.New(), models.RoundStatusActive, models.RoundStatusResolving, time.Now())
	assert.ErrorIs(t, err, ErrRoundNotFound)
}

func TestAppendParticipantOnlyWhileActive(t *testing.T) {
	s := NewMemoryStore()
	round := newTimedRound(t, s, time.Now())
	ctx := context.Background()

	p := models.Participant{ID: uuid.New(), RoundID: round.ID, UserID: uuid.New(), Stake: 100}
	require.NoError(t, s.AppendParticipant(ctx, round.ID, p))

	won, err := s.ConditionalTransition(ctx, round.ID, models.RoundStatusActive, models.RoundStatusResolving, time.Now())
	require.NoError(t, err)
	require.True(t, won)

	err = s.AppendParticipant(ctx, round.ID, models.Participant{ID: uuid.New(), UserID: uuid.New(), Stake: 100})
	assert.ErrorIs(t, err, ErrRoundNotAccepting)
}

func TestAppendParticipantRejectsSecondBot(t *testing.T) {
	s := NewMemoryStore()
	round := newTimedRound(t, s, time.Now())
	ctx := context.Background()

	require.NoError(t, s.AppendParticipant(ctx, round.ID, models.Participant{ID: uuid.New(), UserID: uuid.New(), Stake: 100, Bot: true}))
	err := s.AppendParticipant(ctx, round.ID, models.Participant{ID: uuid.New(), UserID: uuid.New(), Stake: 100, Bot: true})
	assert.ErrorIs(t, err, ErrRoundNotAccepting)
}

func TestGetActiveRound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetActiveRound(ctx, models.RoundTypeWheel)
	assert.ErrorIs(t, err, ErrNoActiveRound)

	round := newTimedRound(t, s, time.Now())
	got, err := s.GetActiveRound(ctx, models.RoundTypeWheel)
	require.NoError(t, err)
	assert.Equal(t, round.ID, got.ID)

	_, err = s.GetActiveRound(ctx, models.RoundTypeCoinflip)
	assert.ErrorIs(t, err, ErrNoActiveRound)
}

func TestListDueRounds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	round := newTimedRound(t, s, createdAt)

	// Coinflip rounds have no duration and are never due.
	_, err := s.CreateRound(ctx, CreateRoundRequest{
		ID:        uuid.New(),
		Type:      models.RoundTypeCoinflip,
		CreatedAt: createdAt,
	})
	require.NoError(t, err)

	due, err := s.ListDueRounds(ctx, createdAt.Add(29*time.Second), 50)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.ListDueRounds(ctx, createdAt.Add(30*time.Second), 50)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, round.ID, due[0])
}

func TestListStuckResolving(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	transitionedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	round := newTimedRound(t, s, transitionedAt.Add(-30*time.Second))

	stuck, err := s.ListStuckResolving(ctx, transitionedAt.Add(time.Hour), 50)
	require.NoError(t, err)
	assert.Empty(t, stuck)

	won, err := s.ConditionalTransition(ctx, round.ID, models.RoundStatusActive, models.RoundStatusResolving, transitionedAt)
	require.NoError(t, err)
	require.True(t, won)

	stuck, err = s.ListStuckResolving(ctx, transitionedAt.Add(time.Minute), 50)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, round.ID, stuck[0])

	// A cutoff before the transition excludes it.
	stuck, err = s.ListStuckResolving(ctx, transitionedAt.Add(-time.Minute), 50)
	require.NoError(t, err)
	assert.Empty(t, stuck)
}

// The stuck sweep keys off the caller-supplied transition time, not the wall
// clock at the moment of the call.
func TestConditionalTransitionStampsSuppliedTime(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	past := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	round := newTimedRound(t, s, past)

	won, err := s.ConditionalTransition(ctx, round.ID, models.RoundStatusActive, models.RoundStatusResolving, past.Add(30*time.Second))
	require.NoError(t, err)
	require.True(t, won)

	stuck, err := s.ListStuckResolving(ctx, past.Add(time.Minute), 50)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, round.ID, stuck[0])
}

func TestCreateRoundSecondActiveTimedRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newTimedRound(t, s, time.Now())

	_, err := s.CreateRound(ctx, CreateRoundRequest{
		ID:              uuid.New(),
		Type:            models.RoundTypeWheel,
		DurationSeconds: 30,
		CreatedAt:       time.Now(),
	})
	assert.ErrorIs(t, err, ErrActiveRoundExists)
}

func TestCreateRoundCoinflipLobbiesCoexist(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CreateRound(ctx, CreateRoundRequest{
			ID:        uuid.New(),
			Type:      models.RoundTypeCoinflip,
			CreatedAt: time.Now(),
		})
		require.NoError(t, err)
	}
}

func TestWriteOutcomeRequiresResolving(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	round := newTimedRound(t, s, time.Now())
	section := 3
	outcome := models.Outcome{Section: &section, Color: models.WheelColorRed, Multiplier: 2, ServerSeed: "seed"}

	err := s.WriteOutcome(ctx, round.ID, outcome, time.Now())
	assert.ErrorIs(t, err, ErrRoundNotAccepting)

	won, err := s.ConditionalTransition(ctx, round.ID, models.RoundStatusActive, models.RoundStatusResolving, time.Now())
	require.NoError(t, err)
	require.True(t, won)

	resolvedAt := time.Now()
	require.NoError(t, s.WriteOutcome(ctx, round.ID, outcome, resolvedAt))

	got, err := s.GetRound(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusResolved, got.Status)
	require.NotNil(t, got.Outcome)
	assert.Equal(t, 3, *got.Outcome.Section)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(resolvedAt))
}

func TestLatestResolvedFor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	userID := uuid.New()

	_, err := s.LatestResolvedFor(ctx, userID)
	assert.ErrorIs(t, err, ErrNoResolution)

	resolveAt := func(createdAt time.Time) uuid.UUID {
		round := newTimedRound(t, s, createdAt)
		require.NoError(t, s.AppendParticipant(ctx, round.ID, models.Participant{ID: uuid.New(), RoundID: round.ID, UserID: userID, Stake: 100}))
		won, err := s.ConditionalTransition(ctx, round.ID, models.RoundStatusActive, models.RoundStatusResolving, time.Now())
		require.NoError(t, err)
		require.True(t, won)
		require.NoError(t, s.WriteOutcome(ctx, round.ID, models.Outcome{Side: models.SideHeads, Multiplier: 2}, createdAt.Add(time.Minute)))
		return round.ID
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resolveAt(base)
	newest := resolveAt(base.Add(time.Hour))

	got, err := s.LatestResolvedFor(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, newest, got.ID)

	// Rounds the user never joined are invisible to them.
	_, err = s.LatestResolvedFor(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNoResolution)
}

func TestUnpublishedResolvedTracking(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	round := newTimedRound(t, s, time.Now())

	won, err := s.ConditionalTransition(ctx, round.ID, models.RoundStatusActive, models.RoundStatusResolving, time.Now())
	require.NoError(t, err)
	require.True(t, won)
	require.NoError(t, s.WriteOutcome(ctx, round.ID, models.Outcome{Side: models.SideHeads, Multiplier: 2}, time.Now()))

	pending, err := s.FetchUnpublishedResolved(ctx, 50)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, round.ID, pending[0])

	require.NoError(t, s.MarkResolutionPublished(ctx, round.ID))

	pending, err = s.FetchUnpublishedResolved(ctx, 50)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCloneRoundIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	round := newTimedRound(t, s, time.Now())

	got, err := s.GetRound(ctx, round.ID)
	require.NoError(t, err)
	got.Status = models.RoundStatusResolved
	got.Participants = append(got.Participants, models.Participant{ID: uuid.New()})

	fresh, err := s.GetRound(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusActive, fresh.Status)
	assert.Empty(t, fresh.Participants)
}
