package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/oddsworks/spindle/go/internal/models"
	"github.com/oddsworks/spindle/go/internal/round/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPoller struct {
	ev  *models.ResolutionEvent
	err error
}

func (p *stubPoller) PollLatestResolution(context.Context, uuid.UUID) (*models.ResolutionEvent, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.ev, nil
}

func resolutionEvent() models.ResolutionEvent {
	return models.ResolutionEvent{
		RoundID:    uuid.New(),
		Type:       models.RoundTypeCoinflip,
		Outcome:    models.Outcome{Side: models.SideHeads, Multiplier: 2},
		ResolvedAt: time.Now(),
	}
}

func TestObserverDeduplicatesDeliveries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	revealed := make(chan models.ResolutionEvent, 4)
	o, err := NewObserver(uuid.New(), &stubPoller{err: store.ErrNoResolution}, func(ev models.ResolutionEvent) {
		revealed <- ev
	}, clock, DefaultObserverConfig())
	require.NoError(t, err)

	ev := resolutionEvent()

	// The same resolution arriving over push and poll acts once.
	assert.True(t, o.HandleResolution(ev))
	assert.False(t, o.HandleResolution(ev))
	assert.False(t, o.HandleResolution(ev))

	// Nothing shows before the presentation hold elapses.
	select {
	case <-revealed:
		t.Fatal("reveal fired before the hold elapsed")
	default:
	}

	clock.Advance(DefaultObserverConfig().RevealDelay)
	select {
	case got := <-revealed:
		assert.Equal(t, ev.RoundID, got.RoundID)
	case <-time.After(time.Second):
		t.Fatal("reveal never fired")
	}

	// And only once.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, revealed)
}

func TestObserverDistinctRoundsEachReveal(t *testing.T) {
	clock := clockwork.NewFakeClock()
	revealed := make(chan models.ResolutionEvent, 4)
	o, err := NewObserver(uuid.New(), &stubPoller{err: store.ErrNoResolution}, func(ev models.ResolutionEvent) {
		revealed <- ev
	}, clock, DefaultObserverConfig())
	require.NoError(t, err)

	assert.True(t, o.HandleResolution(resolutionEvent()))
	assert.True(t, o.HandleResolution(resolutionEvent()))

	clock.Advance(DefaultObserverConfig().RevealDelay)
	for i := 0; i < 2; i++ {
		select {
		case <-revealed:
		case <-time.After(time.Second):
			t.Fatalf("reveal %d never fired", i)
		}
	}
}

func TestObserverProcessedSetBounded(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultObserverConfig()
	cfg.ProcessedCap = 2
	o, err := NewObserver(uuid.New(), &stubPoller{err: store.ErrNoResolution}, func(models.ResolutionEvent) {}, clock, cfg)
	require.NoError(t, err)

	first := resolutionEvent()
	assert.True(t, o.HandleResolution(first))
	assert.True(t, o.HandleResolution(resolutionEvent()))
	assert.True(t, o.HandleResolution(resolutionEvent()))

	// The oldest entry was evicted, so its redelivery acts again. Harmless in
	// practice: eviction only happens long after both delivery paths fired.
	assert.True(t, o.HandleResolution(first))
}

func TestObserverRunMergesPushAndPoll(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ev := resolutionEvent()
	poller := &stubPoller{ev: &ev}
	revealed := make(chan models.ResolutionEvent, 4)
	cfg := DefaultObserverConfig()
	o, err := NewObserver(uuid.New(), poller, func(got models.ResolutionEvent) {
		revealed <- got
	}, clock, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	push := make(chan models.ResolutionEvent)
	done := make(chan error, 1)
	go func() {
		done <- o.Run(ctx, push)
	}()

	// Push delivery lands first.
	select {
	case push <- ev:
	case <-time.After(time.Second):
		t.Fatal("push delivery blocked")
	}

	// The AfterFunc reveal timer joins the poll ticker as a waiter once the
	// push delivery is handled.
	clock.BlockUntil(2)
	clock.Advance(cfg.RevealDelay)
	select {
	case got := <-revealed:
		assert.Equal(t, ev.RoundID, got.RoundID)
	case <-time.After(time.Second):
		t.Fatal("reveal never fired")
	}

	// The poll finds the same resolution and is deduplicated.
	clock.BlockUntil(1)
	clock.Advance(cfg.PollInterval)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, revealed)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("observer did not stop on cancellation")
	}
}

func TestObserverRunPollOnlyDelivery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ev := resolutionEvent()
	poller := &stubPoller{ev: &ev}
	revealed := make(chan models.ResolutionEvent, 4)
	cfg := DefaultObserverConfig()
	o, err := NewObserver(uuid.New(), poller, func(got models.ResolutionEvent) {
		revealed <- got
	}, clock, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	push := make(chan models.ResolutionEvent)
	go func() {
		_ = o.Run(ctx, push)
	}()

	// No push ever arrives; the poll alone delivers the resolution.
	clock.BlockUntil(1)
	clock.Advance(cfg.PollInterval)

	clock.BlockUntil(2)
	clock.Advance(cfg.RevealDelay)
	select {
	case got := <-revealed:
		assert.Equal(t, ev.RoundID, got.RoundID)
	case <-time.After(time.Second):
		t.Fatal("poll-driven reveal never fired")
	}
}
