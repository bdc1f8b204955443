package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/oddsworks/spindle/go/internal/round/outcome"
	"github.com/rs/zerolog/log"
)

// Watchdog is the server-side backstop for two gaps in the client-driven
// design: timed rounds whose deadline passed with no observer present to
// trigger resolution, and rounds stuck in RESOLVING after a mid-settlement
// failure. Stuck rounds are retried using the already-committed RESOLVING
// status as proof no other actor will race the retry.
type Watchdog struct {
	app       *App
	clock     clockwork.Clock
	interval  time.Duration
	batchSize int32

	numWorkers int
	workCh     chan job

	// Track in-flight work to prevent duplicate processing within a sweep.
	// Parked rounds failed with an error no retry can clear and are skipped
	// by later sweeps.
	inFlight   map[uuid.UUID]bool
	parked     map[uuid.UUID]bool
	inFlightMu sync.Mutex
}

type job struct {
	roundID uuid.UUID
	stuck   bool // stuck-resolving retry vs. overdue resolve
}

func NewWatchdog(app *App, clock clockwork.Clock, interval time.Duration) *Watchdog {
	numWorkers := 4
	return &Watchdog{
		app:        app,
		clock:      clock,
		interval:   interval,
		batchSize:  50,
		numWorkers: numWorkers,
		workCh:     make(chan job, numWorkers*2),
		inFlight:   make(map[uuid.UUID]bool),
		parked:     make(map[uuid.UUID]bool),
	}
}

// Run sweeps until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	log.Info().Dur("interval", w.interval).Int("workers", w.numWorkers).Msg("watchdog started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer func() {
		cancelWorkers()
		wg.Wait()
		log.Info().Msg("watchdog shut down")
	}()

	for i := 0; i < w.numWorkers; i++ {
		wg.Add(1)
		go w.worker(workerCtx, &wg, i)
	}

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := w.sweep(ctx); err != nil {
				log.Error().Err(err).Msg("watchdog sweep failed")
			}
		}
	}
}

// sweep queues overdue rounds for resolution and stuck rounds for settlement
// retry.
func (w *Watchdog) sweep(ctx context.Context) error {
	now := w.clock.Now()

	due, err := w.app.store.ListDueRounds(ctx, now, w.batchSize)
	if err != nil {
		return err
	}
	for _, id := range due {
		w.enqueue(ctx, job{roundID: id})
	}

	cutoff := now.Add(-w.app.cfg.StuckCutoff())
	stuck, err := w.app.store.ListStuckResolving(ctx, cutoff, w.batchSize)
	if err != nil {
		return err
	}
	for _, id := range stuck {
		w.enqueue(ctx, job{roundID: id, stuck: true})
	}
	return nil
}

func (w *Watchdog) enqueue(ctx context.Context, j job) {
	w.inFlightMu.Lock()
	if w.inFlight[j.roundID] || w.parked[j.roundID] {
		w.inFlightMu.Unlock()
		return
	}
	w.inFlight[j.roundID] = true
	w.inFlightMu.Unlock()

	select {
	case w.workCh <- j:
	case <-ctx.Done():
		w.release(j.roundID)
	}
}

func (w *Watchdog) release(roundID uuid.UUID) {
	w.inFlightMu.Lock()
	delete(w.inFlight, roundID)
	w.inFlightMu.Unlock()
}

func (w *Watchdog) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-w.workCh:
			w.handle(ctx, j, workerID)
			w.release(j.roundID)
		}
	}
}

func (w *Watchdog) handle(ctx context.Context, j job, workerID int) {
	if j.stuck {
		if err := w.app.RetrySettlement(ctx, j.roundID); err != nil {
			if errors.Is(err, outcome.ErrUnknownType) {
				w.park(j.roundID, err)
				return
			}
			log.Error().
				Err(err).
				Str("round_id", j.roundID.String()).
				Int("worker_id", workerID).
				Msg("stuck round retry failed; will retry next sweep")
		}
		return
	}

	won, err := w.app.RequestResolve(ctx, j.roundID)
	if err != nil && !errors.Is(err, ErrRoundNotEligible) {
		if errors.Is(err, outcome.ErrUnknownType) {
			w.park(j.roundID, err)
			return
		}
		log.Error().
			Err(err).
			Str("round_id", j.roundID.String()).
			Int("worker_id", workerID).
			Msg("overdue round resolve failed")
		return
	}
	if won {
		log.Info().Str("round_id", j.roundID.String()).Msg("watchdog resolved overdue round")
	}
}

// park marks a round as unrecoverable by retry. It stays RESOLVING in storage
// for operator inspection but stops consuming sweep cycles.
func (w *Watchdog) park(roundID uuid.UUID, err error) {
	w.inFlightMu.Lock()
	w.parked[roundID] = true
	w.inFlightMu.Unlock()
	log.Error().
		Err(err).
		Str("round_id", roundID.String()).
		Msg("round parked; retries cannot succeed")
}
