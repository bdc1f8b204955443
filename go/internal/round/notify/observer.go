// Package notify delivers round resolutions to observers over two
// independent channels, a push subscription and a fallback poll, and
// deduplicates so each observer acts on a resolution exactly once.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/oddsworks/spindle/go/internal/models"
	"github.com/oddsworks/spindle/go/internal/round/store"
	"github.com/rs/zerolog/log"
)

// Poller is the fallback delivery path: re-read the most recent resolution
// involving this observer straight from the store.
type Poller interface {
	PollLatestResolution(ctx context.Context, userID uuid.UUID) (*models.ResolutionEvent, error)
}

// RevealFunc renders the outcome to the user once the presentation hold ends.
type RevealFunc func(ev models.ResolutionEvent)

// ObserverConfig holds per-observer delivery tuning.
type ObserverConfig struct {
	// RevealDelay is the cosmetic animation hold between receiving a
	// resolution and showing it. Settlement has already completed server-side
	// by then; the delay never gates correctness.
	RevealDelay  time.Duration
	PollInterval time.Duration
	// ProcessedCap bounds the dedup cache. Processed round ids are evicted
	// LRU-first, which is safe: by then every delivery path has long fired.
	ProcessedCap int
}

func DefaultObserverConfig() ObserverConfig {
	return ObserverConfig{
		RevealDelay:  6 * time.Second,
		PollInterval: 10 * time.Second,
		ProcessedCap: 512,
	}
}

// Observer funnels both delivery paths into one handler guarded by a
// processed-set, so a resolution delivered by push and poll still renders
// exactly once.
type Observer struct {
	userID    uuid.UUID
	processed *lru.Cache[uuid.UUID, struct{}]
	poller    Poller
	reveal    RevealFunc
	clock     clockwork.Clock
	cfg       ObserverConfig
}

func NewObserver(userID uuid.UUID, poller Poller, reveal RevealFunc, clock clockwork.Clock, cfg ObserverConfig) (*Observer, error) {
	processed, err := lru.New[uuid.UUID, struct{}](cfg.ProcessedCap)
	if err != nil {
		return nil, fmt.Errorf("failed to create processed set: %w", err)
	}
	return &Observer{
		userID:    userID,
		processed: processed,
		poller:    poller,
		reveal:    reveal,
		clock:     clock,
		cfg:       cfg,
	}, nil
}

// HandleResolution processes one delivery of a resolution. Returns true when
// this delivery was acted on, false when the round was already processed.
func (o *Observer) HandleResolution(ev models.ResolutionEvent) bool {
	if _, seen := o.processed.Get(ev.RoundID); seen {
		log.Debug().
			Str("round_id", ev.RoundID.String()).
			Str("user_id", o.userID.String()).
			Msg("duplicate resolution delivery ignored")
		return false
	}
	o.processed.Add(ev.RoundID, struct{}{})

	log.Info().
		Str("round_id", ev.RoundID.String()).
		Str("user_id", o.userID.String()).
		Msg("resolution received; scheduling reveal")

	// Static presentation hold, then reveal and clear round-specific state.
	o.clock.AfterFunc(o.cfg.RevealDelay, func() {
		o.reveal(ev)
	})
	return true
}

// Run merges the push channel with the fallback poll until the context is
// cancelled. A missed push is tolerated: the next poll finds the resolution.
func (o *Observer) Run(ctx context.Context, push <-chan models.ResolutionEvent) error {
	ticker := o.clock.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-push:
			if !ok {
				return nil
			}
			o.HandleResolution(ev)
		case <-ticker.Chan():
			ev, err := o.poller.PollLatestResolution(ctx, o.userID)
			if err != nil {
				if !errors.Is(err, store.ErrNoResolution) {
					log.Error().Err(err).Str("user_id", o.userID.String()).Msg("resolution poll failed")
				}
				continue
			}
			o.HandleResolution(*ev)
		}
	}
}
