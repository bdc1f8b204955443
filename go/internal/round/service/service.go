// Package service is the logical surface exposed to observing clients: read
// the current round, place bets, derive countdowns, and receive resolutions
// by push or poll. It wraps the controller with the user-visible error
// taxonomy; resolution-path failures are internal and retried, never
// surfaced here.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/oddsworks/spindle/go/internal/models"
	"github.com/oddsworks/spindle/go/internal/round/controller"
	"github.com/oddsworks/spindle/go/internal/round/events"
	"github.com/oddsworks/spindle/go/internal/round/settle"
	"github.com/oddsworks/spindle/go/internal/round/store"
	"github.com/oddsworks/spindle/go/internal/round/timer"
	"github.com/rs/zerolog/log"
)

// ErrCouldNotPlaceBet is the only failure shown to users. The wrapped cause
// (insufficient balance, round closed) rides along for display.
var ErrCouldNotPlaceBet = errors.New("could not place bet")

type Service struct {
	controller *controller.App
	store      store.Store
	nc         *nats.Conn // nil when running without a push bus
	clock      clockwork.Clock
}

func NewService(ctrl *controller.App, st store.Store, nc *nats.Conn, clock clockwork.Clock) *Service {
	return &Service{
		controller: ctrl,
		store:      st,
		nc:         nc,
		clock:      clock,
	}
}

// CurrentRound returns the round observers should display, creating a fresh
// timed round when none exists.
func (s *Service) CurrentRound(ctx context.Context, roundType models.RoundType) (*models.Round, error) {
	return s.controller.EnsureActiveRound(ctx, roundType)
}

// PlaceBet places a bet on an active round.
func (s *Service) PlaceBet(ctx context.Context, req controller.PlaceBetRequest) (*models.Round, error) {
	round, err := s.controller.PlaceBet(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCouldNotPlaceBet, err)
	}
	return round, nil
}

// CreateCoinflip opens a matched-pair round with the creator's bet.
func (s *Service) CreateCoinflip(ctx context.Context, req controller.CreateCoinflipRequest) (*models.Round, error) {
	round, err := s.controller.CreateCoinflip(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCouldNotPlaceBet, err)
	}
	return round, nil
}

// RequestResolve is the observer's "my countdown hit zero" trigger. Race
// losses and not-yet-eligible requests are silent no-ops.
func (s *Service) RequestResolve(ctx context.Context, roundID uuid.UUID) error {
	if _, err := s.controller.RequestResolve(ctx, roundID); err != nil {
		if errors.Is(err, controller.ErrRoundNotEligible) {
			return nil
		}
		// Settlement errors are internal; the watchdog retries them.
		log.Error().Err(err).Str("round_id", roundID.String()).Msg("resolve request failed")
	}
	return nil
}

// FlipAgainstBot resolves a lone coinflip against an automated opponent.
func (s *Service) FlipAgainstBot(ctx context.Context, roundID uuid.UUID) error {
	if _, err := s.controller.ResolveAgainstBot(ctx, roundID); err != nil {
		if errors.Is(err, controller.ErrRoundNotEligible) {
			return nil
		}
		log.Error().Err(err).Str("round_id", roundID.String()).Msg("bot flip failed")
	}
	return nil
}

// GetRemainingSeconds derives the countdown for a round at this instant.
func (s *Service) GetRemainingSeconds(round *models.Round) int {
	return timer.RemainingSeconds(round, s.clock.Now())
}

// PollLatestResolution is the fallback delivery path: the most recently
// resolved round involving the user, recomputed deterministically.
func (s *Service) PollLatestResolution(ctx context.Context, userID uuid.UUID) (*models.ResolutionEvent, error) {
	round, err := s.store.LatestResolvedFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.ResolutionEvent{
		RoundID:    round.ID,
		Type:       round.Type,
		Outcome:    *round.Outcome,
		ResolvedAt: *round.ResolvedAt,
		Payouts:    settle.ComputePayouts(*round.Outcome, round.Participants),
	}, nil
}

// SubscribeToRoundUpdates streams the current round of a type on every round
// event. Each delivery re-reads the store, so subscribers always see the
// authoritative row rather than a client-side projection.
func (s *Service) SubscribeToRoundUpdates(ctx context.Context, roundType models.RoundType) (<-chan *models.Round, func(), error) {
	if s.nc == nil {
		return nil, nil, fmt.Errorf("no push bus configured")
	}

	ch := make(chan *models.Round, 16)
	sub, err := s.nc.Subscribe(events.SubjectPrefix+".>", func(msg *nats.Msg) {
		var envelope events.Envelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			log.Error().Err(err).Msg("failed to unmarshal event envelope")
			return
		}
		round, err := s.store.GetRound(ctx, envelope.RoundID)
		if err != nil {
			log.Error().Err(err).Str("round_id", envelope.RoundID.String()).Msg("failed to load round for update")
			return
		}
		if round.Type != roundType {
			return
		}
		select {
		case ch <- round:
		default:
			log.Warn().Str("round_id", round.ID.String()).Msg("update channel full; dropping")
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to round updates: %w", err)
	}

	cancel := func() {
		_ = sub.Unsubscribe()
	}
	return ch, cancel, nil
}
