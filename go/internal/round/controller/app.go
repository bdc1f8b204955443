// Package controller owns the round state machine: ACTIVE -> RESOLVING ->
// RESOLVED. Any number of observers may ask it to resolve a round; the
// storage-level conditional transition guarantees exactly one of them selects
// the outcome and settles.
package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/oddsworks/spindle/go/internal/models"
	"github.com/oddsworks/spindle/go/internal/round/events"
	"github.com/oddsworks/spindle/go/internal/round/outcome"
	"github.com/oddsworks/spindle/go/internal/round/settle"
	"github.com/oddsworks/spindle/go/internal/round/store"
	"github.com/rs/zerolog/log"
)

var (
	// ErrRoundNotEligible is returned when a resolve request arrives before a
	// timed round's deadline or before a coinflip has filled.
	ErrRoundNotEligible = errors.New("round not eligible to resolve")
	// ErrSideTaken is returned when a coinflip joiner picks the creator's side.
	ErrSideTaken = errors.New("side already taken")
	// ErrStakeMismatch is returned when a coinflip joiner's stake does not
	// match the creator's.
	ErrStakeMismatch = errors.New("stake must match creator's stake")
	// ErrInvalidRoundType is returned when a caller asks for a timed round of
	// a type that has none. Coinflips are opened explicitly, not ensured.
	ErrInvalidRoundType = errors.New("invalid round type")
)

// Publisher fans resolutions and creations out to the push channel. Publish
// failures are tolerated: the poll path independently discovers resolutions.
type Publisher interface {
	PublishRoundCreated(ctx context.Context, payload events.RoundCreatedPayload) error
	PublishRoundResolved(ctx context.Context, ev models.ResolutionEvent) error
}

// App drives the round lifecycle.
type App struct {
	store     store.Store
	settler   *settle.Processor
	ledger    settle.Ledger
	publisher Publisher
	clock     clockwork.Clock
	cfg       Config
}

func NewApp(st store.Store, settler *settle.Processor, ledger settle.Ledger, publisher Publisher, clock clockwork.Clock, cfg Config) *App {
	return &App{
		store:     st,
		settler:   settler,
		ledger:    ledger,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
	}
}

// EnsureActiveRound returns the current timed round of the given type,
// creating one when none exists and the cooldown after the previous
// resolution has elapsed. During the cooldown the resolved round is returned
// so late joiners can still render its outcome.
func (a *App) EnsureActiveRound(ctx context.Context, roundType models.RoundType) (*models.Round, error) {
	if roundType != models.RoundTypeWheel {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRoundType, roundType)
	}

	round, err := a.store.GetActiveRound(ctx, roundType)
	if err == nil {
		return round, nil
	}
	if !errors.Is(err, store.ErrNoActiveRound) {
		return nil, err
	}

	latest, err := a.store.GetLatestRound(ctx, roundType)
	if err == nil && latest.Status == models.RoundStatusResolved {
		if a.clock.Now().Before(latest.ResolvedAt.Add(a.cfg.Cooldown)) {
			return latest, nil
		}
	} else if err == nil && latest.Status == models.RoundStatusResolving {
		// Settlement in flight; don't open a new round underneath it.
		return latest, nil
	} else if err != nil && !errors.Is(err, store.ErrRoundNotFound) {
		return nil, err
	}

	round, err = a.createRound(ctx, store.CreateRoundRequest{
		Type:            roundType,
		DurationSeconds: a.cfg.WheelDurationSeconds,
	})
	if errors.Is(err, store.ErrActiveRoundExists) {
		// Another caller opened the round between our read and the insert.
		return a.store.GetActiveRound(ctx, roundType)
	}
	return round, err
}

// CreateCoinflip opens a matched-pair round carrying the creator's bet. The
// stake is debited before the round exists; creation failure refunds it.
func (a *App) CreateCoinflip(ctx context.Context, req CreateCoinflipRequest) (*models.Round, error) {
	if err := a.ledger.Debit(ctx, req.UserID, req.Stake); err != nil {
		return nil, err
	}

	roundID := uuid.New()
	now := a.clock.Now()
	round, err := a.createRound(ctx, store.CreateRoundRequest{
		ID:         roundID,
		ClientSeed: req.ClientSeed,
		Type:       models.RoundTypeCoinflip,
		Creator: &models.Participant{
			ID:        uuid.New(),
			RoundID:   roundID,
			UserID:    req.UserID,
			Stake:     req.Stake,
			PickSide:  req.Side,
			CreatedAt: now,
		},
	})
	if err != nil {
		if creditErr := a.ledger.Credit(ctx, req.UserID, req.Stake); creditErr != nil {
			log.Error().Err(creditErr).Str("user_id", req.UserID.String()).Msg("failed to refund stake after create failure")
		}
		return nil, err
	}
	return round, nil
}

// PlaceBet debits the stake and appends the participant. A coinflip filled by
// the joining bet is resolved immediately on the joiner's request path.
func (a *App) PlaceBet(ctx context.Context, req PlaceBetRequest) (*models.Round, error) {
	round, err := a.store.GetRound(ctx, req.RoundID)
	if err != nil {
		return nil, err
	}
	if round.Status != models.RoundStatusActive {
		return nil, store.ErrRoundNotAccepting
	}
	if round.Timed() && !round.Deadline().After(a.clock.Now()) {
		// The deadline passed but no resolve has landed yet; the spin is
		// imminent and the bet cannot join it.
		return nil, store.ErrRoundNotAccepting
	}
	if err := a.validateBet(round, req); err != nil {
		return nil, err
	}

	if err := a.ledger.Debit(ctx, req.UserID, req.Stake); err != nil {
		return nil, err
	}

	participant := models.Participant{
		ID:          uuid.New(),
		RoundID:     round.ID,
		UserID:      req.UserID,
		Stake:       req.Stake,
		PickSection: req.PickSection,
		PickColor:   req.PickColor,
		PickSide:    req.PickSide,
		CreatedAt:   a.clock.Now(),
	}
	if err := a.store.AppendParticipant(ctx, round.ID, participant); err != nil {
		if creditErr := a.ledger.Credit(ctx, req.UserID, req.Stake); creditErr != nil {
			log.Error().Err(creditErr).Str("user_id", req.UserID.String()).Msg("failed to refund stake after rejected bet")
		}
		return nil, err
	}

	log.Info().
		Str("round_id", round.ID.String()).
		Str("user_id", req.UserID.String()).
		Int64("stake", req.Stake).
		Msg("bet placed")

	if round.Type == models.RoundTypeCoinflip {
		// Second participant fills the pair; resolve now. A race loss means
		// another caller is already resolving, which is fine.
		if _, err := a.RequestResolve(ctx, round.ID); err != nil && !errors.Is(err, ErrRoundNotEligible) {
			log.Error().Err(err).Str("round_id", round.ID.String()).Msg("resolve after join failed; watchdog will retry")
		}
	}

	return a.store.GetRound(ctx, round.ID)
}

// RequestResolve attempts to advance a round into RESOLVING and, on winning
// the transition, selects the outcome and settles. The returned bool reports
// whether this caller won; losing the race is a no-op, not an error.
func (a *App) RequestResolve(ctx context.Context, roundID uuid.UUID) (bool, error) {
	round, err := a.store.GetRound(ctx, roundID)
	if err != nil {
		return false, err
	}
	if round.Status != models.RoundStatusActive {
		return false, nil
	}
	if !a.eligible(round) {
		return false, ErrRoundNotEligible
	}

	won, err := a.store.ConditionalTransition(ctx, roundID, models.RoundStatusActive, models.RoundStatusResolving, a.clock.Now())
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	if err := a.resolve(ctx, roundID); err != nil {
		// The round stays RESOLVING; the watchdog retries settlement using
		// the committed status as proof no other actor races it.
		log.Error().Err(err).Str("round_id", roundID.String()).Msg("settlement failed; round left resolving for watchdog")
		return true, err
	}
	return true, nil
}

// ResolveAgainstBot fills a single-participant coinflip with an automated
// opponent on the opposing side, then resolves. Used when the no-opponent
// timeout fires or the creator asks to flip against the house.
func (a *App) ResolveAgainstBot(ctx context.Context, roundID uuid.UUID) (bool, error) {
	round, err := a.store.GetRound(ctx, roundID)
	if err != nil {
		return false, err
	}
	if round.Type != models.RoundTypeCoinflip || round.Status != models.RoundStatusActive {
		return false, nil
	}
	if len(round.Participants) != 1 {
		return false, ErrRoundNotEligible
	}

	creator := round.Participants[0]
	bot := models.Participant{
		ID:        uuid.New(),
		RoundID:   round.ID,
		UserID:    uuid.New(),
		Stake:     creator.Stake,
		Bot:       true,
		PickSide:  opposite(creator.PickSide),
		CreatedAt: a.clock.Now(),
	}
	if err := a.store.AppendParticipant(ctx, round.ID, bot); err != nil {
		if errors.Is(err, store.ErrRoundNotAccepting) {
			// Someone else filled or resolved the round first.
			return false, nil
		}
		return false, err
	}

	return a.RequestResolve(ctx, roundID)
}

// RetrySettlement re-runs outcome selection and settlement for a round stuck
// in RESOLVING. Safe because selection is deterministic from the committed
// seed and ledger writes are keyed per participant.
func (a *App) RetrySettlement(ctx context.Context, roundID uuid.UUID) error {
	round, err := a.store.GetRound(ctx, roundID)
	if err != nil {
		return err
	}
	if round.Status != models.RoundStatusResolving {
		return nil
	}
	log.Warn().Str("round_id", roundID.String()).Msg("retrying settlement for stuck round")
	return a.resolve(ctx, roundID)
}

// ResolutionEvent recomputes the fan-out payload for a resolved round.
// Deterministic: redelivery always carries identical contents.
func (a *App) ResolutionEvent(ctx context.Context, roundID uuid.UUID) (*models.ResolutionEvent, error) {
	round, err := a.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if round.Status != models.RoundStatusResolved || round.Outcome == nil {
		return nil, fmt.Errorf("round %s is not resolved", roundID)
	}
	return &models.ResolutionEvent{
		RoundID:    round.ID,
		Type:       round.Type,
		Outcome:    *round.Outcome,
		ResolvedAt: *round.ResolvedAt,
		Payouts:    settle.ComputePayouts(*round.Outcome, round.Participants),
	}, nil
}

// resolve runs on the single path holding the RESOLVING status: select the
// outcome, settle every payout, then write the outcome. The outcome is never
// written before all payouts are confirmed.
func (a *App) resolve(ctx context.Context, roundID uuid.UUID) error {
	round, err := a.store.GetRound(ctx, roundID)
	if err != nil {
		return err
	}

	selected, err := outcome.Select(round)
	if err != nil {
		return fmt.Errorf("failed to select outcome: %w", err)
	}

	payouts, err := a.settler.Settle(ctx, round, selected)
	if err != nil {
		return err
	}

	resolvedAt := a.clock.Now()
	if err := a.store.WriteOutcome(ctx, roundID, selected, resolvedAt); err != nil {
		return err
	}

	ev := models.ResolutionEvent{
		RoundID:    round.ID,
		Type:       round.Type,
		Outcome:    selected,
		ResolvedAt: resolvedAt,
		Payouts:    payouts,
	}
	if err := a.publisher.PublishRoundResolved(ctx, ev); err != nil {
		log.Error().Err(err).Str("round_id", round.ID.String()).Msg("failed to publish resolution; poll path will deliver")
	}

	log.Info().
		Str("round_id", round.ID.String()).
		Str("type", string(round.Type)).
		Msg("round resolved")
	return nil
}

func (a *App) createRound(ctx context.Context, req store.CreateRoundRequest) (*models.Round, error) {
	seed, hash, err := outcome.NewServerSeed()
	if err != nil {
		return nil, err
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.ServerSeed = seed
	req.ServerSeedHash = hash
	req.CreatedAt = a.clock.Now()
	if req.Creator != nil {
		req.Creator.RoundID = req.ID
	}

	round, err := a.store.CreateRound(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create round: %w", err)
	}

	payload := events.RoundCreatedPayload{
		RoundID:         round.ID.String(),
		RoundType:       round.Type,
		DurationSeconds: round.DurationSeconds,
		ServerSeedHash:  round.ServerSeedHash,
		CreatedAt:       round.CreatedAt,
	}
	if err := a.publisher.PublishRoundCreated(ctx, payload); err != nil {
		log.Error().Err(err).Str("round_id", round.ID.String()).Msg("failed to publish round creation")
	}

	log.Info().
		Str("round_id", round.ID.String()).
		Str("type", string(round.Type)).
		Msg("round created")
	return round, nil
}

func (a *App) eligible(round *models.Round) bool {
	if round.Timed() {
		return !round.Deadline().After(a.clock.Now())
	}
	return len(round.Participants) >= 2
}

func (a *App) validateBet(round *models.Round, req PlaceBetRequest) error {
	if req.Stake <= 0 {
		return fmt.Errorf("stake must be greater than 0")
	}

	switch round.Type {
	case models.RoundTypeWheel:
		if req.PickSection == nil && req.PickColor == "" {
			return fmt.Errorf("wheel bets require a section or color pick")
		}
		if req.PickSection != nil && (*req.PickSection < 0 || *req.PickSection >= len(models.WheelSections)) {
			return fmt.Errorf("invalid section: %d", *req.PickSection)
		}
	case models.RoundTypeCoinflip:
		if req.PickSide == "" {
			return fmt.Errorf("coinflip bets require a side")
		}
		if len(round.Participants) >= 2 {
			return store.ErrRoundNotAccepting
		}
		for _, p := range round.Participants {
			if p.UserID == req.UserID {
				return fmt.Errorf("user already in round")
			}
			if p.PickSide == req.PickSide {
				return ErrSideTaken
			}
			if p.Stake != req.Stake {
				return ErrStakeMismatch
			}
		}
	default:
		return fmt.Errorf("unknown round type: %s", round.Type)
	}
	return nil
}

func opposite(side models.Side) models.Side {
	if side == models.SideHeads {
		return models.SideTails
	}
	return models.SideHeads
}
