// Package settle computes and applies payouts for resolved rounds.
package settle

import (
	"context"
	"fmt"

	"github.com/oddsworks/spindle/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Processor applies payouts through the ledger. It is only invoked on the
// single path that won the resolving transition (or its watchdog retry), and
// the ledger's payout key makes a retried run a no-op for already-paid
// participants.
type Processor struct {
	ledger Ledger
}

func NewProcessor(ledger Ledger) *Processor {
	return &Processor{ledger: ledger}
}

// Settle computes payouts for the outcome and writes each one through the
// ledger. Bot participants are included in the computed payouts so the
// resolution record is complete, but no balance is credited for them.
func (p *Processor) Settle(ctx context.Context, round *models.Round, outcome models.Outcome) ([]models.Payout, error) {
	payouts := ComputePayouts(outcome, round.Participants)

	for i, payout := range payouts {
		if round.Participants[i].Bot {
			continue
		}
		if err := p.ledger.ApplyPayout(ctx, round.ID, payout.ParticipantID, payout.UserID, payout.Amount); err != nil {
			return nil, fmt.Errorf("failed to apply payout for participant %s: %w", payout.ParticipantID, err)
		}
	}

	log.Info().
		Str("round_id", round.ID.String()).
		Int("participants", len(round.Participants)).
		Msg("round settled")
	return payouts, nil
}

// ComputePayouts derives the payout list for an outcome. Pure: the same
// outcome and participant list always produce the same payouts, so a
// redelivered resolution is always consistent.
func ComputePayouts(outcome models.Outcome, participants []models.Participant) []models.Payout {
	payouts := make([]models.Payout, len(participants))
	for i, part := range participants {
		var amount int64
		if Matches(outcome, part) {
			amount = int64(float64(part.Stake) * outcome.Multiplier)
		}
		payouts[i] = models.Payout{
			ParticipantID: part.ID,
			UserID:        part.UserID,
			Amount:        amount,
		}
	}
	return payouts
}

// Matches reports whether a participant's pick wins against the outcome.
// Wheel bets win on an exact section or on the section's color group.
func Matches(outcome models.Outcome, part models.Participant) bool {
	if outcome.Side != "" {
		return part.PickSide == outcome.Side
	}
	if part.PickSection != nil && outcome.Section != nil {
		return *part.PickSection == *outcome.Section
	}
	return part.PickColor != "" && part.PickColor == outcome.Color
}
