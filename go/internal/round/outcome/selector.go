// Package outcome maps a round's committed fairness seed to its result.
// Selection is pure and stateless: the same round always selects the same
// outcome, and the lifecycle guard ensures it is only acted on once.
package outcome

import (
	"errors"
	"fmt"

	"github.com/oddsworks/spindle/go/internal/models"
)

// ErrUnknownType is returned for a round type no selector exists for. It is
// permanent: retrying selection for the same round can never succeed.
var ErrUnknownType = errors.New("unknown round type")

// Select picks the outcome for a round from its committed seed material.
func Select(round *models.Round) (models.Outcome, error) {
	switch round.Type {
	case models.RoundTypeWheel:
		return Wheel(round.ServerSeed, round.ClientSeed, round.ID.String()), nil
	case models.RoundTypeCoinflip:
		return Coinflip(round.ServerSeed, round.ClientSeed, round.ID.String()), nil
	default:
		return models.Outcome{}, fmt.Errorf("%w: %s", ErrUnknownType, round.Type)
	}
}

// Wheel draws one weighted section from the wheel.
func Wheel(serverSeed, clientSeed, nonce string) models.Outcome {
	section := drawSection(models.WheelSections, roll(serverSeed, clientSeed, nonce))
	idx := section.Index
	return models.Outcome{
		Section:    &idx,
		Color:      section.Color,
		Multiplier: section.Multiplier,
		ServerSeed: serverSeed,
	}
}

// Coinflip draws one of the two sides. Payouts double the winner's stake.
func Coinflip(serverSeed, clientSeed, nonce string) models.Outcome {
	side := models.SideHeads
	if roll(serverSeed, clientSeed, nonce) >= 0.5 {
		side = models.SideTails
	}
	return models.Outcome{
		Side:       side,
		Multiplier: 2,
		ServerSeed: serverSeed,
	}
}

// Verify checks that a revealed outcome matches the hash committed when the
// round was created.
func Verify(round *models.Round) bool {
	if round.Outcome == nil {
		return false
	}
	return HashSeed(round.Outcome.ServerSeed) == round.ServerSeedHash
}

func drawSection(sections []models.WheelSection, r float64) models.WheelSection {
	total := 0
	for _, s := range sections {
		total += s.Weight
	}
	target := int(r * float64(total))
	for _, s := range sections {
		target -= s.Weight
		if target < 0 {
			return s
		}
	}
	return sections[len(sections)-1]
}
