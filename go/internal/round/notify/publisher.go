package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/oddsworks/spindle/go/internal/models"
	"github.com/oddsworks/spindle/go/internal/round/events"
	"github.com/rs/zerolog/log"
)

// NATSPublisher publishes round events to JetStream for push delivery.
type NATSPublisher struct {
	js jetstream.JetStream
}

func NewNATSPublisher(nc *nats.Conn) (*NATSPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return &NATSPublisher{js: js}, nil
}

func (p *NATSPublisher) PublishRoundCreated(ctx context.Context, payload events.RoundCreatedPayload) error {
	roundID, err := uuid.Parse(payload.RoundID)
	if err != nil {
		return fmt.Errorf("parse round ID: %w", err)
	}
	return p.publish(ctx, events.TypeRoundCreated, roundID, payload.RoundType, payload)
}

func (p *NATSPublisher) PublishRoundResolved(ctx context.Context, ev models.ResolutionEvent) error {
	return p.publish(ctx, events.TypeRoundResolved, ev.RoundID, ev.Type, ev)
}

func (p *NATSPublisher) publish(ctx context.Context, eventType string, roundID uuid.UUID, roundType models.RoundType, payload any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	envelope := events.Envelope{
		EventID:   uuid.New(),
		EventType: eventType,
		RoundID:   roundID,
		RoundType: roundType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}
	messageBytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	if _, err := p.js.Publish(ctx, events.Subject(eventType), messageBytes); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}

	log.Debug().
		Str("event_type", eventType).
		Str("round_id", roundID.String()).
		Msg("published round event")
	return nil
}

// LogPublisher is an in-memory publisher for development and tests.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) PublishRoundCreated(_ context.Context, payload events.RoundCreatedPayload) error {
	log.Info().
		Str("round_id", payload.RoundID).
		Str("round_type", string(payload.RoundType)).
		Msg("publishing RoundCreated")
	return nil
}

func (p *LogPublisher) PublishRoundResolved(_ context.Context, ev models.ResolutionEvent) error {
	log.Info().
		Str("round_id", ev.RoundID.String()).
		Int("payouts", len(ev.Payouts)).
		Msg("publishing RoundResolved")
	return nil
}
