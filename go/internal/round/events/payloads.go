package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oddsworks/spindle/go/internal/models"
)

// Event payload types shared between the controller, notifier and gateway.

const (
	TypeRoundCreated  = "RoundCreated"
	TypeRoundResolved = "RoundResolved"

	// SubjectPrefix is the NATS subject root for round events.
	SubjectPrefix = "round.events"
)

// Subject returns the NATS subject for an event type, e.g.
// "round.events.RoundResolved".
func Subject(eventType string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, eventType)
}

// Envelope wraps every published event.
type Envelope struct {
	EventID   uuid.UUID        `json:"event_id"`
	EventType string           `json:"event_type"`
	RoundID   uuid.UUID        `json:"round_id"`
	RoundType models.RoundType `json:"round_type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

// RoundCreatedPayload announces a fresh round. Only the seed hash is
// published; the seed itself is revealed in the resolution.
type RoundCreatedPayload struct {
	RoundID         string           `json:"round_id"`
	RoundType       models.RoundType `json:"round_type"`
	DurationSeconds int              `json:"duration_seconds,omitempty"`
	ServerSeedHash  string           `json:"server_seed_hash"`
	CreatedAt       time.Time        `json:"created_at"`
}

// RoundResolvedPayload is the fan-out resolution record. It mirrors
// models.ResolutionEvent so push and poll observers handle one shape.
type RoundResolvedPayload = models.ResolutionEvent
