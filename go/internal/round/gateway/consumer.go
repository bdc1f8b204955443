package gateway

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/oddsworks/spindle/go/internal/round/events"
	"github.com/rs/zerolog/log"
)

// EventConsumer bridges the message bus to the WebSocket pools: every round
// event is rebroadcast verbatim to connections watching that round type.
type EventConsumer struct {
	manager *Manager
	nc      *nats.Conn
	sub     *nats.Subscription
}

func NewEventConsumer(manager *Manager, nc *nats.Conn) *EventConsumer {
	return &EventConsumer{manager: manager, nc: nc}
}

// Start subscribes to all round events. Runs until the context is cancelled.
func (ec *EventConsumer) Start(ctx context.Context) error {
	sub, err := ec.nc.Subscribe(events.SubjectPrefix+".>", func(msg *nats.Msg) {
		var envelope events.Envelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal event envelope")
			return
		}
		ec.manager.Broadcast(envelope.RoundType, msg.Data)
	})
	if err != nil {
		return err
	}
	ec.sub = sub

	log.Info().Str("subject", events.SubjectPrefix+".>").Msg("gateway event consumer started")
	<-ctx.Done()
	return ec.sub.Unsubscribe()
}
