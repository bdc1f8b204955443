package notify

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/oddsworks/spindle/go/internal/models"
	"github.com/oddsworks/spindle/go/internal/round/events"
	"github.com/rs/zerolog/log"
)

// SubscribeResolutions wires an observer's push path: deliveries on the
// RoundResolved subject are decoded onto the returned channel. The returned
// cancel func drains the subscription. A full channel drops the delivery;
// the observer's fallback poll covers the loss.
func SubscribeResolutions(nc *nats.Conn, buffer int) (<-chan models.ResolutionEvent, func(), error) {
	ch := make(chan models.ResolutionEvent, buffer)

	sub, err := nc.Subscribe(events.Subject(events.TypeRoundResolved), func(msg *nats.Msg) {
		var envelope events.Envelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			log.Error().Err(err).Msg("failed to unmarshal event envelope")
			return
		}
		var ev models.ResolutionEvent
		if err := json.Unmarshal(envelope.Payload, &ev); err != nil {
			log.Error().Err(err).Str("round_id", envelope.RoundID.String()).Msg("failed to unmarshal resolution payload")
			return
		}
		select {
		case ch <- ev:
		default:
			log.Warn().Str("round_id", ev.RoundID.String()).Msg("push channel full; dropping delivery for poll to recover")
		}
	})
	if err != nil {
		return nil, nil, err
	}

	cancel := func() {
		_ = sub.Unsubscribe()
	}
	return ch, cancel, nil
}
