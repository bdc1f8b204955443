package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/oddsworks/spindle/go/internal/models"
	"github.com/oddsworks/spindle/go/internal/round/events"
	"github.com/oddsworks/spindle/go/internal/round/store"
	"github.com/rs/zerolog/log"
)

// BridgeConfig holds the LISTEN/NOTIFY relay settings.
type BridgeConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // channel the resolution trigger notifies on
	FallbackInterval time.Duration // how often to poll for missed resolutions
	PingInterval     time.Duration
	BatchSize        int32 // max resolutions to relay per fallback pass
}

func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		NotifyChannel:    "round_resolved",
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// ResolutionSource recomputes the fan-out payload for a resolved round.
type ResolutionSource interface {
	ResolutionEvent(ctx context.Context, roundID uuid.UUID) (*models.ResolutionEvent, error)
}

// Publisher is the push half of delivery.
type Publisher interface {
	PublishRoundResolved(ctx context.Context, ev models.ResolutionEvent) error
}

// Bridge relays resolved rounds from the store to the message bus: a
// Postgres NOTIFY per resolution is the fast path, and a fallback poll over
// unpublished resolutions sweeps up anything a NOTIFY missed.
type Bridge struct {
	store     store.Store
	source    ResolutionSource
	publisher Publisher
	listener  *pq.Listener
	cfg       BridgeConfig
}

func NewBridge(st store.Store, source ResolutionSource, publisher Publisher, cfg BridgeConfig) (*Bridge, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for resolution notifications")

	return &Bridge{
		store:     st,
		source:    source,
		publisher: publisher,
		listener:  l,
		cfg:       cfg,
	}, nil
}

func (b *Bridge) Start(ctx context.Context) error {
	log.Info().
		Str("channel", b.cfg.NotifyChannel).
		Dur("ping_interval", b.cfg.PingInterval).
		Dur("fallback_interval", b.cfg.FallbackInterval).
		Msg("resolution bridge started")

	pingTicker := time.NewTicker(b.cfg.PingInterval)
	fallbackTicker := time.NewTicker(b.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("resolution bridge shutting down")
			return b.Stop()
		case note := <-b.listener.Notify:
			if note == nil {
				// nil notification means the connection was lost; pq reconnects
				continue
			}
			if err := b.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle resolution notification")
			}
		case <-fallbackTicker.C:
			if err := b.relayUnpublished(ctx); err != nil {
				log.Error().Err(err).Msg("failed to relay unpublished resolutions")
			}
		case <-pingTicker.C:
			if err := b.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (b *Bridge) Stop() error {
	return b.listener.Close()
}

func (b *Bridge) handleNotification(ctx context.Context, payload string) error {
	roundID, err := uuid.Parse(payload)
	if err != nil {
		return fmt.Errorf("failed to parse notification payload %q: %w", payload, err)
	}
	return b.relay(ctx, roundID)
}

func (b *Bridge) relayUnpublished(ctx context.Context) error {
	ids, err := b.store.FetchUnpublishedResolved(ctx, b.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := b.relay(ctx, id); err != nil {
			log.Error().Err(err).Str("round_id", id.String()).Msg("failed to relay resolution")
		}
	}
	return nil
}

func (b *Bridge) relay(ctx context.Context, roundID uuid.UUID) error {
	ev, err := b.source.ResolutionEvent(ctx, roundID)
	if err != nil {
		return err
	}
	if err := b.publisher.PublishRoundResolved(ctx, *ev); err != nil {
		return err
	}
	if err := b.store.MarkResolutionPublished(ctx, roundID); err != nil {
		return err
	}
	log.Debug().
		Str("round_id", roundID.String()).
		Str("subject", events.Subject(events.TypeRoundResolved)).
		Msg("resolution relayed to bus")
	return nil
}
