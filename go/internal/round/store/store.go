package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oddsworks/spindle/go/internal/models"
)

var (
	// ErrRoundNotFound is returned when a round id does not exist.
	ErrRoundNotFound = errors.New("round not found")
	// ErrNoActiveRound is returned by GetActiveRound when no round of the
	// requested type is currently ACTIVE.
	ErrNoActiveRound = errors.New("no active round")
	// ErrRoundNotAccepting is returned when a participant is appended to a
	// round that is no longer ACTIVE.
	ErrRoundNotAccepting = errors.New("round not accepting entries")
	// ErrNoResolution is returned by LatestResolvedFor when the user has no
	// resolved rounds.
	ErrNoResolution = errors.New("no resolution found")
	// ErrActiveRoundExists is returned by CreateRound when a timed round of
	// the same type is already ACTIVE. Callers racing to open a round re-read
	// the winner instead of failing.
	ErrActiveRoundExists = errors.New("an active round of this type already exists")
)

// CreateRoundRequest carries everything needed to persist a new round. The
// server seed is committed at creation time; only its hash is exposed to
// observers until the round resolves.
type CreateRoundRequest struct {
	ID              uuid.UUID
	Type            models.RoundType
	DurationSeconds int
	ServerSeed      string
	ServerSeedHash  string
	ClientSeed      string
	CreatedAt       time.Time
	Creator         *models.Participant // coinflip rounds are created with the creator's bet
}

// Store is the durable record of rounds. The status column is the only shared
// mutable resource in the system; ConditionalTransition is the sole mechanism
// that advances it, and it must be atomic at the storage layer.
type Store interface {
	CreateRound(ctx context.Context, req CreateRoundRequest) (*models.Round, error)
	GetRound(ctx context.Context, id uuid.UUID) (*models.Round, error)
	GetActiveRound(ctx context.Context, roundType models.RoundType) (*models.Round, error)
	GetLatestRound(ctx context.Context, roundType models.RoundType) (*models.Round, error)

	// AppendParticipant records a bet. The write is guarded by round status:
	// it fails with ErrRoundNotAccepting once the round has left ACTIVE.
	AppendParticipant(ctx context.Context, roundID uuid.UUID, p models.Participant) error

	// ConditionalTransition sets status to "to" only if it still equals
	// "from", stamping at as the transition time and reporting whether a row
	// actually changed. A false return with a nil error is a race loss, not a
	// failure.
	ConditionalTransition(ctx context.Context, roundID uuid.UUID, from, to models.RoundStatus, at time.Time) (bool, error)

	// WriteOutcome records the selected outcome and advances RESOLVING to
	// RESOLVED. It is only valid on a round currently in RESOLVING.
	WriteOutcome(ctx context.Context, roundID uuid.UUID, outcome models.Outcome, resolvedAt time.Time) error

	// ListStuckResolving returns rounds that entered RESOLVING before the
	// given cutoff, for watchdog recovery.
	ListStuckResolving(ctx context.Context, before time.Time, limit int32) ([]uuid.UUID, error)

	// ListDueRounds returns ACTIVE timed rounds whose deadline has passed.
	ListDueRounds(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error)

	// LatestResolvedFor returns the most recently resolved round the user
	// participated in. Backs the polling delivery path.
	LatestResolvedFor(ctx context.Context, userID uuid.UUID) (*models.Round, error)

	// FetchUnpublishedResolved and MarkResolutionPublished back the push
	// delivery bridge: resolved rounds are relayed to the message bus once,
	// with the fallback poll sweeping up anything a NOTIFY missed.
	FetchUnpublishedResolved(ctx context.Context, limit int32) ([]uuid.UUID, error)
	MarkResolutionPublished(ctx context.Context, roundID uuid.UUID) error
}
