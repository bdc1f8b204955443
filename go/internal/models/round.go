package models

import (
	"time"

	"github.com/google/uuid"
)

// RoundType defines the variant of a round.
type RoundType string

const (
	RoundTypeWheel    RoundType = "WHEEL"
	RoundTypeCoinflip RoundType = "COINFLIP"
)

// RoundStatus defines the status of a round. Transitions are monotonic:
// ACTIVE -> RESOLVING -> RESOLVED, never backwards.
type RoundStatus string

const (
	RoundStatusActive    RoundStatus = "ACTIVE"
	RoundStatusResolving RoundStatus = "RESOLVING"
	RoundStatusResolved  RoundStatus = "RESOLVED"
)

// Side is a coinflip side.
type Side string

const (
	SideHeads Side = "HEADS"
	SideTails Side = "TAILS"
)

// Participant is one bet placed on a round. Bot participants back a coinflip
// resolved against the house; they carry a nil UserID stake owner only in the
// sense that payouts to them are discarded by the ledger.
type Participant struct {
	ID      uuid.UUID `json:"id"`
	RoundID uuid.UUID `json:"round_id"`
	UserID  uuid.UUID `json:"user_id"`
	Stake   int64     `json:"stake"` // minor currency units
	Bot     bool      `json:"bot,omitempty"`

	// Exactly one of the pick fields is set depending on round type.
	PickSection *int       `json:"pick_section,omitempty"` // wheel: exact section
	PickColor   WheelColor `json:"pick_color,omitempty"`   // wheel: color group
	PickSide    Side       `json:"pick_side,omitempty"`    // coinflip

	CreatedAt time.Time `json:"created_at"`
}

// Outcome is the selected result of a round. Section/Color are set for wheel
// rounds, Side for coinflip rounds. ServerSeed is the revealed fairness seed
// whose hash was published at round creation.
type Outcome struct {
	Section    *int       `json:"section,omitempty"`
	Color      WheelColor `json:"color,omitempty"`
	Side       Side       `json:"side,omitempty"`
	Multiplier float64    `json:"multiplier"`
	ServerSeed string     `json:"server_seed"`
}

// Round represents one resolvable unit of play.
type Round struct {
	ID              uuid.UUID     `json:"id"`
	Type            RoundType     `json:"type"`
	Status          RoundStatus   `json:"status"`
	DurationSeconds int           `json:"duration_seconds,omitempty"` // timed variants only
	ServerSeedHash  string        `json:"server_seed_hash"`
	ServerSeed      string        `json:"-"` // secret until revealed in the outcome
	ClientSeed      string        `json:"client_seed,omitempty"`
	Participants    []Participant `json:"participants,omitempty"`
	Outcome         *Outcome      `json:"outcome,omitempty"` // nil until RESOLVED

	// CreatedAt is the sole source of truth for elapsed time; observers derive
	// their countdowns from it rather than from a local timer start.
	CreatedAt  time.Time  `json:"created_at"`
	StatusAt   time.Time  `json:"status_at"` // when Status last changed
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Timed reports whether the round resolves on a countdown rather than on a
// second participant joining.
func (r *Round) Timed() bool {
	return r.DurationSeconds > 0
}

// Deadline returns the instant a timed round becomes due for resolution.
func (r *Round) Deadline() time.Time {
	return r.CreatedAt.Add(time.Duration(r.DurationSeconds) * time.Second)
}

// Payout is one participant's settlement result. Amount is zero for losing
// bets; winning bets pay stake times the outcome multiplier.
type Payout struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	UserID        uuid.UUID `json:"user_id"`
	Amount        int64     `json:"amount"`
}

// ResolutionEvent is the fan-out payload delivered to observers. It is derived
// deterministically from a resolved round and its participants, so delivering
// it twice always carries identical contents.
type ResolutionEvent struct {
	RoundID    uuid.UUID `json:"round_id"`
	Type       RoundType `json:"type"`
	Outcome    Outcome   `json:"outcome"`
	ResolvedAt time.Time `json:"resolved_at"`
	Payouts    []Payout  `json:"payouts"`
}
