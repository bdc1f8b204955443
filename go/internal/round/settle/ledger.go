package settle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oddsworks/spindle/go/internal/sqlutil"
)

// ErrInsufficientBalance is the only settlement-adjacent error ever surfaced
// to a user, at bet placement time.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Ledger applies balance deltas. ApplyPayout must be idempotent per
// (roundID, participantID): a retried settlement inserts-or-skips and can
// never double-pay.
type Ledger interface {
	Debit(ctx context.Context, userID uuid.UUID, amount int64) error
	Credit(ctx context.Context, userID uuid.UUID, amount int64) error
	ApplyPayout(ctx context.Context, roundID, participantID, userID uuid.UUID, amount int64) error
}

// PostgresLedger implements Ledger against the balances and ledger_entries
// tables. The payout key is the ledger_entries primary key.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

var _ Ledger = (*PostgresLedger)(nil)

func (l *PostgresLedger) Debit(ctx context.Context, userID uuid.UUID, amount int64) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE balances SET amount = amount - $2 WHERE user_id = $1 AND amount >= $2`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (l *PostgresLedger) Credit(ctx context.Context, userID uuid.UUID, amount int64) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO balances (user_id, amount) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET amount = balances.amount + $2`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	return nil
}

func (l *PostgresLedger) ApplyPayout(ctx context.Context, roundID, participantID, userID uuid.UUID, amount int64) error {
	return sqlutil.WithTx(ctx, l.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO ledger_entries (round_id, participant_id, user_id, amount)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (round_id, participant_id) DO NOTHING`,
			roundID, participantID, userID, amount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Entry already exists: a previous settlement attempt paid this
			// participant. Skip the balance update.
			return nil
		}
		if amount == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO balances (user_id, amount) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET amount = balances.amount + $2`,
			userID, amount,
		)
		if err != nil {
			return fmt.Errorf("failed to credit balance: %w", err)
		}
		return nil
	})
}

// MemoryLedger is an in-memory Ledger for tests and local development, with
// the same (roundID, participantID) idempotency key as the Postgres one.
type MemoryLedger struct {
	mu          sync.Mutex
	balances    map[uuid.UUID]int64
	entries     map[string]int64
	failPayouts int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[uuid.UUID]int64),
		entries:  make(map[string]int64),
	}
}

var _ Ledger = (*MemoryLedger)(nil)

func (l *MemoryLedger) Debit(_ context.Context, userID uuid.UUID, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[userID] < amount {
		return ErrInsufficientBalance
	}
	l.balances[userID] -= amount
	return nil
}

func (l *MemoryLedger) ApplyPayout(_ context.Context, roundID, participantID, userID uuid.UUID, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failPayouts > 0 {
		l.failPayouts--
		return errors.New("ledger unavailable")
	}

	key := roundID.String() + "|" + participantID.String()
	if _, done := l.entries[key]; done {
		return nil
	}
	l.entries[key] = amount
	l.balances[userID] += amount
	return nil
}

func (l *MemoryLedger) Credit(_ context.Context, userID uuid.UUID, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += amount
	return nil
}

// Balance reads a balance.
func (l *MemoryLedger) Balance(userID uuid.UUID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

// EntryCount reports how many payout entries have been recorded.
func (l *MemoryLedger) EntryCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// FailNextPayouts makes the next n ApplyPayout calls fail, simulating a
// ledger outage mid-settlement.
func (l *MemoryLedger) FailNextPayouts(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failPayouts = n
}
