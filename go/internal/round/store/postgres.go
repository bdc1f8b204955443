package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oddsworks/spindle/go/internal/models"
	"github.com/oddsworks/spindle/go/internal/sqlutil"
)

// PostgresStore implements Store on top of a pgx connection pool. All status
// movement goes through single-statement conditional updates so concurrent
// resolvers are serialized by the database, not by application locks.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

const roundColumns = `id, type, status, duration_seconds, server_seed, server_seed_hash,
	client_seed, outcome, created_at, status_at, resolved_at`

func (s *PostgresStore) CreateRound(ctx context.Context, req CreateRoundRequest) (*models.Round, error) {
	err := sqlutil.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO rounds (id, type, status, duration_seconds, server_seed, server_seed_hash, client_seed, created_at, status_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
			req.ID, req.Type, models.RoundStatusActive, req.DurationSeconds,
			req.ServerSeed, req.ServerSeedHash, req.ClientSeed, req.CreatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "rounds_one_active_timed_per_type" {
				// Lost the race to open the round; the caller re-reads the
				// winner's row.
				return ErrActiveRoundExists
			}
			return fmt.Errorf("failed to insert round: %w", err)
		}
		if req.Creator != nil {
			if err := insertParticipant(ctx, tx, req.ID, *req.Creator); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetRound(ctx, req.ID)
}

func (s *PostgresStore) GetRound(ctx context.Context, id uuid.UUID) (*models.Round, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id)
	round, err := scanRound(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	if err := s.loadParticipants(ctx, round); err != nil {
		return nil, err
	}
	return round, nil
}

func (s *PostgresStore) GetActiveRound(ctx context.Context, roundType models.RoundType) (*models.Round, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE type = $1 AND status = $2`,
		roundType, models.RoundStatusActive,
	)
	round, err := scanRound(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveRound
		}
		return nil, fmt.Errorf("failed to get active round: %w", err)
	}
	if err := s.loadParticipants(ctx, round); err != nil {
		return nil, err
	}
	return round, nil
}

func (s *PostgresStore) GetLatestRound(ctx context.Context, roundType models.RoundType) (*models.Round, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE type = $1 ORDER BY created_at DESC LIMIT 1`,
		roundType,
	)
	round, err := scanRound(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to get latest round: %w", err)
	}
	if err := s.loadParticipants(ctx, round); err != nil {
		return nil, err
	}
	return round, nil
}

func (s *PostgresStore) AppendParticipant(ctx context.Context, roundID uuid.UUID, p models.Participant) error {
	// Guarded insert: the participant row only lands while the round is still
	// ACTIVE, so a bet can never slip in after resolution has begun. A round
	// also takes at most one bot; concurrent bot fills lose the guard the
	// same way concurrent resolvers lose the status transition.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO round_participants (id, round_id, user_id, stake, bot, pick_section, pick_color, pick_side, created_at)
		SELECT $1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9
		WHERE EXISTS (SELECT 1 FROM rounds WHERE id = $2 AND status = $10)
		  AND NOT ($5 AND EXISTS (SELECT 1 FROM round_participants WHERE round_id = $2 AND bot))`,
		p.ID, roundID, p.UserID, p.Stake, p.Bot, p.PickSection, string(p.PickColor), string(p.PickSide), p.CreatedAt,
		models.RoundStatusActive,
	)
	if err != nil {
		return fmt.Errorf("failed to append participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoundNotAccepting
	}
	return nil
}

func (s *PostgresStore) ConditionalTransition(ctx context.Context, roundID uuid.UUID, from, to models.RoundStatus, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rounds SET status = $1, status_at = $2 WHERE id = $3 AND status = $4`,
		to, at, roundID, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition round status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) WriteOutcome(ctx context.Context, roundID uuid.UUID, outcome models.Outcome, resolvedAt time.Time) error {
	outcomeBytes, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE rounds SET outcome = $1, status = $2, status_at = $3, resolved_at = $3
		WHERE id = $4 AND status = $5`,
		outcomeBytes, models.RoundStatusResolved, resolvedAt, roundID, models.RoundStatusResolving,
	)
	if err != nil {
		return fmt.Errorf("failed to write outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("round %s is not resolving", roundID)
	}
	return nil
}

func (s *PostgresStore) ListStuckResolving(ctx context.Context, before time.Time, limit int32) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM rounds WHERE status = $1 AND status_at < $2 ORDER BY status_at LIMIT $3`,
		models.RoundStatusResolving, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck rounds: %w", err)
	}
	return scanIDs(rows)
}

func (s *PostgresStore) ListDueRounds(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM rounds
		WHERE status = $1 AND duration_seconds > 0
		  AND created_at + make_interval(secs => duration_seconds) <= $2
		ORDER BY created_at LIMIT $3`,
		models.RoundStatusActive, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due rounds: %w", err)
	}
	return scanIDs(rows)
}

func (s *PostgresStore) LatestResolvedFor(ctx context.Context, userID uuid.UUID) (*models.Round, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+roundColumns+` FROM rounds
		WHERE status = $1 AND id IN (SELECT round_id FROM round_participants WHERE user_id = $2)
		ORDER BY resolved_at DESC LIMIT 1`,
		models.RoundStatusResolved, userID,
	)
	round, err := scanRound(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoResolution
		}
		return nil, fmt.Errorf("failed to get latest resolution: %w", err)
	}
	if err := s.loadParticipants(ctx, round); err != nil {
		return nil, err
	}
	return round, nil
}

func (s *PostgresStore) FetchUnpublishedResolved(ctx context.Context, limit int32) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM rounds
		WHERE status = $1 AND published_at IS NULL
		ORDER BY resolved_at LIMIT $2`,
		models.RoundStatusResolved, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unpublished resolutions: %w", err)
	}
	return scanIDs(rows)
}

func (s *PostgresStore) MarkResolutionPublished(ctx context.Context, roundID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE rounds SET published_at = now() WHERE id = $1 AND published_at IS NULL`,
		roundID,
	); err != nil {
		return fmt.Errorf("failed to mark resolution published: %w", err)
	}
	return nil
}

func (s *PostgresStore) loadParticipants(ctx context.Context, round *models.Round) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, round_id, user_id, stake, bot, pick_section, pick_color, pick_side, created_at
		FROM round_participants WHERE round_id = $1 ORDER BY created_at`,
		round.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p     models.Participant
			color *string
			side  *string
		)
		if err := rows.Scan(&p.ID, &p.RoundID, &p.UserID, &p.Stake, &p.Bot, &p.PickSection, &color, &side, &p.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		if color != nil {
			p.PickColor = models.WheelColor(*color)
		}
		if side != nil {
			p.PickSide = models.Side(*side)
		}
		round.Participants = append(round.Participants, p)
	}
	return rows.Err()
}

func insertParticipant(ctx context.Context, tx pgx.Tx, roundID uuid.UUID, p models.Participant) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO round_participants (id, round_id, user_id, stake, bot, pick_section, pick_color, pick_side, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)`,
		p.ID, roundID, p.UserID, p.Stake, p.Bot, p.PickSection, string(p.PickColor), string(p.PickSide), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert participant: %w", err)
	}
	return nil
}

func scanRound(row pgx.Row) (*models.Round, error) {
	var (
		round        models.Round
		outcomeBytes []byte
	)
	err := row.Scan(
		&round.ID, &round.Type, &round.Status, &round.DurationSeconds,
		&round.ServerSeed, &round.ServerSeedHash, &round.ClientSeed,
		&outcomeBytes, &round.CreatedAt, &round.StatusAt, &round.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if outcomeBytes != nil {
		var outcome models.Outcome
		if err := json.Unmarshal(outcomeBytes, &outcome); err != nil {
			return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
		}
		round.Outcome = &outcome
	}
	return &round, nil
}

func scanIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan round id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
