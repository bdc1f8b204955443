package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oddsworks/spindle/go/internal/models"
)

// MemoryStore is an in-memory Store for tests and local development. The
// mutex plays the role Postgres row atomicity plays in production: a
// conditional transition checks and flips status under one critical section.
type MemoryStore struct {
	mu        sync.Mutex
	rounds    map[uuid.UUID]*models.Round
	published map[uuid.UUID]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds:    make(map[uuid.UUID]*models.Round),
		published: make(map[uuid.UUID]bool),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateRound(_ context.Context, req CreateRoundRequest) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Timed rounds are exclusive per type. Matched-pair lobbies coexist.
	if req.DurationSeconds > 0 {
		for _, existing := range s.rounds {
			if existing.Type == req.Type && existing.Status == models.RoundStatusActive {
				return nil, ErrActiveRoundExists
			}
		}
	}

	round := &models.Round{
		ID:              req.ID,
		Type:            req.Type,
		Status:          models.RoundStatusActive,
		DurationSeconds: req.DurationSeconds,
		ServerSeed:      req.ServerSeed,
		ServerSeedHash:  req.ServerSeedHash,
		ClientSeed:      req.ClientSeed,
		CreatedAt:       req.CreatedAt,
		StatusAt:        req.CreatedAt,
	}
	if req.Creator != nil {
		round.Participants = append(round.Participants, *req.Creator)
	}
	s.rounds[round.ID] = round
	return cloneRound(round), nil
}

func (s *MemoryStore) GetRound(_ context.Context, id uuid.UUID) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.rounds[id]
	if !ok {
		return nil, ErrRoundNotFound
	}
	return cloneRound(round), nil
}

func (s *MemoryStore) GetActiveRound(_ context.Context, roundType models.RoundType) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, round := range s.rounds {
		if round.Type == roundType && round.Status == models.RoundStatusActive {
			return cloneRound(round), nil
		}
	}
	return nil, ErrNoActiveRound
}

func (s *MemoryStore) GetLatestRound(_ context.Context, roundType models.RoundType) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.Round
	for _, round := range s.rounds {
		if round.Type != roundType {
			continue
		}
		if latest == nil || round.CreatedAt.After(latest.CreatedAt) {
			latest = round
		}
	}
	if latest == nil {
		return nil, ErrRoundNotFound
	}
	return cloneRound(latest), nil
}

func (s *MemoryStore) AppendParticipant(_ context.Context, roundID uuid.UUID, p models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.rounds[roundID]
	if !ok {
		return ErrRoundNotFound
	}
	if round.Status != models.RoundStatusActive {
		return ErrRoundNotAccepting
	}
	if p.Bot {
		for _, existing := range round.Participants {
			if existing.Bot {
				return ErrRoundNotAccepting
			}
		}
	}
	round.Participants = append(round.Participants, p)
	return nil
}

func (s *MemoryStore) ConditionalTransition(_ context.Context, roundID uuid.UUID, from, to models.RoundStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.rounds[roundID]
	if !ok {
		return false, ErrRoundNotFound
	}
	if round.Status != from {
		return false, nil
	}
	round.Status = to
	round.StatusAt = at
	return true, nil
}

func (s *MemoryStore) WriteOutcome(_ context.Context, roundID uuid.UUID, outcome models.Outcome, resolvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.rounds[roundID]
	if !ok {
		return ErrRoundNotFound
	}
	if round.Status != models.RoundStatusResolving {
		return ErrRoundNotAccepting
	}
	o := outcome
	round.Outcome = &o
	round.Status = models.RoundStatusResolved
	round.StatusAt = resolvedAt
	round.ResolvedAt = &resolvedAt
	return nil
}

func (s *MemoryStore) ListStuckResolving(_ context.Context, before time.Time, limit int32) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for _, round := range s.rounds {
		if round.Status == models.RoundStatusResolving && round.StatusAt.Before(before) {
			ids = append(ids, round.ID)
		}
	}
	return capIDs(ids, limit), nil
}

func (s *MemoryStore) ListDueRounds(_ context.Context, now time.Time, limit int32) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for _, round := range s.rounds {
		if round.Status == models.RoundStatusActive && round.Timed() && !round.Deadline().After(now) {
			ids = append(ids, round.ID)
		}
	}
	return capIDs(ids, limit), nil
}

func (s *MemoryStore) LatestResolvedFor(_ context.Context, userID uuid.UUID) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.Round
	for _, round := range s.rounds {
		if round.Status != models.RoundStatusResolved {
			continue
		}
		involved := false
		for _, p := range round.Participants {
			if p.UserID == userID {
				involved = true
				break
			}
		}
		if !involved {
			continue
		}
		if latest == nil || round.ResolvedAt.After(*latest.ResolvedAt) {
			latest = round
		}
	}
	if latest == nil {
		return nil, ErrNoResolution
	}
	return cloneRound(latest), nil
}

func (s *MemoryStore) FetchUnpublishedResolved(_ context.Context, limit int32) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*models.Round
	for _, round := range s.rounds {
		if round.Status == models.RoundStatusResolved && !s.published[round.ID] {
			pending = append(pending, round)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ResolvedAt.Before(*pending[j].ResolvedAt)
	})

	ids := make([]uuid.UUID, 0, len(pending))
	for _, round := range pending {
		ids = append(ids, round.ID)
	}
	return capIDs(ids, limit), nil
}

func (s *MemoryStore) MarkResolutionPublished(_ context.Context, roundID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[roundID] = true
	return nil
}

func capIDs(ids []uuid.UUID, limit int32) []uuid.UUID {
	if limit > 0 && int32(len(ids)) > limit {
		return ids[:limit]
	}
	return ids
}

func cloneRound(round *models.Round) *models.Round {
	out := *round
	out.Participants = append([]models.Participant(nil), round.Participants...)
	if round.Outcome != nil {
		o := *round.Outcome
		out.Outcome = &o
	}
	if round.ResolvedAt != nil {
		t := *round.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}
