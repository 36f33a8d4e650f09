// Package store persists verification records and commits gate decisions
// atomically per (community, network).
package store

import (
	"context"
	"sort"
	"sync"

	"guildgate/internal/verification/models"
	"guildgate/pkg/platform/keylock"
	"guildgate/pkg/platform/sentinel"
)

type recordKey struct {
	community string
	subject   string
}

// InMemory is a goroutine-safe Store for tests and single-process deployments.
// Decide holds a per-network lock across the reuse check and the write; mu only
// guards the map itself. Only a Decide for network N can create a verified
// record on N, so the scan under the read lock cannot miss a concurrent grant.
type InMemory struct {
	mu      sync.RWMutex
	records map[recordKey]models.Record
	locks   *keylock.Map
}

func NewInMemory() *InMemory {
	return &InMemory{
		records: make(map[recordKey]models.Record),
		locks:   keylock.New(),
	}
}

func (s *InMemory) Decide(ctx context.Context, req models.DecideRequest) (models.Outcome, error) {
	if err := validateDecide(req); err != nil {
		return "", err
	}
	unlock := s.locks.Lock(networkLockKey(req.CommunityID, req.NetworkHash))
	defer unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	outcome := models.Decide(s.networkTaken(req), req.RiskScore)

	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey{community: req.CommunityID, subject: req.SubjectID}
	var existing *models.Record
	if rec, ok := s.records[key]; ok {
		existing = &rec
	}
	s.records[key] = *models.Apply(existing, req, outcome)
	return outcome, nil
}

// networkTaken reports whether another subject holds a verified record on the
// request's network. Callers hold the network lock.
func (s *InMemory) networkTaken(req models.DecideRequest) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, rec := range s.records {
		if k.community == req.CommunityID && k.subject != req.SubjectID &&
			rec.Verified && rec.NetworkHash != nil && *rec.NetworkHash == req.NetworkHash {
			return true
		}
	}
	return false
}

func (s *InMemory) Get(_ context.Context, communityID, subjectID string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{community: communityID, subject: subjectID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &rec, nil
}

// List returns records newest first by grant time, then by creation time.
func (s *InMemory) List(_ context.Context, filter models.ListFilter) ([]*models.Record, error) {
	s.mu.RLock()
	out := make([]*models.Record, 0)
	for k, rec := range s.records {
		if k.community != filter.CommunityID {
			continue
		}
		if filter.Verified != nil && rec.Verified != *filter.Verified {
			continue
		}
		r := rec
		out = append(out, &r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.GrantedAt != nil && b.GrantedAt != nil && !a.GrantedAt.Equal(*b.GrantedAt):
			return a.GrantedAt.After(*b.GrantedAt)
		case (a.GrantedAt == nil) != (b.GrantedAt == nil):
			return a.GrantedAt != nil
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.After(b.CreatedAt)
		default:
			return a.SubjectID < b.SubjectID
		}
	})
	if limit := filter.NormalizedLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping always succeeds.
func (s *InMemory) Ping(context.Context) error {
	return nil
}

func networkLockKey(communityID, networkHash string) string {
	return communityID + ":" + networkHash
}

func validateDecide(req models.DecideRequest) error {
	if req.CommunityID == "" || req.SubjectID == "" || req.NetworkHash == "" {
		return sentinel.ErrInvalidState
	}
	if req.Now.IsZero() {
		return sentinel.ErrInvalidState
	}
	return nil
}
