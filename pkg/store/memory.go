package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	pamerrors "github.com/rebelopsio/pam-core/pkg/errors"
	"github.com/rebelopsio/pam-core/pkg/models"
)

// MemoryStore is the in-memory arena for engine state. Policy registries are
// not kept here; only mutable entities are. Each entity type has exactly one
// writing component, so the store only guards against torn reads.
type MemoryStore struct {
	mu          sync.RWMutex
	requests    map[string]*models.AccessRequest
	sessions    map[string]*models.PrivilegedSession
	challenges  map[string]*models.MFAChallenge
	assignments map[string]*models.DutyAssignment
	// operations is an append-only, time-ordered log per principal. Order
	// matters for temporal-conflict checks and must never be rewritten.
	operations map[string][]*models.DutyOperation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:    make(map[string]*models.AccessRequest),
		sessions:    make(map[string]*models.PrivilegedSession),
		challenges:  make(map[string]*models.MFAChallenge),
		assignments: make(map[string]*models.DutyAssignment),
		operations:  make(map[string][]*models.DutyOperation),
	}
}

func (s *MemoryStore) CreateRequest(req *models.AccessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("request %s already exists", req.ID)
	}
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryStore) GetRequest(id string) (*models.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.requests[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", pamerrors.ErrRequestNotFound, id)
	}
	return req, nil
}

func (s *MemoryStore) ListRequests() []*models.AccessRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.AccessRequest, 0, len(s.requests))
	for _, req := range s.requests {
		out = append(out, req)
	}
	return out
}

func (s *MemoryStore) CreateSession(sess *models.PrivilegedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	for _, existing := range s.sessions {
		if existing.RequestID == sess.RequestID && !existing.Status.Terminal() {
			return fmt.Errorf("request %s already has a non-terminal session %s",
				sess.RequestID, existing.ID)
		}
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemoryStore) GetSession(id string) (*models.PrivilegedSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", pamerrors.ErrSessionNotFound, id)
	}
	return sess, nil
}

func (s *MemoryStore) ListSessions() []*models.PrivilegedSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.PrivilegedSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *MemoryStore) CreateChallenge(ch *models.MFAChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.challenges[ch.ID]; exists {
		return fmt.Errorf("challenge %s already exists", ch.ID)
	}
	s.challenges[ch.ID] = ch
	return nil
}

func (s *MemoryStore) GetChallenge(id string) (*models.MFAChallenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, exists := s.challenges[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", pamerrors.ErrChallengeNotFound, id)
	}
	return ch, nil
}

// CountFailedChallenges counts the principal's failed challenges since the
// given instant. Feeds the risk evaluator's recent-failure signal.
func (s *MemoryStore) CountFailedChallenges(principal string, since time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, ch := range s.challenges {
		if ch.Principal == principal && ch.Status == models.ChallengeStatusFailed && !ch.CreatedAt.Before(since) {
			n++
		}
	}
	return n
}

// PendingChallengeForRequest returns the request's open challenge, if any.
// At most one challenge per request is pending at a time.
func (s *MemoryStore) PendingChallengeForRequest(requestID string) (*models.MFAChallenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.challenges {
		if ch.RequestID == requestID && ch.Status == models.ChallengeStatusPending {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("%w: no pending challenge for request %s",
		pamerrors.ErrChallengeNotFound, requestID)
}

func (s *MemoryStore) CreateAssignment(a *models.DutyAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.assignments[a.ID]; exists {
		return fmt.Errorf("assignment %s already exists", a.ID)
	}
	s.assignments[a.ID] = a
	return nil
}

func (s *MemoryStore) GetAssignment(id string) (*models.DutyAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.assignments[id]
	if !exists {
		return nil, fmt.Errorf("assignment %s not found", id)
	}
	return a, nil
}

// ListPrincipalAssignments returns the principal's assignments, expiring any
// whose validity window has passed.
func (s *MemoryStore) ListPrincipalAssignments(principal string, now time.Time) []*models.DutyAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.DutyAssignment, 0)
	for _, a := range s.assignments {
		if a.Principal != principal {
			continue
		}
		if a.Status == models.AssignmentStatusActive && a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
			a.Status = models.AssignmentStatusExpired
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out
}

// AppendOperation records one duty operation at the tail of the principal's
// log. Callers serialize per principal; the store preserves insertion order.
func (s *MemoryStore) AppendOperation(op *models.DutyOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.operations[op.Principal] = append(s.operations[op.Principal], op)
}

// PrincipalOperations returns the principal's operations in submission order.
func (s *MemoryStore) PrincipalOperations(principal string) []*models.DutyOperation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ops := s.operations[principal]
	out := make([]*models.DutyOperation, len(ops))
	copy(out, ops)
	return out
}

// ReapStats summarizes one retention sweep.
type ReapStats struct {
	Requests   int
	Sessions   int
	Challenges int
	Operations int
}

// Reap removes terminal requests and challenges, and operations, older than
// the cutoff. Non-terminal entities are never reaped regardless of age.
func (s *MemoryStore) Reap(cutoff time.Time) ReapStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats ReapStats
	for id, req := range s.requests {
		if req.Status.Terminal() && req.RequestedAt.Before(cutoff) {
			delete(s.requests, id)
			stats.Requests++
		}
	}
	for id, sess := range s.sessions {
		if sess.Status.Terminal() && sess.StartTime.Before(cutoff) {
			delete(s.sessions, id)
			stats.Sessions++
		}
	}
	for id, ch := range s.challenges {
		if ch.Status.Terminal() && ch.CreatedAt.Before(cutoff) {
			delete(s.challenges, id)
			stats.Challenges++
		}
	}
	for principal, ops := range s.operations {
		kept := ops[:0]
		for _, op := range ops {
			if op.Timestamp.Before(cutoff) {
				stats.Operations++
				continue
			}
			kept = append(kept, op)
		}
		if len(kept) == 0 {
			delete(s.operations, principal)
		} else {
			s.operations[principal] = kept
		}
	}
	return stats
}
