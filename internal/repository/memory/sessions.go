package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/repository"
)

// SessionRepository is an in-process port.SessionRepository.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	keys     map[string]string
}

// NewSessionRepository constructs an empty repository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]domain.Session),
		keys:     make(map[string]string),
	}
}

// Create persists a new session, rejecting duplicate ids or keys.
func (r *SessionRepository) Create(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.ID]; exists {
		return repository.ErrDuplicate
	}
	if _, exists := r.keys[session.SessionKey]; exists {
		return repository.ErrDuplicate
	}
	r.sessions[session.ID] = session
	r.keys[session.SessionKey] = session.ID
	return nil
}

// GetByID fetches a session by its identifier.
func (r *SessionRepository) GetByID(_ context.Context, sessionID string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &session, nil
}

// GetByKey fetches a session by its opaque key.
func (r *SessionRepository) GetByKey(_ context.Context, sessionKey string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.keys[sessionKey]
	if !ok {
		return nil, repository.ErrNotFound
	}
	session := r.sessions[id]
	return &session, nil
}

// ListActiveByAccount returns active sessions of the account, newest first.
func (r *SessionRepository) ListActiveByAccount(_ context.Context, accountID string) ([]domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domain.Session, 0)
	for _, session := range r.sessions {
		if session.AccountID == accountID && session.IsActive {
			result = append(result, session)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// CountActiveByAccount counts active sessions of the account.
func (r *SessionRepository) CountActiveByAccount(ctx context.Context, accountID string) (int, error) {
	sessions, err := r.ListActiveByAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// Touch refreshes last_activity for an active session.
func (r *SessionRepository) Touch(_ context.Context, sessionID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok || !session.IsActive {
		return false, nil
	}
	session.LastActivity = at
	r.sessions[sessionID] = session
	return true, nil
}

// Deactivate ends an active session. Inactive sessions are never modified.
func (r *SessionRepository) Deactivate(_ context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok || !session.IsActive {
		return false, nil
	}
	session.IsActive = false
	r.sessions[sessionID] = session
	return true, nil
}

// DeactivateAllForAccount ends every active session of the account except the optional survivor.
func (r *SessionRepository) DeactivateAllForAccount(_ context.Context, accountID string, exceptSessionID *string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, session := range r.sessions {
		if session.AccountID != accountID || !session.IsActive {
			continue
		}
		if exceptSessionID != nil && *exceptSessionID == id {
			continue
		}
		session.IsActive = false
		r.sessions[id] = session
		count++
	}
	return count, nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
