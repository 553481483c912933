package memory

import (
	"context"
	"sync"

	"github.com/threemagw/golang_services/internal/tfa_service/domain"
)

// ConfirmationStore is an in-memory domain.ConfirmationStore, used by
// tests and single-instance deployments. A mutex serializes access so
// concurrent Register calls for the same key leave exactly one record.
type ConfirmationStore struct {
	mu      sync.Mutex
	records map[domain.ConfirmationKey]domain.PendingConfirmation
}

func NewConfirmationStore() *ConfirmationStore {
	return &ConfirmationStore{records: make(map[domain.ConfirmationKey]domain.PendingConfirmation)}
}

func (s *ConfirmationStore) Register(_ context.Context, record *domain.PendingConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Key()] = *record
	return nil
}

func (s *ConfirmationStore) Find(_ context.Context, key domain.ConfirmationKey) (*domain.PendingConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	copied := record
	return &copied, nil
}

func (s *ConfirmationStore) Remove(_ context.Context, key domain.ConfirmationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// SetupSessionStore is the in-memory domain.SetupSessionStore.
type SetupSessionStore struct {
	mu       sync.Mutex
	sessions map[domain.SessionKey]domain.SetupSession
}

func NewSetupSessionStore() *SetupSessionStore {
	return &SetupSessionStore{sessions: make(map[domain.SessionKey]domain.SetupSession)}
}

func (s *SetupSessionStore) Register(_ context.Context, session *domain.SetupSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Key()] = *session
	return nil
}

func (s *SetupSessionStore) Find(_ context.Context, key domain.SessionKey) (*domain.SetupSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	copied := session
	return &copied, nil
}

func (s *SetupSessionStore) Remove(_ context.Context, key domain.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

// ProviderStateRepository is the in-memory domain.ProviderStateRepository.
type ProviderStateRepository struct {
	mu     sync.Mutex
	byUser map[string]domain.TfaProviderState
}

func NewProviderStateRepository() *ProviderStateRepository {
	return &ProviderStateRepository{byUser: make(map[string]domain.TfaProviderState)}
}

func (r *ProviderStateRepository) Load(_ context.Context, userID string) (*domain.TfaProviderState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.byUser[userID]
	if !ok {
		return nil, nil
	}
	copied := state
	return &copied, nil
}

func (r *ProviderStateRepository) LoadBySubject(_ context.Context, subjectID string) (*domain.TfaProviderState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, state := range r.byUser {
		if state.SubjectID == subjectID {
			copied := state
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *ProviderStateRepository) Save(_ context.Context, state *domain.TfaProviderState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[state.UserID] = *state
	return nil
}
