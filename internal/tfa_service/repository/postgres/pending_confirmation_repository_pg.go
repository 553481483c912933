package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/threemagw/golang_services/internal/tfa_service/domain"
)

// PgConfirmationStore is the PostgreSQL-backed domain.ConfirmationStore.
// The unique key (subject_id, provider_id, purpose) plus ON CONFLICT
// DO UPDATE gives the supersession semantics: a second Register for
// the same key atomically replaces the first.
type PgConfirmationStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgConfirmationStore(dbPool *pgxpool.Pool, logger *slog.Logger) *PgConfirmationStore {
	return &PgConfirmationStore{
		db:     dbPool,
		logger: logger.With("component", "confirmation_store"),
	}
}

func (s *PgConfirmationStore) Register(ctx context.Context, record *domain.PendingConfirmation) error {
	query := `
		INSERT INTO tfa_pending_confirmations
			(id, subject_id, provider_id, purpose, owner_user_id, owner_session_id, correlation_data, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subject_id, provider_id, purpose) DO UPDATE SET
			owner_user_id    = EXCLUDED.owner_user_id,
			owner_session_id = EXCLUDED.owner_session_id,
			correlation_data = EXCLUDED.correlation_data,
			expires_at       = EXCLUDED.expires_at
	`
	if _, err := s.db.Exec(ctx, query,
		uuid.New(),
		record.SubjectID,
		record.ProviderID,
		string(record.Purpose),
		record.OwnerUserID,
		record.OwnerSessionID,
		record.CorrelationData,
		record.ExpiresAt,
	); err != nil {
		return fmt.Errorf("registering pending confirmation: %w", err)
	}
	return nil
}

func (s *PgConfirmationStore) Find(ctx context.Context, key domain.ConfirmationKey) (*domain.PendingConfirmation, error) {
	query := `
		SELECT subject_id, provider_id, purpose, owner_user_id, owner_session_id, correlation_data, expires_at
		FROM tfa_pending_confirmations
		WHERE subject_id = $1 AND provider_id = $2 AND purpose = $3
	`
	record := &domain.PendingConfirmation{}
	var purpose string
	err := s.db.QueryRow(ctx, query, key.SubjectID, key.ProviderID, string(key.Purpose)).Scan(
		&record.SubjectID,
		&record.ProviderID,
		&purpose,
		&record.OwnerUserID,
		&record.OwnerSessionID,
		&record.CorrelationData,
		&record.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding pending confirmation: %w", err)
	}
	record.Purpose = domain.Purpose(purpose)
	return record, nil
}

func (s *PgConfirmationStore) Remove(ctx context.Context, key domain.ConfirmationKey) error {
	query := `
		DELETE FROM tfa_pending_confirmations
		WHERE subject_id = $1 AND provider_id = $2 AND purpose = $3
	`
	if _, err := s.db.Exec(ctx, query, key.SubjectID, key.ProviderID, string(key.Purpose)); err != nil {
		return fmt.Errorf("removing pending confirmation: %w", err)
	}
	return nil
}

// PgSetupSessionStore is the PostgreSQL-backed domain.SetupSessionStore,
// keyed by (user_id, provider_id).
type PgSetupSessionStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgSetupSessionStore(dbPool *pgxpool.Pool, logger *slog.Logger) *PgSetupSessionStore {
	return &PgSetupSessionStore{
		db:     dbPool,
		logger: logger.With("component", "setup_session_store"),
	}
}

func (s *PgSetupSessionStore) Register(ctx context.Context, session *domain.SetupSession) error {
	query := `
		INSERT INTO tfa_setup_sessions
			(user_id, provider_id, subject_id, session_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, provider_id) DO UPDATE SET
			subject_id = EXCLUDED.subject_id,
			session_id = EXCLUDED.session_id,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`
	if _, err := s.db.Exec(ctx, query,
		session.UserID,
		session.ProviderID,
		session.SubjectID,
		session.SessionID,
		session.CreatedAt,
		session.ExpiresAt,
	); err != nil {
		return fmt.Errorf("registering setup session: %w", err)
	}
	return nil
}

func (s *PgSetupSessionStore) Find(ctx context.Context, key domain.SessionKey) (*domain.SetupSession, error) {
	query := `
		SELECT user_id, provider_id, subject_id, session_id, created_at, expires_at
		FROM tfa_setup_sessions
		WHERE user_id = $1 AND provider_id = $2
	`
	session := &domain.SetupSession{}
	err := s.db.QueryRow(ctx, query, key.UserID, key.ProviderID).Scan(
		&session.UserID,
		&session.ProviderID,
		&session.SubjectID,
		&session.SessionID,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding setup session: %w", err)
	}
	return session, nil
}

func (s *PgSetupSessionStore) Remove(ctx context.Context, key domain.SessionKey) error {
	query := `DELETE FROM tfa_setup_sessions WHERE user_id = $1 AND provider_id = $2`
	if _, err := s.db.Exec(ctx, query, key.UserID, key.ProviderID); err != nil {
		return fmt.Errorf("removing setup session: %w", err)
	}
	return nil
}
