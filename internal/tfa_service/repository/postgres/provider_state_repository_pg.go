package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/threemagw/golang_services/internal/core_domain"
	"github.com/threemagw/golang_services/internal/tfa_service/domain"
)

// PgProviderStateRepository persists per-user provider state. A user
// has at most one row; Save upserts on user_id.
type PgProviderStateRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgProviderStateRepository(dbPool *pgxpool.Pool, logger *slog.Logger) *PgProviderStateRepository {
	return &PgProviderStateRepository{
		db:     dbPool,
		logger: logger.With("component", "provider_state_repository"),
	}
}

const providerStateColumns = `
	user_id, subject_id, status,
	secret, secret_generated_at, validation_window_seconds,
	last_secret, last_secret_accepted_at,
	received_code, received_receipt_type
`

func (r *PgProviderStateRepository) Load(ctx context.Context, userID string) (*domain.TfaProviderState, error) {
	query := `SELECT ` + providerStateColumns + ` FROM tfa_provider_state WHERE user_id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, userID))
}

func (r *PgProviderStateRepository) LoadBySubject(ctx context.Context, subjectID string) (*domain.TfaProviderState, error) {
	query := `SELECT ` + providerStateColumns + ` FROM tfa_provider_state WHERE subject_id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, subjectID))
}

func (r *PgProviderStateRepository) scanOne(row pgx.Row) (*domain.TfaProviderState, error) {
	state := &domain.TfaProviderState{}
	var (
		status              string
		secretGeneratedAt   *time.Time
		lastAcceptedAt      *time.Time
		receivedReceiptType int16
	)
	err := row.Scan(
		&state.UserID,
		&state.SubjectID,
		&status,
		&state.Secret,
		&secretGeneratedAt,
		&state.ValidationWindowSeconds,
		&state.LastSecret,
		&lastAcceptedAt,
		&state.ReceivedCode,
		&receivedReceiptType,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading provider state: %w", err)
	}
	state.Status = domain.ProviderStatus(status)
	if secretGeneratedAt != nil {
		state.SecretGeneratedAt = *secretGeneratedAt
	}
	if lastAcceptedAt != nil {
		state.LastSecretAcceptedAt = *lastAcceptedAt
	}
	state.ReceivedReceiptType = core_domain.ReceiptType(receivedReceiptType)
	return state, nil
}

func (r *PgProviderStateRepository) Save(ctx context.Context, state *domain.TfaProviderState) error {
	query := `
		INSERT INTO tfa_provider_state (` + providerStateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			subject_id                = EXCLUDED.subject_id,
			status                    = EXCLUDED.status,
			secret                    = EXCLUDED.secret,
			secret_generated_at       = EXCLUDED.secret_generated_at,
			validation_window_seconds = EXCLUDED.validation_window_seconds,
			last_secret               = EXCLUDED.last_secret,
			last_secret_accepted_at   = EXCLUDED.last_secret_accepted_at,
			received_code             = EXCLUDED.received_code,
			received_receipt_type     = EXCLUDED.received_receipt_type,
			updated_at                = now()
	`
	var secretGeneratedAt, lastAcceptedAt *time.Time
	if !state.SecretGeneratedAt.IsZero() {
		secretGeneratedAt = &state.SecretGeneratedAt
	}
	if !state.LastSecretAcceptedAt.IsZero() {
		lastAcceptedAt = &state.LastSecretAcceptedAt
	}
	if _, err := r.db.Exec(ctx, query,
		state.UserID,
		state.SubjectID,
		string(state.Status),
		state.Secret,
		secretGeneratedAt,
		state.ValidationWindowSeconds,
		state.LastSecret,
		lastAcceptedAt,
		state.ReceivedCode,
		int16(state.ReceivedReceiptType),
	); err != nil {
		return fmt.Errorf("saving provider state: %w", err)
	}
	return nil
}
