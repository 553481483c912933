package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/threemagw/golang_services/internal/core_domain"
)

// PgMessageRepository stores decoded messages and the replay-guard
// markers in PostgreSQL.
type PgMessageRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgMessageRepository(dbPool *pgxpool.Pool, logger *slog.Logger) *PgMessageRepository {
	return &PgMessageRepository{
		db:     dbPool,
		logger: logger.With("component", "message_repository"),
	}
}

// Save inserts a decoded message. The variant payload is stored as
// jsonb; the confirmation protocol only needs the envelope fields and
// the receipt contents, both of which stay queryable.
func (r *PgMessageRepository) Save(ctx context.Context, msg *core_domain.DecodedMessage) error {
	var payload any
	switch msg.Kind() {
	case core_domain.KindText:
		payload = msg.Text
	case core_domain.KindDeliveryReceipt:
		payload = msg.DeliveryReceipt
	case core_domain.KindFile:
		payload = msg.File
	case core_domain.KindImage:
		payload = msg.Image
	default:
		return fmt.Errorf("message %s has no variant set", msg.Envelope.MessageID)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling message payload: %w", err)
	}

	// Idempotent on the message id: a redelivery racing ahead of the
	// replay marker collapses into the already-stored row.
	query := `
		INSERT INTO gateway_messages (id, message_id, sender_id, kind, sent_at, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (message_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query,
		uuid.New(),
		msg.Envelope.MessageID,
		msg.Envelope.FromID,
		string(msg.Kind()),
		msg.Envelope.SentAt,
		payloadJSON,
	); err != nil {
		r.logger.ErrorContext(ctx, "Error inserting gateway message",
			"error", err, "message_id", msg.Envelope.MessageID)
		return err
	}

	return nil
}

// WasProcessed reports whether the replay guard already holds the id.
func (r *PgMessageRepository) WasProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_messages WHERE message_id = $1)`, messageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying replay guard: %w", err)
	}
	return exists, nil
}

// MarkProcessed records the id and reports whether this call won the
// race. The unique constraint makes the check-and-mark atomic: of two
// concurrent deliveries only one insert affects a row.
func (r *PgMessageRepository) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO processed_messages (message_id, processed_at) VALUES ($1, now())
		 ON CONFLICT (message_id) DO NOTHING`, messageID)
	if err != nil {
		return false, fmt.Errorf("marking message processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
