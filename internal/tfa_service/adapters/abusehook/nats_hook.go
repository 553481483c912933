// Package abusehook publishes decline notifications so downstream
// systems (rate limiting, account review) can react to a user
// rejecting a challenge message.
package abusehook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/threemagw/golang_services/internal/core_domain"
	"github.com/threemagw/golang_services/internal/platform/messagebroker"
	"github.com/threemagw/golang_services/internal/tfa_service/domain"
)

const declinedSubject = "gateway.tfa.declined"

// declinedEvent is the published payload. The subject identity is
// censored; the full value stays inside the TFA service.
type declinedEvent struct {
	SubjectID       string         `json:"subject_id"`
	OwnerUserID     string         `json:"owner_user_id"`
	Purpose         domain.Purpose `json:"purpose"`
	CorrelationData string         `json:"correlation_data"`
	DeclinedAt      time.Time      `json:"declined_at"`
}

// NATSHook implements domain.AbuseHook by publishing decline events.
type NATSHook struct {
	publisher messagebroker.Publisher
	logger    *slog.Logger
}

func NewNATSHook(publisher messagebroker.Publisher, logger *slog.Logger) *NATSHook {
	return &NATSHook{
		publisher: publisher,
		logger:    logger.With("component", "abuse_hook"),
	}
}

func (h *NATSHook) OnDeclined(ctx context.Context, subjectID string, info domain.DeclineContext) error {
	event := declinedEvent{
		SubjectID:       core_domain.CensorString(subjectID, 3),
		OwnerUserID:     info.OwnerUserID,
		Purpose:         info.Purpose,
		CorrelationData: info.CorrelationData,
		DeclinedAt:      info.DeclinedAt,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling declined event: %w", err)
	}
	if err := h.publisher.Publish(ctx, declinedSubject, data); err != nil {
		return fmt.Errorf("publishing declined event: %w", err)
	}
	h.logger.InfoContext(ctx, "Published decline notification", "purpose", string(info.Purpose))
	return nil
}
