package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/threemagw/golang_services/internal/core_domain"
	"github.com/threemagw/golang_services/internal/platform/cryptotool"
	"github.com/threemagw/golang_services/internal/tfa_service/domain"
)

// EngineConfig holds the confirmation engine's knobs. Login codes get
// a shorter window than setup codes.
type EngineConfig struct {
	ProviderID   string
	SecretLength int
	LoginWindow  time.Duration
	SetupWindow  time.Duration
}

const (
	defaultProviderID   = "message_confirm"
	defaultSecretLength = 6
	defaultLoginWindow  = 3 * time.Minute
	defaultSetupWindow  = 10 * time.Minute
)

// ConfirmationEngine drives the message-confirmation 2FA state
// machine: it issues challenge codes over the gateway, correlates the
// later delivery receipt, and verifies presented codes with expiry and
// anti-replay checks.
type ConfirmationEngine struct {
	cfg      EngineConfig
	states   domain.ProviderStateRepository
	pending  domain.ConfirmationStore
	sessions domain.SetupSessionStore
	sender   domain.TextSender
	abuse    domain.AbuseHook
	logger   *slog.Logger

	now       func() time.Time
	newSecret func(length int) (string, error)
}

func NewConfirmationEngine(
	cfg EngineConfig,
	states domain.ProviderStateRepository,
	pending domain.ConfirmationStore,
	sessions domain.SetupSessionStore,
	sender domain.TextSender,
	abuse domain.AbuseHook,
	logger *slog.Logger,
) *ConfirmationEngine {
	if cfg.ProviderID == "" {
		cfg.ProviderID = defaultProviderID
	}
	if cfg.SecretLength <= 0 {
		cfg.SecretLength = defaultSecretLength
	}
	if cfg.LoginWindow <= 0 {
		cfg.LoginWindow = defaultLoginWindow
	}
	if cfg.SetupWindow <= 0 {
		cfg.SetupWindow = defaultSetupWindow
	}
	return &ConfirmationEngine{
		cfg:       cfg,
		states:    states,
		pending:   pending,
		sessions:  sessions,
		sender:    sender,
		abuse:     abuse,
		logger:    logger.With("component", "tfa_engine"),
		now:       time.Now,
		newSecret: cryptotool.RandomNumericSecret,
	}
}

func (e *ConfirmationEngine) windowFor(purpose domain.Purpose) time.Duration {
	if purpose == domain.PurposeSetup {
		return e.cfg.SetupWindow
	}
	return e.cfg.LoginWindow
}

// TriggerVerification issues a fresh challenge: it generates a numeric
// secret, sends it to the subject over the gateway, and registers a
// pending confirmation correlated to the outbound message id. A prior
// pending confirmation for the same key is superseded.
func (e *ConfirmationEngine) TriggerVerification(ctx context.Context, subjectID, userID, sessionID string, purpose domain.Purpose) error {
	if !core_domain.IsPersonalID(subjectID) {
		return core_domain.NewMalformedRequest(
			fmt.Sprintf("subject %q is not a valid personal identity", subjectID), "Invalid gateway identity")
	}

	state, err := e.states.LoadBySubject(ctx, subjectID)
	if err != nil {
		return core_domain.NewStorageUnavailable("loading provider state failed", err)
	}
	if purpose == domain.PurposeLogin && (state == nil || state.Status != domain.StatusActive) {
		return core_domain.NewConfirmationMismatch("provider is not set up for subject")
	}
	if state == nil {
		state = &domain.TfaProviderState{
			UserID:    userID,
			SubjectID: subjectID,
			Status:    domain.StatusPending,
		}
	}

	secret, err := e.newSecret(e.cfg.SecretLength)
	if err != nil {
		return core_domain.NewStorageUnavailable("generating challenge secret failed", err)
	}

	window := e.windowFor(purpose)
	text := fmt.Sprintf(
		"Your verification code is %s. It is valid for %d minutes. If you did not request it, decline this message.",
		secret, int(window.Minutes()),
	)

	outboundID, err := e.sender.SendText(ctx, subjectID, text)
	if err != nil {
		return core_domain.NewStorageUnavailable("sending challenge message failed", err)
	}

	now := e.now().UTC()
	state.Secret = secret
	state.SecretGeneratedAt = now
	state.ValidationWindowSeconds = int(window.Seconds())
	state.ReceivedCode = ""
	state.ReceivedReceiptType = 0
	if err := e.states.Save(ctx, state); err != nil {
		return core_domain.NewStorageUnavailable("saving provider state failed", err)
	}

	record := &domain.PendingConfirmation{
		SubjectID:       subjectID,
		ProviderID:      e.cfg.ProviderID,
		Purpose:         purpose,
		OwnerUserID:     userID,
		OwnerSessionID:  sessionID,
		CorrelationData: outboundID,
		ExpiresAt:       now.Add(window),
	}
	if err := e.pending.Register(ctx, record); err != nil {
		return core_domain.NewStorageUnavailable("registering pending confirmation failed", err)
	}

	verificationsTriggeredCounter.WithLabelValues(string(purpose)).Inc()
	e.logger.InfoContext(ctx, "Verification triggered",
		"subject", core_domain.CensorString(subjectID, 3),
		"purpose", string(purpose),
		"window_seconds", state.ValidationWindowSeconds,
	)
	return nil
}

// OnDeliveryReceipt consumes an authenticated delivery receipt: each
// acknowledged message id is matched against the live pending
// confirmations of the sending subject. Declines invoke the abuse hook
// and otherwise vanish; confirms are recorded on the provider state;
// every other receipt type is not a terminal state and is ignored.
func (e *ConfirmationEngine) OnDeliveryReceipt(ctx context.Context, receipt *core_domain.DeliveryReceipt, fromID string) error {
	now := e.now().UTC()

	for _, ackedID := range receipt.AckedMessageIDs {
		for _, purpose := range domain.Purposes {
			key := domain.ConfirmationKey{SubjectID: fromID, ProviderID: e.cfg.ProviderID, Purpose: purpose}
			record, err := e.pending.Find(ctx, key)
			if err != nil {
				return core_domain.NewStorageUnavailable("looking up pending confirmation failed", err)
			}
			if record == nil {
				continue
			}
			if now.After(record.ExpiresAt) {
				// Lazy reaping: an expired record is absent for
				// matching purposes but still gets removed.
				if err := e.pending.Remove(ctx, key); err != nil {
					return core_domain.NewStorageUnavailable("removing expired confirmation failed", err)
				}
				continue
			}
			if record.CorrelationData != ackedID {
				continue
			}

			switch receipt.ReceiptType {
			case core_domain.ReceiptTypeDecline:
				if err := e.handleDecline(ctx, record, now); err != nil {
					return err
				}
			case core_domain.ReceiptTypeConfirm:
				if err := e.recordConfirm(ctx, record, ackedID); err != nil {
					return err
				}
			default:
				// Received/read receipts are not terminal.
			}
		}
	}
	return nil
}

// handleDecline flags the account via the abuse hook, removes the
// pending record and consumes the live secret. The caller-facing
// behavior afterwards is indistinguishable from a plain timeout.
func (e *ConfirmationEngine) handleDecline(ctx context.Context, record *domain.PendingConfirmation, now time.Time) error {
	info := domain.DeclineContext{
		OwnerUserID:     record.OwnerUserID,
		Purpose:         record.Purpose,
		CorrelationData: record.CorrelationData,
		DeclinedAt:      now,
	}
	if err := e.abuse.OnDeclined(ctx, record.SubjectID, info); err != nil {
		e.logger.ErrorContext(ctx, "Abuse hook failed", "error", err,
			"subject", core_domain.CensorString(record.SubjectID, 3))
	}

	if err := e.pending.Remove(ctx, record.Key()); err != nil {
		return core_domain.NewStorageUnavailable("removing declined confirmation failed", err)
	}

	state, err := e.states.LoadBySubject(ctx, record.SubjectID)
	if err != nil {
		return core_domain.NewStorageUnavailable("loading provider state failed", err)
	}
	if state != nil {
		state.Secret = ""
		state.SecretGeneratedAt = time.Time{}
		state.ReceivedCode = ""
		state.ReceivedReceiptType = core_domain.ReceiptTypeDecline
		if err := e.states.Save(ctx, state); err != nil {
			return core_domain.NewStorageUnavailable("saving provider state failed", err)
		}
	}

	declinesCounter.Inc()
	e.logger.WarnContext(ctx, "Challenge message declined",
		"subject", core_domain.CensorString(record.SubjectID, 3),
		"purpose", string(record.Purpose),
	)
	return nil
}

func (e *ConfirmationEngine) recordConfirm(ctx context.Context, record *domain.PendingConfirmation, ackedID string) error {
	state, err := e.states.LoadBySubject(ctx, record.SubjectID)
	if err != nil {
		return core_domain.NewStorageUnavailable("loading provider state failed", err)
	}
	if state == nil {
		return nil
	}
	state.ReceivedCode = ackedID
	state.ReceivedReceiptType = core_domain.ReceiptTypeConfirm
	if err := e.states.Save(ctx, state); err != nil {
		return core_domain.NewStorageUnavailable("saving provider state failed", err)
	}
	e.logger.InfoContext(ctx, "Challenge message confirmed",
		"subject", core_domain.CensorString(record.SubjectID, 3),
		"purpose", string(record.Purpose),
	)
	return nil
}

// Verify checks a presented code against the subject's live secret.
// It fails closed: expired, replayed, absent and mismatching codes all
// surface the same generic user-facing message, while the error kind
// stays distinguishable for internal diagnostics.
//
// The replay check runs before the absent-secret check: a successful
// verification consumes the secret, so a replayed code would otherwise
// be indistinguishable from "never triggered".
func (e *ConfirmationEngine) Verify(ctx context.Context, subjectID, presentedCode string, now time.Time) error {
	state, err := e.states.LoadBySubject(ctx, subjectID)
	if err != nil {
		return core_domain.NewStorageUnavailable("loading provider state failed", err)
	}
	if state == nil {
		return e.verifyFailed(core_domain.NewConfirmationMismatch("no provider state for subject"))
	}

	window := time.Duration(state.ValidationWindowSeconds) * time.Second

	if state.LastSecret != "" && !state.LastSecretAcceptedAt.IsZero() &&
		cryptotool.ConstantTimeEqual(state.LastSecret, presentedCode) &&
		now.Sub(state.LastSecretAcceptedAt) < window {
		return e.verifyFailed(core_domain.NewConfirmationReplayed("code was already consumed inside the live window"))
	}

	if state.Secret == "" || state.SecretGeneratedAt.IsZero() {
		return e.verifyFailed(core_domain.NewConfirmationMismatch("no live secret: never triggered or already consumed"))
	}

	if now.Sub(state.SecretGeneratedAt) > window {
		// Consume the expired secret so it cannot be retried; the
		// caller must re-trigger.
		state.Secret = ""
		state.SecretGeneratedAt = time.Time{}
		if err := e.states.Save(ctx, state); err != nil {
			return core_domain.NewStorageUnavailable("saving provider state failed", err)
		}
		return e.verifyFailed(core_domain.NewConfirmationExpired("secret expired before verification"))
	}

	if !cryptotool.ConstantTimeEqual(state.Secret, presentedCode) {
		return e.verifyFailed(core_domain.NewConfirmationMismatch("presented code does not match"))
	}

	state.LastSecret = presentedCode
	state.LastSecretAcceptedAt = now
	state.Secret = ""
	state.SecretGeneratedAt = time.Time{}
	state.ReceivedCode = ""
	state.ReceivedReceiptType = 0
	if err := e.states.Save(ctx, state); err != nil {
		return core_domain.NewStorageUnavailable("saving provider state failed", err)
	}

	for _, purpose := range domain.Purposes {
		key := domain.ConfirmationKey{SubjectID: subjectID, ProviderID: e.cfg.ProviderID, Purpose: purpose}
		if err := e.pending.Remove(ctx, key); err != nil {
			return core_domain.NewStorageUnavailable("removing pending confirmation failed", err)
		}
	}

	verificationResultCounter.WithLabelValues("success").Inc()
	e.logger.InfoContext(ctx, "Verification succeeded",
		"subject", core_domain.CensorString(subjectID, 3))
	return nil
}

func (e *ConfirmationEngine) verifyFailed(gerr *core_domain.GatewayError) error {
	verificationResultCounter.WithLabelValues(string(gerr.Kind)).Inc()
	return gerr
}

// BeginSetup starts the setup wizard for a user: it records an
// explicit setup session and triggers a setup-purpose challenge to
// the entered subject identity.
func (e *ConfirmationEngine) BeginSetup(ctx context.Context, userID, sessionID, subjectID string) error {
	if !core_domain.IsPersonalID(subjectID) {
		return core_domain.NewMalformedRequest(
			fmt.Sprintf("subject %q is not a valid personal identity", subjectID), "Invalid gateway identity")
	}

	now := e.now().UTC()
	session := &domain.SetupSession{
		UserID:     userID,
		ProviderID: e.cfg.ProviderID,
		SubjectID:  subjectID,
		SessionID:  sessionID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.cfg.SetupWindow),
	}
	if err := e.sessions.Register(ctx, session); err != nil {
		return core_domain.NewStorageUnavailable("registering setup session failed", err)
	}

	return e.TriggerVerification(ctx, subjectID, userID, sessionID, domain.PurposeSetup)
}

// ConfirmSetup completes the setup wizard: the presented code is
// verified against the session's subject, and on success the provider
// state becomes active for the user.
func (e *ConfirmationEngine) ConfirmSetup(ctx context.Context, userID, presentedCode string, now time.Time) error {
	key := domain.SessionKey{UserID: userID, ProviderID: e.cfg.ProviderID}
	session, err := e.sessions.Find(ctx, key)
	if err != nil {
		return core_domain.NewStorageUnavailable("loading setup session failed", err)
	}
	if session == nil {
		return e.verifyFailed(core_domain.NewConfirmationExpired("no setup session for user"))
	}
	if now.After(session.ExpiresAt) {
		if err := e.sessions.Remove(ctx, key); err != nil {
			return core_domain.NewStorageUnavailable("removing setup session failed", err)
		}
		return e.verifyFailed(core_domain.NewConfirmationExpired("setup session expired"))
	}

	if err := e.Verify(ctx, session.SubjectID, presentedCode, now); err != nil {
		return err
	}

	state, err := e.states.LoadBySubject(ctx, session.SubjectID)
	if err != nil {
		return core_domain.NewStorageUnavailable("loading provider state failed", err)
	}
	if state != nil {
		state.Status = domain.StatusActive
		state.UserID = userID
		if err := e.states.Save(ctx, state); err != nil {
			return core_domain.NewStorageUnavailable("saving provider state failed", err)
		}
	}

	if err := e.sessions.Remove(ctx, key); err != nil {
		return core_domain.NewStorageUnavailable("removing setup session failed", err)
	}

	e.logger.InfoContext(ctx, "Provider setup confirmed",
		"subject", core_domain.CensorString(session.SubjectID, 3))
	return nil
}
