package domain

import (
	"time"

	"github.com/threemagw/golang_services/internal/core_domain"
)

// Purpose distinguishes why a confirmation was requested. The
// validation window differs per purpose.
type Purpose string

const (
	PurposeLogin Purpose = "login"
	PurposeSetup Purpose = "setup"
)

// Purposes lists every purpose, in matching order for receipt
// correlation.
var Purposes = []Purpose{PurposeLogin, PurposeSetup}

// ProviderStatus tracks the per-user provider lifecycle. Absence of a
// state record means the provider was never set up.
type ProviderStatus string

const (
	// StatusPending means setup was started and awaits its first
	// successful confirmation.
	StatusPending ProviderStatus = "awaiting_confirmation"
	// StatusActive means the provider is usable for login
	// verification.
	StatusActive ProviderStatus = "active"
)

// ConfirmationKey identifies the single live pending confirmation per
// subject, provider and purpose.
type ConfirmationKey struct {
	SubjectID  string
	ProviderID string
	Purpose    Purpose
}

// PendingConfirmation correlates an outgoing challenge message with
// the delivery receipt expected to acknowledge it. Registering a new
// record for the same key replaces the old one: a later confirmation
// attempt always wins over an earlier, possibly abandoned one.
type PendingConfirmation struct {
	SubjectID       string
	ProviderID      string
	Purpose         Purpose
	OwnerUserID     string
	OwnerSessionID  string
	// CorrelationData is opaque to the store; in practice it holds the
	// outbound message id of the challenge.
	CorrelationData string
	ExpiresAt       time.Time
}

// Key returns the store key of the record.
func (p *PendingConfirmation) Key() ConfirmationKey {
	return ConfirmationKey{SubjectID: p.SubjectID, ProviderID: p.ProviderID, Purpose: p.Purpose}
}

// TfaProviderState is the per-user provider record mutated only by the
// confirmation engine. Secret and SecretGeneratedAt are cleared after
// every consumed verification attempt; LastSecret and
// LastSecretAcceptedAt stay behind to catch replays of an
// already-consumed code inside the still-live window.
type TfaProviderState struct {
	UserID    string
	SubjectID string
	Status    ProviderStatus

	Secret                  string
	SecretGeneratedAt       time.Time
	ValidationWindowSeconds int

	LastSecret           string
	LastSecretAcceptedAt time.Time

	ReceivedCode        string
	ReceivedReceiptType core_domain.ReceiptType
}

// SetupSession is the short-lived state of a setup wizard in flight,
// keyed by (user, provider) with its own expiry. It replaces ambient
// session storage with an explicit value.
type SetupSession struct {
	UserID     string
	ProviderID string
	SubjectID  string
	SessionID  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// SessionKey identifies a setup session.
type SessionKey struct {
	UserID     string
	ProviderID string
}

// Key returns the store key of the session.
func (s *SetupSession) Key() SessionKey {
	return SessionKey{UserID: s.UserID, ProviderID: s.ProviderID}
}

// DeclineContext gives the abuse hook enough to rate-limit or flag the
// account without exposing protocol internals.
type DeclineContext struct {
	OwnerUserID     string
	Purpose         Purpose
	CorrelationData string
	DeclinedAt      time.Time
}
