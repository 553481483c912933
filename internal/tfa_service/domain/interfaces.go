package domain

import "context"

// ConfirmationStore is the keyed storage of pending confirmations.
// Implementations must behave as if register/find/remove on a given
// key were serialized; on concurrent Register for the same key a
// single writer wins.
type ConfirmationStore interface {
	// Register upserts: an existing live record for the same key is
	// replaced (supersession, not duplication).
	Register(ctx context.Context, record *PendingConfirmation) error

	// Find returns (nil, nil) when no record exists for the key.
	// Expiry is not the store's business; the engine checks ExpiresAt
	// at consumption time.
	Find(ctx context.Context, key ConfirmationKey) (*PendingConfirmation, error)

	// Remove is idempotent; removing an absent key is not an error.
	Remove(ctx context.Context, key ConfirmationKey) error
}

// SetupSessionStore keeps setup-wizard sessions, same contract as
// ConfirmationStore.
type SetupSessionStore interface {
	Register(ctx context.Context, session *SetupSession) error
	Find(ctx context.Context, key SessionKey) (*SetupSession, error)
	Remove(ctx context.Context, key SessionKey) error
}

// ProviderStateRepository persists per-user provider state. Load
// variants return (nil, nil) when absent.
type ProviderStateRepository interface {
	Load(ctx context.Context, userID string) (*TfaProviderState, error)
	LoadBySubject(ctx context.Context, subjectID string) (*TfaProviderState, error)
	Save(ctx context.Context, state *TfaProviderState) error
}

// TextSender is the outbound send capability. Delivery is assumed
// reliable; there is no internal retry.
type TextSender interface {
	SendText(ctx context.Context, identity, text string) (outboundMessageID string, err error)
}

// AbuseHook is invoked when a user declines a challenge message, e.g.
// to rate-limit or flag the account. The decline itself stays
// invisible to the authentication caller.
type AbuseHook interface {
	OnDeclined(ctx context.Context, subjectID string, info DeclineContext) error
}
