package domain

import (
	"context"
	"errors"

	"github.com/threemagw/golang_services/internal/core_domain"
)

// ErrIdentityNotFound is returned by the key directory when no public
// key exists for an identity.
var ErrIdentityNotFound = errors.New("identity not found in key directory")

// MessageRepository persists decoded messages and implements the
// replay guard over message ids.
type MessageRepository interface {
	// Save stores a decoded message. The confirmation protocol only
	// needs the envelope and the variant payload; no further schema is
	// prescribed here.
	Save(ctx context.Context, msg *core_domain.DecodedMessage) error

	// WasProcessed reports whether the message id has already been
	// handled.
	WasProcessed(ctx context.Context, messageID string) (bool, error)

	// MarkProcessed atomically records the message id as handled and
	// reports whether this call was the first to do so. Two concurrent
	// deliveries of the same id must not both observe first == true.
	MarkProcessed(ctx context.Context, messageID string) (first bool, err error)
}

// KeyDirectory resolves an identity to its NaCl public key. It is a
// capability backed by the gateway's directory service, treated as a
// fallible, bounded-latency call with no internal retry.
type KeyDirectory interface {
	PublicKeyFor(ctx context.Context, identity string) (*[32]byte, error)
}

// DeliveryReceiptHandler receives decoded delivery receipts. The
// dispatcher invokes it best-effort: a handler error must not prevent
// the message from counting as received.
type DeliveryReceiptHandler interface {
	OnDeliveryReceipt(ctx context.Context, receipt *core_domain.DeliveryReceipt, fromID string) error
}
