package core_domain

import "fmt"

// ErrorKind classifies a processing failure. The kind is internal
// diagnostics only; callers outside the gateway boundary see the
// user-facing message and the retry hint.
type ErrorKind string

const (
	KindMalformedRequest     ErrorKind = "malformed_request"
	KindUnauthenticated      ErrorKind = "unauthenticated"
	KindFormallyInvalid      ErrorKind = "formally_invalid"
	KindDecryptionFailed     ErrorKind = "decryption_failed"
	KindUnknownMessage       ErrorKind = "unknown_message_type"
	KindConfirmationExpired  ErrorKind = "confirmation_expired"
	KindConfirmationReplayed ErrorKind = "confirmation_replayed"
	KindConfirmationMismatch ErrorKind = "confirmation_mismatch"
	KindStorageUnavailable   ErrorKind = "storage_unavailable"
)

// GenericVerificationFailure is what every confirmation-stage failure
// reads as externally, so a caller cannot distinguish a wrong code,
// a replayed code, an expired code or a declined message.
const GenericVerificationFailure = "verification failed"

// GatewayError is the single structured error type of the gateway.
// InternalDetail is for logs; UserFacing is what the gateway server or
// the authentication caller may see. Retryable tells the webhook caller
// whether a redelivery could succeed.
type GatewayError struct {
	Kind           ErrorKind
	Retryable      bool
	InternalDetail string
	UserFacing     string
	Err            error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.InternalDetail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.InternalDetail)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is lets errors.Is match on the kind via the exported sentinel
// helpers below.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	return ok && t.Kind == e.Kind
}

func NewMalformedRequest(detail, userFacing string) *GatewayError {
	return &GatewayError{Kind: KindMalformedRequest, Retryable: false, InternalDetail: detail, UserFacing: userFacing}
}

// NewUnauthenticated is retryable: secrets can be rotated and delivery
// should not be permanently lost over a transient credential mismatch.
func NewUnauthenticated(detail, userFacing string) *GatewayError {
	return &GatewayError{Kind: KindUnauthenticated, Retryable: true, InternalDetail: detail, UserFacing: userFacing}
}

func NewFormallyInvalid(detail, userFacing string) *GatewayError {
	return &GatewayError{Kind: KindFormallyInvalid, Retryable: false, InternalDetail: detail, UserFacing: userFacing}
}

func NewDecryptionFailed(detail string, err error) *GatewayError {
	return &GatewayError{Kind: KindDecryptionFailed, Retryable: false, InternalDetail: detail, UserFacing: "Message cannot be processed", Err: err}
}

func NewUnknownMessageType(detail string) *GatewayError {
	return &GatewayError{Kind: KindUnknownMessage, Retryable: false, InternalDetail: detail, UserFacing: "Message cannot be processed"}
}

func NewConfirmationExpired(detail string) *GatewayError {
	return &GatewayError{Kind: KindConfirmationExpired, Retryable: false, InternalDetail: detail, UserFacing: GenericVerificationFailure}
}

func NewConfirmationReplayed(detail string) *GatewayError {
	return &GatewayError{Kind: KindConfirmationReplayed, Retryable: false, InternalDetail: detail, UserFacing: GenericVerificationFailure}
}

func NewConfirmationMismatch(detail string) *GatewayError {
	return &GatewayError{Kind: KindConfirmationMismatch, Retryable: false, InternalDetail: detail, UserFacing: GenericVerificationFailure}
}

func NewStorageUnavailable(detail string, err error) *GatewayError {
	return &GatewayError{Kind: KindStorageUnavailable, Retryable: true, InternalDetail: detail, UserFacing: "Temporary processing failure", Err: err}
}

// KindOf returns the kind of a GatewayError, or an empty kind for any
// other error.
func KindOf(err error) ErrorKind {
	if ge, ok := err.(*GatewayError); ok {
		return ge.Kind
	}
	return ""
}

// UserFacingMessage returns the message safe to show outside the
// gateway boundary. Unknown error types yield a fixed generic message
// so internal detail never leaks by accident.
func UserFacingMessage(err error) string {
	if ge, ok := err.(*GatewayError); ok && ge.UserFacing != "" {
		return ge.UserFacing
	}
	return "Message cannot be processed"
}

// IsRetryable reports whether the webhook caller should retry. Unknown
// error types default to retryable so transient faults are not turned
// into silent message loss.
func IsRetryable(err error) bool {
	if ge, ok := err.(*GatewayError); ok {
		return ge.Retryable
	}
	return true
}
