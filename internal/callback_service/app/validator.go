package app

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/threemagw/golang_services/internal/callback_service/domain"
	"github.com/threemagw/golang_services/internal/core_domain"
	"github.com/threemagw/golang_services/internal/platform/cryptotool"
)

// ValidatorConfig holds everything the three validation gates need.
// It is passed by reference at construction; there is no ambient
// settings holder.
type ValidatorConfig struct {
	// ReceiveEnabled gates the whole pipeline; when false every
	// delivery is rejected as a configuration error.
	ReceiveEnabled bool
	// AllowGET permits GET deliveries, only meaningful in debug
	// setups.
	AllowGET bool
	// AccessToken authenticates the calling gateway server.
	AccessToken string
	// APISecret keys the callback MAC.
	APISecret []byte
	// GatewayID is this system's own identity, the expected `to`.
	GatewayID string
	// MaxMessageAge rejects messages sent too long ago. Zero means the
	// 14 day default.
	MaxMessageAge time.Duration
}

const defaultMaxMessageAge = 14 * 24 * time.Hour

// CallbackValidator runs the three ordered validation gates. Each gate
// failure carries its retry semantics: precondition and formality
// failures must not be retried, authenticity failures should be.
type CallbackValidator struct {
	cfg    ValidatorConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewCallbackValidator(cfg ValidatorConfig, logger *slog.Logger) *CallbackValidator {
	if cfg.MaxMessageAge <= 0 {
		cfg.MaxMessageAge = defaultMaxMessageAge
	}
	return &CallbackValidator{
		cfg:    cfg,
		logger: logger.With("component", "callback_validator"),
		now:    time.Now,
	}
}

// Validate runs the gates in order and stops at the first failure.
// On success it returns the parsed, immutable request.
func (v *CallbackValidator) Validate(raw *domain.RawCallback) (*domain.CallbackRequest, *core_domain.GatewayError) {
	req, gerr := v.validatePreconditions(raw)
	if gerr != nil {
		return nil, gerr
	}
	if gerr := v.validateAuthenticity(req); gerr != nil {
		return nil, gerr
	}
	if gerr := v.validateFormalities(req); gerr != nil {
		return nil, gerr
	}
	return req, nil
}

// validatePreconditions is the fast, secret-free gate: transport
// method, field presence and well-typedness, receiving mode. Failures
// are never retried; a malformed delivery stays malformed.
func (v *CallbackValidator) validatePreconditions(raw *domain.RawCallback) (*domain.CallbackRequest, *core_domain.GatewayError) {
	if raw.Method != http.MethodPost && !v.cfg.AllowGET {
		return nil, core_domain.NewMalformedRequest(
			fmt.Sprintf("callback delivered via %s", raw.Method), "No POST request")
	}

	// Distinct message for a missing access token so operators notice
	// a misconfigured callback URL quickly.
	if !raw.HasField("accesstoken") {
		return nil, core_domain.NewMalformedRequest("access token parameter missing", "Access token missing")
	}

	for _, field := range []string{"from", "to", "messageId", "date", "nonce", "box", "mac"} {
		if !raw.HasField(field) {
			return nil, core_domain.NewMalformedRequest(
				fmt.Sprintf("required parameter %q missing", field), "Invalid request")
		}
	}

	if !v.cfg.ReceiveEnabled {
		return nil, core_domain.NewMalformedRequest(
			"receiving is not enabled, end-to-end keys are not configured", "Receiving messages is not supported")
	}

	messageID := core_domain.CanonicalMessageID(raw.MessageID)
	if messageID == "" {
		return nil, core_domain.NewMalformedRequest(
			"messageId is not 16 hex chars", "Invalid request")
	}

	unix, err := strconv.ParseInt(raw.Date, 10, 64)
	if err != nil {
		return nil, core_domain.NewMalformedRequest("date is not a unix timestamp", "Invalid request")
	}

	nonce, err := hex.DecodeString(strings.ToLower(raw.NonceHex))
	if err != nil {
		return nil, core_domain.NewMalformedRequest("nonce is not valid hex", "Invalid request")
	}
	ciphertext, err := hex.DecodeString(strings.ToLower(raw.BoxHex))
	if err != nil {
		return nil, core_domain.NewMalformedRequest("box is not valid hex", "Invalid request")
	}
	mac, err := hex.DecodeString(strings.ToLower(raw.MACHex))
	if err != nil {
		return nil, core_domain.NewMalformedRequest("mac is not valid hex", "Invalid request")
	}

	if len(raw.From) != 8 || len(raw.To) != 8 {
		return nil, core_domain.NewMalformedRequest(
			"sender or recipient id is not 8 chars", "Invalid request")
	}

	return &domain.CallbackRequest{
		AccessToken:  raw.AccessToken,
		FromID:       raw.From,
		ToID:         raw.To,
		MessageID:    messageID,
		SentAt:       time.Unix(unix, 0).UTC(),
		MessageIDRaw: raw.MessageID,
		DateRaw:      raw.Date,
		NonceHex:     raw.NonceHex,
		BoxHex:       raw.BoxHex,
		Nonce:        nonce,
		Ciphertext:   ciphertext,
		MAC:          mac,
	}, nil
}

// validateAuthenticity checks that the caller is the gateway server
// and that the fields were not tampered with. Failures are retryable:
// secrets rotate, and delivery should not be permanently lost over a
// transient credential mismatch.
func (v *CallbackValidator) validateAuthenticity(req *domain.CallbackRequest) *core_domain.GatewayError {
	if v.cfg.AccessToken == "" {
		return core_domain.NewUnauthenticated("callback access token is not configured", "Unverified request")
	}

	if !cryptotool.ConstantTimeEqual(v.cfg.AccessToken, req.AccessToken) {
		return core_domain.NewUnauthenticated("access token invalid", "Unverified request")
	}

	// The MAC covers the fields exactly as they arrived on the wire,
	// including the message id before canonicalization.
	if !cryptotool.VerifyCallbackMAC(
		req.FromID, req.ToID, req.MessageIDRaw, req.DateRaw,
		req.NonceHex, req.BoxHex, req.MAC, v.cfg.APISecret,
	) {
		return core_domain.NewUnauthenticated("HMAC verification failed", "Unverified request")
	}

	return nil
}

// validateFormalities checks addressing and freshness of an already
// authenticated request. Failures are final: retrying does not change
// a message's recipient or its age classification.
func (v *CallbackValidator) validateFormalities(req *domain.CallbackRequest) *core_domain.GatewayError {
	if !cryptotool.ConstantTimeEqual(req.ToID, v.cfg.GatewayID) {
		return core_domain.NewFormallyInvalid("recipient id does not match own gateway identity", "Invalid request")
	}

	cutoff := v.now().Add(-v.cfg.MaxMessageAge)
	if req.SentAt.Before(cutoff) {
		return core_domain.NewFormallyInvalid(
			fmt.Sprintf("message sent at %s is older than %s", req.SentAt.Format(time.RFC3339), v.cfg.MaxMessageAge),
			"Message cannot be processed")
	}

	return nil
}
