package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/threemagw/golang_services/internal/callback_service/domain"
	"github.com/threemagw/golang_services/internal/core_domain"
	"github.com/threemagw/golang_services/internal/platform/cryptotool"
	"github.com/threemagw/golang_services/internal/platform/messagebroker"
)

// Result is what the HTTP layer turns into a response. Retryable is
// only meaningful when OK is false.
type Result struct {
	OK         bool
	Retryable  bool
	UserFacing string
	// DebugLog is only populated in debug mode. It never contains the
	// shared secret, private key material or raw MAC bytes.
	DebugLog string
}

// DispatcherConfig carries the dispatcher's own knobs; validation
// configuration lives in ValidatorConfig.
type DispatcherConfig struct {
	DebugMode bool
	// RecipientPrivateKey is the gateway identity's NaCl private key.
	RecipientPrivateKey *[32]byte
	// EventSubjectPrefix, when a publisher is configured, prefixes the
	// per-kind subjects for processed-message events.
	EventSubjectPrefix string
}

// receivedEvent is the payload published after a message is persisted.
type receivedEvent struct {
	MessageID  string                  `json:"message_id"`
	FromID     string                  `json:"from_id"`
	Kind       core_domain.MessageKind `json:"kind"`
	SentAt     time.Time               `json:"sent_at"`
	ReceivedAt time.Time               `json:"received_at"`
}

// CallbackDispatcher orchestrates validation, decryption, decoding,
// receipt routing, the replay guard and persistence for one inbound
// callback delivery.
type CallbackDispatcher struct {
	cfg       DispatcherConfig
	validator *CallbackValidator
	decoder   *MessageDecoder
	keys      domain.KeyDirectory
	messages  domain.MessageRepository
	receipts  domain.DeliveryReceiptHandler
	publisher messagebroker.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewCallbackDispatcher(
	cfg DispatcherConfig,
	validator *CallbackValidator,
	decoder *MessageDecoder,
	keys domain.KeyDirectory,
	messages domain.MessageRepository,
	receipts domain.DeliveryReceiptHandler,
	publisher messagebroker.Publisher,
	logger *slog.Logger,
) *CallbackDispatcher {
	return &CallbackDispatcher{
		cfg:       cfg,
		validator: validator,
		decoder:   decoder,
		keys:      keys,
		messages:  messages,
		receipts:  receipts,
		publisher: publisher,
		logger:    logger.With("component", "callback_dispatcher"),
		now:       time.Now,
	}
}

// Handle processes one raw callback delivery end to end.
func (d *CallbackDispatcher) Handle(ctx context.Context, raw *domain.RawCallback) Result {
	timer := prometheus.NewTimer(callbackProcessingDurationHist)
	defer timer.ObserveDuration()

	req, gerr := d.validator.Validate(raw)
	if gerr != nil {
		return d.fail(ctx, gerr)
	}

	if d.cfg.RecipientPrivateKey == nil {
		return d.fail(ctx, core_domain.NewMalformedRequest(
			"recipient private key is not configured", "Receiving messages is not supported"))
	}

	senderKey, err := d.keys.PublicKeyFor(ctx, req.FromID)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return d.fail(ctx, core_domain.NewDecryptionFailed("sender identity has no public key", err))
		}
		return d.fail(ctx, core_domain.NewStorageUnavailable("key directory lookup failed", err))
	}

	plaintext, err := cryptotool.DecryptMessage(req.Ciphertext, req.Nonce, senderKey, d.cfg.RecipientPrivateKey)
	if err != nil {
		// Ciphertext is immutable once received; retrying decryption
		// with the same keys cannot succeed.
		return d.fail(ctx, core_domain.NewDecryptionFailed("cannot open message box", err))
	}

	env := core_domain.Envelope{
		MessageID: req.MessageID,
		FromID:    req.FromID,
		SentAt:    req.SentAt,
	}
	msg, gerr := d.decoder.Decode(plaintext, env)
	if gerr != nil {
		return d.fail(ctx, gerr)
	}
	messagesDecodedCounter.WithLabelValues(string(msg.Kind())).Inc()

	already, err := d.messages.WasProcessed(ctx, msg.Envelope.MessageID)
	if err != nil {
		return d.fail(ctx, core_domain.NewStorageUnavailable("replay guard check failed", err))
	}
	if already {
		// Idempotent delivery: the gateway server retried a message we
		// already handled.
		d.logger.InfoContext(ctx, "Duplicate delivery ignored", "message_id", msg.Envelope.MessageID)
		callbacksProcessedCounter.WithLabelValues("duplicate", "").Inc()
		return Result{OK: true, UserFacing: "OK", DebugLog: d.buildDebugLog(msg, true)}
	}

	// Route delivery receipts to the confirmation engine before
	// persistence so the engine sees the receipt even if persistence
	// later fails. Best-effort: the engine cannot veto receipt of the
	// message.
	if msg.Kind() == core_domain.KindDeliveryReceipt && d.receipts != nil {
		if err := d.receipts.OnDeliveryReceipt(ctx, msg.DeliveryReceipt, msg.Envelope.FromID); err != nil {
			d.logger.ErrorContext(ctx, "Delivery receipt handler failed",
				"error", err, "message_id", msg.Envelope.MessageID)
		}
	}

	// Save before the replay marker commits: a transient save failure
	// returns retryable with no marker set, so the redelivery is
	// processed again instead of being swallowed as a duplicate. Save
	// is idempotent on the message id, so the retry cannot double the
	// stored row either.
	if err := d.messages.Save(ctx, msg); err != nil {
		return d.fail(ctx, core_domain.NewStorageUnavailable("saving decoded message failed", err))
	}

	first, err := d.messages.MarkProcessed(ctx, msg.Envelope.MessageID)
	if err != nil {
		return d.fail(ctx, core_domain.NewStorageUnavailable("replay guard check failed", err))
	}
	if !first {
		// A concurrent delivery of the same id won the marker race;
		// its save and ours collapsed into one row.
		d.logger.InfoContext(ctx, "Duplicate delivery ignored", "message_id", msg.Envelope.MessageID)
		callbacksProcessedCounter.WithLabelValues("duplicate", "").Inc()
		return Result{OK: true, UserFacing: "OK", DebugLog: d.buildDebugLog(msg, true)}
	}

	d.publishReceived(ctx, msg)

	d.logger.InfoContext(ctx, "Callback processed",
		"message_id", msg.Envelope.MessageID,
		"from", core_domain.CensorString(msg.Envelope.FromID, 3),
		"kind", msg.Kind(),
	)
	callbacksProcessedCounter.WithLabelValues("success", "").Inc()
	return Result{OK: true, UserFacing: "OK", DebugLog: d.buildDebugLog(msg, false)}
}

func (d *CallbackDispatcher) fail(ctx context.Context, gerr *core_domain.GatewayError) Result {
	d.logger.WarnContext(ctx, "Callback rejected",
		"kind", string(gerr.Kind),
		"retryable", gerr.Retryable,
		"detail", gerr.InternalDetail,
	)
	callbacksProcessedCounter.WithLabelValues("rejected", string(gerr.Kind)).Inc()
	return Result{OK: false, Retryable: gerr.Retryable, UserFacing: gerr.UserFacing}
}

func (d *CallbackDispatcher) publishReceived(ctx context.Context, msg *core_domain.DecodedMessage) {
	if d.publisher == nil {
		return
	}
	event := receivedEvent{
		MessageID:  msg.Envelope.MessageID,
		FromID:     msg.Envelope.FromID,
		Kind:       msg.Kind(),
		SentAt:     msg.Envelope.SentAt,
		ReceivedAt: d.now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to marshal received event", "error", err)
		return
	}
	subject := fmt.Sprintf("%s.%s", d.cfg.EventSubjectPrefix, msg.Kind())
	if err := d.publisher.Publish(ctx, subject, data); err != nil {
		// Event fan-out is best-effort; the message is already stored.
		d.logger.WarnContext(ctx, "Failed to publish received event", "error", err, "subject", subject)
	}
}

// buildDebugLog renders the diagnostic log for debug mode. Payload
// details are included per variant; secrets, keys and MACs never are.
func (d *CallbackDispatcher) buildDebugLog(msg *core_domain.DecodedMessage, duplicate bool) string {
	if !d.cfg.DebugMode {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "New message from %s\n\n", msg.Envelope.FromID)
	fmt.Fprintf(&b, "ID: %s\n", msg.Envelope.MessageID)
	fmt.Fprintf(&b, "message.kind: %s\n", msg.Kind())
	fmt.Fprintf(&b, "message.date: %s\n", msg.Envelope.SentAt.Format("2006-01-02 15:04:05"))
	if duplicate {
		b.WriteString("message already processed, no state was changed\n")
	}

	switch msg.Kind() {
	case core_domain.KindText:
		fmt.Fprintf(&b, "message.text: %s\n", msg.Text.Text)
	case core_domain.KindDeliveryReceipt:
		fmt.Fprintf(&b, "message.receiptType: %d (%s)\n", msg.DeliveryReceipt.ReceiptType, msg.DeliveryReceipt.ReceiptType)
		fmt.Fprintf(&b, "message.ackedMessageIds: %s\n", strings.Join(msg.DeliveryReceipt.AckedMessageIDs, "|"))
	case core_domain.KindFile:
		fmt.Fprintf(&b, "message.blobId: %s\n", msg.File.BlobID)
		fmt.Fprintf(&b, "message.filename: %s\n", msg.File.Filename)
		fmt.Fprintf(&b, "message.mimeType: %s\n", msg.File.MimeType)
		fmt.Fprintf(&b, "message.size: %d\n", msg.File.SizeBytes)
		if msg.File.ThumbnailBlobID != "" {
			fmt.Fprintf(&b, "message.thumbnailBlobId: %s\n", msg.File.ThumbnailBlobID)
		}
	case core_domain.KindImage:
		fmt.Fprintf(&b, "message.blobId: %s\n", msg.Image.BlobID)
		fmt.Fprintf(&b, "message.length: %d\n", msg.Image.LengthBytes)
		fmt.Fprintf(&b, "message.nonce: %s\n", msg.Image.Nonce)
	}

	return b.String()
}
