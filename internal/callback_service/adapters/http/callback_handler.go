package http

import (
	"context"
	"log/slog"
	"net/http"

	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/threemagw/golang_services/internal/callback_service/app"
	"github.com/threemagw/golang_services/internal/callback_service/domain"
)

const maxCallbackBodySize = 1 << 20 // 1 MB

// CallbackProcessor is the interface the handler needs from the
// dispatcher; it keeps the handler testable with a mock.
type CallbackProcessor interface {
	Handle(ctx context.Context, raw *domain.RawCallback) app.Result
}

// CallbackHandler terminates the gateway server's webhook. Status
// codes encode the retry semantics: 2xx means delivered, 5xx asks the
// gateway server to retry, 4xx tells it to drop the message.
type CallbackHandler struct {
	dispatcher CallbackProcessor
	logger     *slog.Logger
}

func NewCallbackHandler(dispatcher CallbackProcessor, logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{
		dispatcher: dispatcher,
		logger:     logger.With("component", "callback_handler"),
	}
}

// HandleCallback receives one message delivery from the gateway
// server.
func (h *CallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBodySize)
	if err := r.ParseForm(); err != nil {
		logger.WarnContext(ctx, "Failed to parse callback form", "error", err)
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	// Form covers both POST bodies and, for debug setups, GET query
	// parameters; method enforcement is the validator's first gate.
	raw := &domain.RawCallback{
		Method:      r.Method,
		AccessToken: r.Form.Get("accesstoken"),
		From:        r.Form.Get("from"),
		To:          r.Form.Get("to"),
		MessageID:   r.Form.Get("messageId"),
		Date:        r.Form.Get("date"),
		NonceHex:    r.Form.Get("nonce"),
		BoxHex:      r.Form.Get("box"),
		MACHex:      r.Form.Get("mac"),
	}

	result := h.dispatcher.Handle(ctx, raw)
	if !result.OK {
		status := http.StatusBadRequest
		if result.Retryable {
			status = http.StatusInternalServerError
		}
		http.Error(w, result.UserFacing, status)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	body := result.UserFacing
	if result.DebugLog != "" {
		body = result.DebugLog
	}
	if _, err := w.Write([]byte(body)); err != nil {
		logger.WarnContext(ctx, "Failed to write callback response", "error", err)
	}
}
