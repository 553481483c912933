// Package gatewayclient talks to the message gateway's HTTP API. It
// implements the outbound send capability and the public-key
// directory capability consumed by the callback and TFA services.
package gatewayclient

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/threemagw/golang_services/internal/callback_service/domain"
	"github.com/threemagw/golang_services/internal/core_domain"
)

// Client is a thin HTTP client for the gateway API. Calls are fallible
// and bounded; retrying is the caller's business.
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	gatewayID  string
	apiSecret  string
}

func NewClient(logger *slog.Logger, baseURL, gatewayID, apiSecret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		logger:     logger.With("component", "gateway_client"),
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		gatewayID:  gatewayID,
		apiSecret:  apiSecret,
	}
}

// SendText sends a text message to the given identity and returns the
// gateway-assigned outbound message id.
func (c *Client) SendText(ctx context.Context, identity, text string) (string, error) {
	form := url.Values{}
	form.Set("from", c.gatewayID)
	form.Set("to", identity)
	form.Set("text", text)
	form.Set("secret", c.apiSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send_simple", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending message to gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("reading send response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway send failed with status %d", resp.StatusCode)
	}

	messageID := core_domain.CanonicalMessageID(strings.TrimSpace(string(body)))
	if messageID == "" {
		return "", fmt.Errorf("gateway send returned malformed message id")
	}

	c.logger.InfoContext(ctx, "Message sent via gateway",
		"to", core_domain.CensorString(identity, 3), "outbound_message_id", messageID)
	return messageID, nil
}

// PublicKeyFor looks up an identity's NaCl public key in the gateway
// key directory.
func (c *Client) PublicKeyFor(ctx context.Context, identity string) (*[32]byte, error) {
	u := fmt.Sprintf("%s/pubkeys/%s?from=%s&secret=%s",
		c.baseURL, url.PathEscape(identity), url.QueryEscape(c.gatewayID), url.QueryEscape(c.apiSecret))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building key lookup request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("looking up public key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrIdentityNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key lookup failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("reading key lookup response: %w", err)
	}

	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil || len(keyBytes) != 32 {
		return nil, fmt.Errorf("key directory returned malformed key for %s", core_domain.CensorString(identity, 3))
	}

	var key [32]byte
	copy(key[:], keyBytes)
	return &key, nil
}
