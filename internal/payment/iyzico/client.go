package iyzico

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/balkolux/storefront-api/internal/pricing"
	"github.com/balkolux/storefront-api/internal/resilience"
)

// DefaultBaseURL points at the processor sandbox.
const DefaultBaseURL = "https://sandbox-api.iyzipay.com"

const maxResponseBytes = 1 << 20

// Authorization is the successful outcome of a payment authorization.
type Authorization struct {
	PaymentID      string
	ConversationID string
	FraudStatus    int
	Pricing        pricing.Breakdown
}

// Client sends signed authorization requests to the processor. Each call
// performs exactly one outbound request.
type Client struct {
	HTTP      *resilience.HTTPClient
	BaseURL   string
	APIKey    string
	SecretKey string
	// RandomKey overrides nonce generation, mostly for tests.
	RandomKey func() (string, error)
}

// Configured reports whether both credentials are present.
func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.SecretKey) != ""
}

// Authorize signs and sends the request. A vendor refusal is reported as a
// *Rejection; transport problems wrap ErrTransport.
func (c *Client) Authorize(ctx context.Context, req AuthRequest, breakdown pricing.Breakdown) (Authorization, error) {
	if !c.Configured() {
		return Authorization{}, ErrMissingCredentials
	}
	if c.HTTP == nil {
		return Authorization{}, errors.New("iyzico: http client not configured")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Authorization{}, err
	}
	randomKey, err := c.randomKey()
	if err != nil {
		return Authorization{}, err
	}
	signature := Signature(randomKey, AuthPath, body, c.SecretKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+AuthPath, bytes.NewReader(body))
	if err != nil {
		return Authorization{}, err
	}
	httpReq.Header.Set(headerType, contentJSON)
	httpReq.Header.Set(headerAuth, AuthorizationHeader(c.APIKey, randomKey, signature))
	httpReq.Header.Set(headerRandom, randomKey)
	httpReq.Header.Set(headerAccept, contentJSON)

	resp, err := c.HTTP.Do(ctx, httpReq)
	if err != nil {
		return Authorization{}, transportError("%v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return Authorization{}, transportError("unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Authorization{}, transportError("read response: %v", err)
	}
	var decoded authResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Authorization{}, transportError("decode response: %v", err)
	}
	if !strings.EqualFold(strings.TrimSpace(decoded.Status), "success") {
		return Authorization{}, &Rejection{
			ErrorCode:    decoded.ErrorCode,
			ErrorMessage: decoded.ErrorMessage,
			ErrorGroup:   decoded.ErrorGroup,
		}
	}
	conversationID := decoded.ConversationID
	if conversationID == "" {
		conversationID = req.ConversationID
	}
	return Authorization{
		PaymentID:      decoded.PaymentID,
		ConversationID: conversationID,
		FraudStatus:    decoded.FraudStatus,
		Pricing:        breakdown,
	}, nil
}

func (c *Client) randomKey() (string, error) {
	if c.RandomKey != nil {
		return c.RandomKey()
	}
	return NewRandomKey()
}

func (c *Client) baseURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return DefaultBaseURL
	}
	return base
}
