package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/balkolux/storefront-api/internal/obs"
	"github.com/balkolux/storefront-api/internal/resilience"
)

// Forwarder delivers queued records to the order service.
type Forwarder struct {
	HTTP     *resilience.HTTPClient
	Endpoint string
}

// ProcessTask implements asynq.Handler. Client errors from the order service
// are permanent and skip the queue retry; everything else is retried.
func (f Forwarder) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var rec Record
	if err := json.Unmarshal(task.Payload(), &rec); err != nil {
		observeHandoff("malformed")
		return fmt.Errorf("decode record: %v: %w", err, asynq.SkipRetry)
	}
	err := f.Forward(ctx, rec)
	switch {
	case err == nil:
		observeHandoff("delivered")
	case errors.Is(err, asynq.SkipRetry):
		observeHandoff("rejected")
	default:
		observeHandoff("failed")
	}
	return err
}

// Forward posts a single record. The payment id is sent as the idempotency key
// so repeated deliveries collapse on the receiving side.
func (f Forwarder) Forward(ctx context.Context, rec Record) error {
	endpoint := strings.TrimSpace(f.Endpoint)
	if endpoint == "" {
		return fmt.Errorf("orders endpoint not configured: %w", asynq.SkipRetry)
	}
	if f.HTTP == nil {
		return errors.New("orders: http client not configured")
	}
	ctx, span := otel.Tracer("orders.Forwarder").Start(ctx, "Forwarder.Forward")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.id", rec.PaymentID),
		attribute.String("payment.conversation_id", rec.ConversationID),
	)

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %v: %w", err, asynq.SkipRetry)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %v: %w", err, asynq.SkipRetry)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", rec.PaymentID)

	start := time.Now()
	resp, err := f.HTTP.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("forward record: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int64("orders.duration_ms", time.Since(start).Milliseconds()),
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// already recorded
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("order service status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(snippet)), asynq.SkipRetry)
	default:
		return fmt.Errorf("order service status %d", resp.StatusCode)
	}
}

func observeHandoff(result string) {
	if obs.OrderHandoffTotal != nil {
		obs.OrderHandoffTotal.WithLabelValues(result).Inc()
	}
}
