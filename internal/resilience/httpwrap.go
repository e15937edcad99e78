package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPClient sends requests through a circuit breaker with bounded retries.
// Network errors, 5xx and 429 responses are retried; 429 does not count as a
// breaker failure. MaxAttempts of one disables retries entirely, which is how
// the payment processor is called.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	Fallback    func(context.Context, *http.Request, error) (*http.Response, error)
}

// Do sends req, replaying its body on every attempt. An open breaker yields
// ErrOpenCircuit unless Fallback is set. When attempts run out on a retryable
// status the last response is returned with a nil error so the caller can
// read it. A Retry-After header stretches the wait before the next attempt.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	if breaker == nil {
		breaker = NewBreaker(1, 1, time.Second)
	}
	maxAttempts := max(cl.MaxAttempts, 1)
	baseBackoff := cl.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !breaker.Allow(ctx) {
			lastErr = ErrOpenCircuit
			break
		}
		resp, err := cl.client().Do(withBody(req.Clone(ctx), body))
		if err == nil && !retryableStatus(resp.StatusCode) {
			breaker.Report(ctx, true)
			return resp, nil
		}
		breaker.Report(ctx, err == nil && resp.StatusCode == http.StatusTooManyRequests)

		wait := Backoff(baseBackoff, attempt, cl.Jitter)
		if err != nil {
			lastErr = err
		} else {
			if attempt == maxAttempts {
				return resp, nil
			}
			lastErr = fmt.Errorf("resilience: %s", resp.Status)
			if hinted, ok := retryAfter(resp.Header.Get("Retry-After")); ok && hinted > wait {
				wait = hinted
			}
			drainAndClose(resp)
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if cl.Fallback != nil {
		return cl.Fallback(ctx, req, lastErr)
	}
	return nil, lastErr
}

func (cl HTTPClient) client() *http.Client {
	if cl.Timeout <= 0 || cl.Client.Timeout == cl.Timeout {
		return cl.Client
	}
	copied := *cl.Client
	copied.Timeout = cl.Timeout
	return &copied
}

func retryableStatus(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

// retryAfter parses the delay-seconds form of Retry-After, capped like Backoff.
func retryAfter(value string) (time.Duration, bool) {
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs < 0 {
		return 0, false
	}
	return min(time.Duration(secs)*time.Second, maxBackoff), true
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// bufferBody reads the request body once so each attempt can replay it.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	src := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		src = fresh
	}
	defer func() { _ = src.Close() }()
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	withBody(req, data)
	return data, nil
}

func withBody(req *http.Request, body []byte) *http.Request {
	if body == nil {
		return req
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return req
}
