package resilience_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/balkolux/storefront-api/internal/resilience"
)

func flakyServer(t *testing.T, failures int32) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		if n <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func post(t *testing.T, url, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	return req
}

func TestHTTPClientRetriesAndReplaysBody(t *testing.T) {
	srv, calls := flakyServer(t, 2)
	client := resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 3, BaseBackoff: time.Millisecond}

	resp, err := client.Do(context.Background(), post(t, srv.URL, `{"paymentId":"1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `{"paymentId":"1"}`, string(body))
	require.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestHTTPClientSingleAttemptReturnsServerError(t *testing.T) {
	srv, calls := flakyServer(t, 5)
	client := resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1}

	resp, err := client.Do(context.Background(), post(t, srv.URL, `{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestHTTPClientOpenBreaker(t *testing.T) {
	srv, calls := flakyServer(t, 0)
	breaker := resilience.NewBreaker(1, 0.5, time.Minute)
	breaker.Report(context.Background(), false)

	client := resilience.HTTPClient{Client: srv.Client(), Breaker: breaker, MaxAttempts: 2}
	_, err := client.Do(context.Background(), post(t, srv.URL, `{}`))
	require.True(t, errors.Is(err, resilience.ErrOpenCircuit))
	require.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestHTTPClientFallbackOnOpenBreaker(t *testing.T) {
	srv, calls := flakyServer(t, 0)
	breaker := resilience.NewBreaker(1, 0.5, time.Minute)
	breaker.Report(context.Background(), false)

	client := resilience.HTTPClient{
		Client:  srv.Client(),
		Breaker: breaker,
		Fallback: func(_ context.Context, _ *http.Request, err error) (*http.Response, error) {
			return nil, errors.Join(errors.New("fallback"), err)
		},
	}
	_, err := client.Do(context.Background(), post(t, srv.URL, `{}`))
	require.ErrorContains(t, err, "fallback")
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestHTTPClientRetriesTooManyRequestsWithoutTrippingBreaker(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	breaker := resilience.NewBreaker(1, 0.5, time.Minute).WithTarget("orders")
	client := resilience.HTTPClient{Client: srv.Client(), Breaker: breaker, MaxAttempts: 2, BaseBackoff: time.Millisecond}
	resp, err := client.Do(context.Background(), post(t, srv.URL, `{"paymentId":"1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Equal(t, resilience.Closed, breaker.State())
}

func TestHTTPClientRequiresClient(t *testing.T) {
	_, err := resilience.HTTPClient{}.Do(context.Background(), post(t, "http://127.0.0.1", `{}`))
	require.Error(t, err)
}

func TestNewTracedClient(t *testing.T) {
	client := resilience.NewTracedClient(0)
	require.Equal(t, 30*time.Second, client.Timeout)
	require.NotNil(t, client.Transport)
}
