package orders

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/balkolux/storefront-api/internal/pricing"
	"github.com/balkolux/storefront-api/internal/resilience"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "task"}, nil
}

func sampleRecord() Record {
	breakdown := pricing.Compute([]pricing.Item{
		{ID: "sofa", Price: decimal.RequireFromString("1000")},
		{ID: "lamp", Price: decimal.RequireFromString("500")},
	}, 6)
	return Record{
		PaymentID:      "11781227",
		ConversationID: "conv-1",
		BasketID:       "basket-1",
		BuyerID:        "buyer-1",
		Currency:       "TRY",
		Installment:    6,
		Pricing:        NewPricingRecord(breakdown),
		Items:          []ItemRecord{{ID: "sofa", Name: "Sofa", Price: "1000.00"}, {ID: "lamp", Name: "Lamp", Price: "500.00"}},
		AuthorizedAt:   time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewPricingRecordFormatsMoney(t *testing.T) {
	rec := sampleRecord().Pricing
	require.Equal(t, "1500.00", rec.Subtotal)
	require.Equal(t, "150.00", rec.ServiceFee)
	require.Equal(t, "1650.00", rec.BaseTotal)
	require.Equal(t, "9.8", rec.InstallmentRate)
	require.Equal(t, "161.70", rec.InstallmentFee)
	require.Equal(t, "1811.70", rec.Total)
}

func TestPublisherEnqueuesRecord(t *testing.T) {
	client := &fakeEnqueuer{}
	pub := Publisher{Client: client, Queue: "orders-test", MaxRetry: 3}

	require.NoError(t, pub.RecordAuthorization(context.Background(), sampleRecord()))
	require.Len(t, client.tasks, 1)
	require.Equal(t, TaskAuthorized, client.tasks[0].Type())
	require.Len(t, client.opts[0], 3)

	var decoded Record
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &decoded))
	require.Equal(t, "11781227", decoded.PaymentID)
	require.Equal(t, "1811.70", decoded.Pricing.Total)
	require.NotContains(t, string(client.tasks[0].Payload()), "card")
}

func TestPublisherIgnoresDuplicateTask(t *testing.T) {
	pub := Publisher{Client: &fakeEnqueuer{err: asynq.ErrTaskIDConflict}}
	require.NoError(t, pub.RecordAuthorization(context.Background(), sampleRecord()))
}

func TestPublisherErrors(t *testing.T) {
	require.Error(t, Publisher{}.RecordAuthorization(context.Background(), sampleRecord()))

	rec := sampleRecord()
	rec.PaymentID = " "
	require.Error(t, Publisher{Client: &fakeEnqueuer{}}.RecordAuthorization(context.Background(), rec))

	failing := Publisher{Client: &fakeEnqueuer{err: errors.New("redis down")}}
	require.ErrorContains(t, failing.RecordAuthorization(context.Background(), sampleRecord()), "redis down")
}

func TestNopRecorder(t *testing.T) {
	require.NoError(t, NopRecorder{}.RecordAuthorization(context.Background(), sampleRecord()))
}

func newForwarder(t *testing.T, status int) (Forwarder, *int32, *http.Header) {
	t.Helper()
	var calls int32
	headers := &http.Header{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		*headers = r.Header.Clone()
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return Forwarder{
		HTTP: &resilience.HTTPClient{
			Client:      srv.Client(),
			MaxAttempts: 2,
			BaseBackoff: time.Millisecond,
			Timeout:     time.Second,
		},
		Endpoint: srv.URL + "/orders",
	}, &calls, headers
}

func taskFor(t *testing.T, rec Record) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	return asynq.NewTask(TaskAuthorized, payload)
}

func TestForwarderDelivers(t *testing.T) {
	fwd, calls, headers := newForwarder(t, http.StatusCreated)
	require.NoError(t, fwd.ProcessTask(context.Background(), taskFor(t, sampleRecord())))
	require.Equal(t, int32(1), atomic.LoadInt32(calls))
	require.Equal(t, "11781227", headers.Get("Idempotency-Key"))
	require.Equal(t, "application/json", headers.Get("Content-Type"))
}

func TestForwarderTreatsConflictAsDelivered(t *testing.T) {
	fwd, _, _ := newForwarder(t, http.StatusConflict)
	require.NoError(t, fwd.ProcessTask(context.Background(), taskFor(t, sampleRecord())))
}

func TestForwarderSkipsRetryOnClientError(t *testing.T) {
	fwd, calls, _ := newForwarder(t, http.StatusUnprocessableEntity)
	err := fwd.ProcessTask(context.Background(), taskFor(t, sampleRecord()))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestForwarderRetriesServerError(t *testing.T) {
	fwd, calls, _ := newForwarder(t, http.StatusBadGateway)
	err := fwd.ProcessTask(context.Background(), taskFor(t, sampleRecord()))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
	require.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestForwarderMalformedPayload(t *testing.T) {
	fwd, calls, _ := newForwarder(t, http.StatusOK)
	err := fwd.ProcessTask(context.Background(), asynq.NewTask(TaskAuthorized, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestForwarderWithoutEndpoint(t *testing.T) {
	err := Forwarder{}.Forward(context.Background(), sampleRecord())
	require.ErrorIs(t, err, asynq.SkipRetry)
}
