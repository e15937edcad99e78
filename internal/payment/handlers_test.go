package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/balkolux/storefront-api/internal/obs"
	"github.com/balkolux/storefront-api/internal/orders"
	"github.com/balkolux/storefront-api/internal/payment/iyzico"
	"github.com/balkolux/storefront-api/internal/resilience"
)

const checkoutBody = `{
	"paymentCard": {"cardHolderName": "Ayse Yilmaz", "cardNumber": "5528 7900 0000 0008", "expireMonth": "12", "expireYear": "2030", "cvc": "123"},
	"buyer": {"id": "U1", "name": "Ayşe", "surname": "Yılmaz", "email": "ayse@example.com", "identityNumber": "74300864791",
		"registrationAddress": "Nidakule Göztepe", "city": "Istanbul", "country": "Turkey", "registrationDate": "2024-01-15T10:30:00Z"},
	"shippingAddress": {"contactName": "Ayşe Yılmaz", "city": "Istanbul", "country": "Turkey", "address": "Nidakule Göztepe"},
	"billingAddress": {"contactName": "Ayşe Yılmaz", "city": "Istanbul", "country": "Turkey", "address": "Nidakule Göztepe"},
	"basketItems": [
		{"id": "P1", "name": "Köşe Koltuk", "category1": "Salon", "price": 1000},
		{"id": "P2", "name": "Sehpa", "category1": "Salon", "price": "500"}
	],
	"installment": 6
}`

type vendorStub struct {
	calls int32
	mu    sync.Mutex
	body  []byte
	srv   *httptest.Server
}

func newVendorStub(t *testing.T, status int, response string) *vendorStub {
	t.Helper()
	stub := &vendorStub{}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&stub.calls, 1)
		body, _ := io.ReadAll(r.Body)
		stub.mu.Lock()
		stub.body = body
		stub.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(stub.srv.Close)
	return stub
}

func (v *vendorStub) Calls() int32 { return atomic.LoadInt32(&v.calls) }

type recorderStub struct {
	mu      sync.Mutex
	records []orders.Record
	err     error
}

func (r *recorderStub) RecordAuthorization(_ context.Context, rec orders.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

func newHandler(t *testing.T, vendor *vendorStub, apiKey string, recorder OrderRecorder) *Handler {
	t.Helper()
	client := &iyzico.Client{
		HTTP: &resilience.HTTPClient{
			Client:      vendor.srv.Client(),
			Breaker:     resilience.NewBreaker(100, 1, time.Second),
			MaxAttempts: 1,
			Timeout:     2 * time.Second,
		},
		BaseURL:   vendor.srv.URL,
		APIKey:    apiKey,
		SecretKey: "sandbox-secret",
	}
	n := 0
	svc, err := NewService(ServiceConfig{
		Gateway: client,
		Builder: iyzico.Builder{
			Location: time.FixedZone("TRT", 3*60*60),
			NewID: func() string {
				n++
				return "generated-" + string(rune('0'+n))
			},
		},
		Orders: recorder,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return &Handler{Svc: svc}
}

func postCheckout(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/payment", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "85.34.78.112:443"
	rr := httptest.NewRecorder()
	h.Create(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestCreateSuccess(t *testing.T) {
	vendor := newVendorStub(t, http.StatusOK, `{"status":"success","paymentId":"11781227","conversationId":"generated-1","fraudStatus":1}`)
	recorder := &recorderStub{}
	h := newHandler(t, vendor, "sandbox-key", recorder)

	rr := postCheckout(h, checkoutBody)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"total":1811.70`)
	require.Contains(t, rr.Body.String(), `"installmentRate":9.8`)

	body := decode(t, rr)
	require.Equal(t, "success", body["status"])
	require.Equal(t, "11781227", body["paymentId"])
	require.Equal(t, "generated-1", body["conversationId"])
	require.Equal(t, float64(1), body["fraudStatus"])
	require.Equal(t, float64(6), body["installment"])
	pricingBody := body["pricing"].(map[string]any)
	require.Equal(t, 1500.0, pricingBody["subtotal"])
	require.Equal(t, 150.0, pricingBody["serviceFee"])
	require.Equal(t, 1650.0, pricingBody["baseTotal"])
	require.Equal(t, 161.7, pricingBody["installmentFee"])

	require.Equal(t, int32(1), vendor.Calls())
	var sent iyzico.AuthRequest
	require.NoError(t, json.Unmarshal(vendor.body, &sent))
	require.Equal(t, "1811.70", sent.PaidPrice)
	require.Equal(t, "TRY", sent.Currency)
	require.Equal(t, "5528790000000008", sent.PaymentCard.CardNumber)
	require.Equal(t, "85.34.78.112", sent.Buyer.IP)
	require.Equal(t, "2024-01-15 13:30:00", sent.Buyer.RegistrationDate)
	require.Len(t, sent.BasketItems, 4)

	require.Len(t, recorder.records, 1)
	rec := recorder.records[0]
	require.Equal(t, "11781227", rec.PaymentID)
	require.Equal(t, "1811.70", rec.Pricing.Total)
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "5528790000000008")
}

func TestCreateSingleInstallment(t *testing.T) {
	vendor := newVendorStub(t, http.StatusOK, `{"status":"success","paymentId":"1","conversationId":"c","fraudStatus":1}`)
	h := newHandler(t, vendor, "sandbox-key", nil)

	body := strings.Replace(checkoutBody, `"installment": 6`, `"installment": 1`, 1)
	body = strings.Replace(body, `{"id": "P2", "name": "Sehpa", "category1": "Salon", "price": "500"}`, `{"id": "P2", "name": "Sehpa", "category1": "Salon", "price": "0"}`, 1)
	body = strings.Replace(body, `"price": 1000`, `"price": 200`, 1)

	rr := postCheckout(h, body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"total":220.00`)
	require.Contains(t, rr.Body.String(), `"installmentFee":0.00`)

	var sent iyzico.AuthRequest
	require.NoError(t, json.Unmarshal(vendor.body, &sent))
	for _, item := range sent.BasketItems {
		require.NotEqual(t, "INSTALLMENT_FEE", item.ID)
	}
}

func TestCreateMissingAPIKey(t *testing.T) {
	vendor := newVendorStub(t, http.StatusOK, `{"status":"success"}`)
	h := newHandler(t, vendor, "", nil)

	rr := postCheckout(h, checkoutBody)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decode(t, rr)
	require.Equal(t, "error", body["status"])
	require.Equal(t, msgNotConfigured, body["error"])
	require.NotContains(t, body, "details")
	require.Equal(t, int32(0), vendor.Calls())
}

func TestCreateVendorRejection(t *testing.T) {
	vendor := newVendorStub(t, http.StatusOK, `{"status":"failure","errorCode":"5006","errorMessage":"Insufficient funds","errorGroup":"NOT_SUFFICIENT_FUNDS"}`)
	recorder := &recorderStub{}
	h := newHandler(t, vendor, "sandbox-key", recorder)

	rr := postCheckout(h, checkoutBody)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode(t, rr)
	require.Equal(t, "error", body["status"])
	require.Equal(t, "5006", body["errorCode"])
	require.Equal(t, "Insufficient funds", body["error"])
	require.Equal(t, "NOT_SUFFICIENT_FUNDS", body["errorGroup"])
	require.Empty(t, recorder.records)
}

func TestCreateAccessLogCarriesOutcome(t *testing.T) {
	vendor := newVendorStub(t, http.StatusOK, `{"status":"failure","errorCode":"5006","errorMessage":"Insufficient funds","errorGroup":"NOT_SUFFICIENT_FUNDS"}`)
	h := newHandler(t, vendor, "sandbox-key", nil)

	var buf bytes.Buffer
	logged := obs.RequestLogger{Logger: zerolog.New(&buf)}.Middleware(http.HandlerFunc(h.Create))
	req := httptest.NewRequest(http.MethodPost, "/api/payment", strings.NewReader(checkoutBody))
	logged.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, resultRejected, entry["payment_result"])
	require.Equal(t, "generated-1", entry["conversation_id"])
	require.NotContains(t, buf.String(), "5528")
	require.NotContains(t, buf.String(), "sandbox-secret")
}

func TestCreateTransportFailure(t *testing.T) {
	vendor := newVendorStub(t, http.StatusBadGateway, `<html>bad gateway</html>`)
	h := newHandler(t, vendor, "sandbox-key", nil)

	rr := postCheckout(h, checkoutBody)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decode(t, rr)
	require.Equal(t, msgUnavailable, body["error"])
	require.NotContains(t, body, "details")
	require.Equal(t, int32(1), vendor.Calls())

	h.Debug = true
	rr = postCheckout(h, checkoutBody)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, decode(t, rr)["details"], "iyzico")
}

func TestCreateInvalidInput(t *testing.T) {
	vendor := newVendorStub(t, http.StatusOK, `{"status":"success"}`)
	h := newHandler(t, vendor, "sandbox-key", nil)

	cases := map[string]struct {
		body  string
		field string
	}{
		"malformed json":   {body: `{"basketItems": [`, field: "body"},
		"empty body":       {body: ``, field: "body"},
		"no items":         {body: strings.Replace(checkoutBody, `"basketItems": [`, `"ignored": [`, 1), field: "basketItems"},
		"non numeric":      {body: strings.Replace(checkoutBody, `"price": "500"`, `"price": "beş yüz"`, 1), field: "basketItems[1].price"},
		"negative price":   {body: strings.Replace(checkoutBody, `"price": 1000`, `"price": -1`, 1), field: "basketItems[0].price"},
		"bad email":        {body: strings.Replace(checkoutBody, `ayse@example.com`, `not-an-email`, 1), field: "buyer.email"},
		"bad date":         {body: strings.Replace(checkoutBody, `2024-01-15T10:30:00Z`, `yesterday`, 1), field: "buyer.registrationDate"},
		"bad installment":  {body: strings.Replace(checkoutBody, `"installment": 6`, `"installment": -2`, 1), field: "installment"},
		"installment > 12": {body: strings.Replace(checkoutBody, `"installment": 6`, `"installment": 100`, 1), field: "installment"},
		"huge exponent":    {body: strings.Replace(checkoutBody, `"price": 1000`, `"price": 1e20000000`, 1), field: "basketItems[0].price"},
		"missing card cvc": {body: strings.Replace(checkoutBody, `"cvc": "123"`, `"cvc": ""`, 1), field: "paymentCard.cvc"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := postCheckout(h, tc.body)
			require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
			body := decode(t, rr)
			require.Equal(t, "error", body["status"])
			require.Equal(t, codeInvalidInput, body["errorCode"])
			details, ok := body["details"].(map[string]any)
			require.True(t, ok)
			require.Contains(t, details, tc.field)
		})
	}
	require.Equal(t, int32(0), vendor.Calls())
}

func TestCreateHandOffFailureKeepsSuccess(t *testing.T) {
	vendor := newVendorStub(t, http.StatusOK, `{"status":"success","paymentId":"42","conversationId":"c","fraudStatus":1}`)
	recorder := &recorderStub{err: errors.New("queue down")}
	h := newHandler(t, vendor, "sandbox-key", recorder)

	rr := postCheckout(h, checkoutBody)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, recorder.records, 1)
}

func TestInstallments(t *testing.T) {
	vendor := newVendorStub(t, http.StatusOK, `{}`)
	h := newHandler(t, vendor, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/payment/installments?amount=1500", nil)
	rr := httptest.NewRecorder()
	h.Installments(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"amount":1500.00`)

	var body struct {
		Status  string `json:"status"`
		Options []struct {
			Installment int `json:"installment"`
			Pricing     struct {
				Total json.Number `json:"total"`
			} `json:"pricing"`
		} `json:"options"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "success", body.Status)
	require.Len(t, body.Options, 6)
	require.Equal(t, 1, body.Options[0].Installment)
	require.Equal(t, "1650.00", body.Options[0].Pricing.Total.String())
	require.Equal(t, 6, body.Options[3].Installment)
	require.Equal(t, "1811.70", body.Options[3].Pricing.Total.String())
	require.Equal(t, int32(0), vendor.Calls())
}

func TestInstallmentsInvalidAmount(t *testing.T) {
	vendor := newVendorStub(t, http.StatusOK, `{}`)
	h := newHandler(t, vendor, "", nil)

	for _, amount := range []string{"", "abc", "-10", "1e20000000", "1e-20000000"} {
		req := httptest.NewRequest(http.MethodGet, "/api/payment/installments?amount="+amount, nil)
		rr := httptest.NewRecorder()
		h.Installments(rr, req)
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code, amount)
		details := decode(t, rr)["details"].(map[string]any)
		require.Contains(t, details, "amount")
	}
}

func TestNewServiceRequiresGateway(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	require.Error(t, err)
}
