package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/balkolux/storefront-api/internal/common"
	"github.com/balkolux/storefront-api/internal/pricing"
)

// Handler exposes the checkout payment endpoints.
type Handler struct {
	Svc *Service
	// Debug exposes underlying error details in 500 responses.
	Debug bool
}

// Create authorizes a card payment for the posted basket. installment must be
// 0 (treated as 1) through 12; anything outside that range is a 422 here even
// though the pricing table itself prices unknown counts at a 0% rate.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, codeNotConfigured, msgNotConfigured, nil)
		return
	}
	var req Request
	if err := decodeBody(r.Body, &req); err != nil {
		common.WriteAppError(w, invalidInput(map[string]string{"body": err.Error()}, err), h.Debug)
		return
	}
	outcome, err := h.Svc.Authorize(r.Context(), req, common.ClientIP(r))
	if err != nil {
		common.WriteAppError(w, err, h.Debug)
		return
	}
	common.JSON(w, http.StatusOK, successResponse{
		Status:         "success",
		PaymentID:      outcome.PaymentID,
		ConversationID: outcome.ConversationID,
		FraudStatus:    outcome.FraudStatus,
		Installment:    outcome.Installment,
		Pricing:        newPricingResponse(outcome.Pricing),
	})
}

// Installments prices ?amount= for every supported installment tier.
func (h *Handler) Installments(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, codeNotConfigured, msgNotConfigured, nil)
		return
	}
	amount, quotes, err := h.Svc.Quote(r.URL.Query().Get("amount"))
	if err != nil {
		common.WriteAppError(w, err, h.Debug)
		return
	}
	options := make([]installmentOption, 0, len(quotes))
	for _, q := range quotes {
		options = append(options, installmentOption{Installment: q.Installment, Pricing: newPricingResponse(q.Pricing)})
	}
	common.JSON(w, http.StatusOK, installmentsResponse{
		Status:  "success",
		Amount:  json.Number(pricing.Format(amount)),
		Options: options,
	})
}

func decodeBody(body io.Reader, dst any) error {
	if body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
