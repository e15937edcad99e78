package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/balkolux/storefront-api/internal/obs"
	"github.com/balkolux/storefront-api/internal/orders"
	"github.com/balkolux/storefront-api/internal/payment/iyzico"
	"github.com/balkolux/storefront-api/internal/pricing"
)

// Gateway authorizes priced requests with the payment processor.
type Gateway interface {
	Configured() bool
	Authorize(ctx context.Context, req iyzico.AuthRequest, breakdown pricing.Breakdown) (iyzico.Authorization, error)
}

// OrderRecorder receives successful authorizations for order persistence.
type OrderRecorder interface {
	RecordAuthorization(ctx context.Context, rec orders.Record) error
}

// ServiceConfig wires the checkout service.
type ServiceConfig struct {
	Gateway Gateway
	Builder iyzico.Builder
	Orders  OrderRecorder
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Service prices baskets and authorizes card payments. It is safe for
// concurrent use; requests share no mutable state.
type Service struct {
	gateway  Gateway
	builder  iyzico.Builder
	orders   OrderRecorder
	logger   zerolog.Logger
	now      func() time.Time
	validate *validator.Validate
}

// NewService validates the configuration and returns a ready service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}
	recorder := cfg.Orders
	if recorder == nil {
		recorder = orders.NopRecorder{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		gateway:  cfg.Gateway,
		builder:  cfg.Builder,
		orders:   recorder,
		logger:   cfg.Logger,
		now:      now,
		validate: newValidator(),
	}, nil
}

// Authorize runs a checkout attempt: exactly one processor call when the
// request is valid and the service is configured. Returned errors are
// *common.AppError values ready for rendering.
func (s *Service) Authorize(ctx context.Context, req Request, clientIP string) (Outcome, error) {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Authorize")
	defer span.End()

	result := resultInternal
	defer func() {
		span.SetAttributes(attribute.String("payment.result", result))
		obs.Annotate(ctx, "payment_result", result)
		if obs.PaymentAuthorizationTotal != nil {
			obs.PaymentAuthorizationTotal.WithLabelValues(result).Inc()
		}
	}()
	fail := func(err error) (Outcome, error) {
		appErr, label := classify(err)
		result = label
		if label != resultRejected && label != resultInvalid {
			span.RecordError(err)
			span.SetStatus(codes.Error, label)
		}
		return Outcome{}, appErr
	}

	if !s.gateway.Configured() {
		s.logger.Error().Str("reason", "missing_credentials").Msg("payment authorization refused")
		return fail(iyzico.ErrMissingCredentials)
	}

	input, err := s.buildInput(req, clientIP)
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(
		attribute.Int("payment.installment", input.Installment),
		attribute.Int("payment.basket_items", len(input.Items)),
	)

	authReq, breakdown, err := s.builder.Build(input)
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(
		attribute.String("payment.conversation_id", authReq.ConversationID),
		attribute.String("payment.total", pricing.Format(breakdown.Total)),
	)
	obs.Annotate(ctx, "conversation_id", authReq.ConversationID)

	start := time.Now()
	auth, err := s.gateway.Authorize(ctx, authReq, breakdown)
	elapsed := time.Since(start)
	if err != nil {
		out, appErr := fail(err)
		observeVendor(result, elapsed)
		s.logFailure(result, authReq, err)
		return out, appErr
	}
	result = resultSuccess
	observeVendor(result, elapsed)
	span.SetAttributes(attribute.String("payment.id", auth.PaymentID))
	obs.Annotate(ctx, "payment_id", auth.PaymentID)

	s.logger.Info().
		Str("payment_id", auth.PaymentID).
		Str("conversation_id", auth.ConversationID).
		Str("basket_id", authReq.BasketID).
		Int("installment", authReq.Installment).
		Str("total", pricing.Format(breakdown.Total)).
		Int("fraud_status", auth.FraudStatus).
		Int64("vendor_ms", elapsed.Milliseconds()).
		Msg("payment authorized")

	s.handOff(context.WithoutCancel(ctx), authReq, auth, breakdown)

	return Outcome{
		PaymentID:      auth.PaymentID,
		ConversationID: auth.ConversationID,
		BasketID:       authReq.BasketID,
		FraudStatus:    auth.FraudStatus,
		Installment:    authReq.Installment,
		Pricing:        breakdown,
	}, nil
}

// Quote prices an amount for every supported installment tier.
func (s *Service) Quote(amount string) (decimal.Decimal, []InstallmentQuote, error) {
	value, err := pricing.CoercePrice([]byte(fmt.Sprintf("%q", strings.TrimSpace(amount))))
	if err != nil {
		var inputErr *pricing.InputError
		if errors.As(err, &inputErr) {
			inputErr.Field = "amount"
		}
		appErr, _ := classify(err)
		return decimal.Zero, nil, appErr
	}
	if obs.InstallmentQuoteTotal != nil {
		obs.InstallmentQuoteTotal.Inc()
	}
	items := []pricing.Item{{ID: "quote", Price: value}}
	tiers := pricing.SupportedInstallments()
	quotes := make([]InstallmentQuote, 0, len(tiers))
	for _, n := range tiers {
		quotes = append(quotes, InstallmentQuote{Installment: n, Pricing: pricing.Compute(items, n)})
	}
	return pricing.Round(value), quotes, nil
}

func (s *Service) buildInput(req Request, clientIP string) (iyzico.BuildInput, error) {
	if err := s.validate.Struct(req); err != nil {
		return iyzico.BuildInput{}, invalidInput(validationDetails(err), err)
	}
	items := make([]iyzico.LineItem, 0, len(req.BasketItems))
	for i, it := range req.BasketItems {
		price, err := pricing.CoercePrice(it.Price)
		if err != nil {
			var inputErr *pricing.InputError
			if errors.As(err, &inputErr) {
				inputErr.Field = fmt.Sprintf("basketItems[%d].price", i)
			}
			return iyzico.BuildInput{}, err
		}
		items = append(items, iyzico.LineItem{
			ID:        it.ID,
			Name:      it.Name,
			Category1: it.Category1,
			Category2: it.Category2,
			ItemType:  it.ItemType,
			Price:     price,
		})
	}
	installment := req.Installment
	if installment == 0 {
		installment = 1
	}
	return iyzico.BuildInput{
		Buyer:           req.Buyer.vendor(clientIP),
		ShippingAddress: req.ShippingAddress.vendor(),
		BillingAddress:  req.BillingAddress.vendor(),
		Items:           items,
		Card:            req.PaymentCard.vendor(),
		Currency:        req.Currency,
		BasketID:        req.BasketID,
		Installment:     installment,
	}, nil
}

func (s *Service) handOff(ctx context.Context, req iyzico.AuthRequest, auth iyzico.Authorization, breakdown pricing.Breakdown) {
	items := make([]orders.ItemRecord, 0, len(req.BasketItems))
	for _, it := range req.BasketItems {
		items = append(items, orders.ItemRecord{ID: it.ID, Name: it.Name, Category: it.Category1, Price: it.Price})
	}
	rec := orders.Record{
		PaymentID:      auth.PaymentID,
		ConversationID: auth.ConversationID,
		BasketID:       req.BasketID,
		BuyerID:        req.Buyer.ID,
		BuyerEmail:     req.Buyer.Email,
		Currency:       req.Currency,
		Installment:    req.Installment,
		FraudStatus:    auth.FraudStatus,
		Pricing:        orders.NewPricingRecord(breakdown),
		Items:          items,
		AuthorizedAt:   s.now().UTC(),
	}
	label := "enqueued"
	if err := s.orders.RecordAuthorization(ctx, rec); err != nil {
		label = "enqueue_failed"
		s.logger.Error().Err(err).
			Str("payment_id", auth.PaymentID).
			Str("conversation_id", auth.ConversationID).
			Msg("order hand-off failed")
	}
	if obs.OrderHandoffTotal != nil {
		obs.OrderHandoffTotal.WithLabelValues(label).Inc()
	}
}

func (s *Service) logFailure(result string, req iyzico.AuthRequest, err error) {
	var evt *zerolog.Event
	switch result {
	case resultRejected:
		evt = s.logger.Warn()
		var rejection *iyzico.Rejection
		if errors.As(err, &rejection) {
			evt = evt.Str("error_code", rejection.ErrorCode).Str("error_group", rejection.ErrorGroup)
		}
	default:
		evt = s.logger.Error().Err(err)
	}
	evt.Str("result", result).
		Str("conversation_id", req.ConversationID).
		Str("basket_id", req.BasketID).
		Msg("payment authorization failed")
}

func observeVendor(result string, elapsed time.Duration) {
	if obs.PaymentVendorLatency != nil {
		obs.PaymentVendorLatency.WithLabelValues(result).Observe(obs.DurationMillis(elapsed))
	}
}
