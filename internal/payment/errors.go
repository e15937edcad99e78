package payment

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/balkolux/storefront-api/internal/common"
	"github.com/balkolux/storefront-api/internal/payment/iyzico"
	"github.com/balkolux/storefront-api/internal/pricing"
)

const (
	codeInvalidInput   = "INVALID_INPUT"
	codeNotConfigured  = "PAYMENT_NOT_CONFIGURED"
	codeUnavailable    = "PAYMENT_UNAVAILABLE"
	codeInternal       = "INTERNAL"
	codeDeclined       = "PAYMENT_DECLINED"
	msgInvalidInput    = "invalid payment request"
	msgNotConfigured   = "payment service is not configured"
	msgUnavailable     = "payment could not be processed, please try again"
	msgVendorRejection = "payment was declined"
)

// outcome labels for metrics and spans
const (
	resultSuccess       = "success"
	resultRejected      = "rejected"
	resultInvalid       = "invalid"
	resultMisconfigured = "misconfigured"
	resultTransport     = "transport"
	resultInternal      = "internal"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func invalidInput(details map[string]string, err error) *common.AppError {
	appErr := common.NewAppError(codeInvalidInput, msgInvalidInput, http.StatusUnprocessableEntity, err)
	if len(details) > 0 {
		appErr.Details = details
	}
	appErr.PublicDetails = true
	return appErr
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"body": err.Error()}
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if idx := strings.Index(field, "."); idx >= 0 {
			field = field[idx+1:]
		}
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		details[field] = reason
	}
	return details
}

// classify maps service failures onto the HTTP error taxonomy and the metric
// result label.
func classify(err error) (*common.AppError, string) {
	if appErr := common.AsAppError(err); appErr != nil {
		switch appErr.Code {
		case codeInvalidInput:
			return appErr, resultInvalid
		case codeNotConfigured:
			return appErr, resultMisconfigured
		}
		return appErr, resultInternal
	}

	var inputErr *pricing.InputError
	if errors.As(err, &inputErr) {
		return invalidInput(map[string]string{fieldOr(inputErr.Field, "body"): inputErr.Reason}, err), resultInvalid
	}
	if errors.Is(err, iyzico.ErrMissingCredentials) {
		return common.NewAppError(codeNotConfigured, msgNotConfigured, http.StatusInternalServerError, err), resultMisconfigured
	}
	var rejection *iyzico.Rejection
	if errors.As(err, &rejection) {
		message := strings.TrimSpace(rejection.ErrorMessage)
		if message == "" {
			message = msgVendorRejection
		}
		code := strings.TrimSpace(rejection.ErrorCode)
		if code == "" {
			code = codeDeclined
		}
		appErr := common.NewAppError(code, message, http.StatusBadRequest, err)
		appErr.Group = rejection.ErrorGroup
		return appErr, resultRejected
	}
	if errors.Is(err, iyzico.ErrTransport) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return common.NewAppError(codeUnavailable, msgUnavailable, http.StatusInternalServerError, err), resultTransport
	}
	return common.NewAppError(codeInternal, msgUnavailable, http.StatusInternalServerError, err), resultInternal
}

func fieldOr(field, fallback string) string {
	if strings.TrimSpace(field) == "" {
		return fallback
	}
	return field
}
