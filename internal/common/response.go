package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the error payload returned by every storefront endpoint.
type ErrorBody struct {
	Status     string `json:"status"`
	Error      string `json:"error"`
	ErrorCode  string `json:"errorCode,omitempty"`
	ErrorGroup string `json:"errorGroup,omitempty"`
	Details    any    `json:"details,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, ErrorBody{
		Status:    "error",
		Error:     message,
		ErrorCode: code,
		Details:   details,
	})
}

// WriteAppError renders err. Details are dropped unless exposeDetails is set;
// non AppError values become an opaque 500.
func WriteAppError(w http.ResponseWriter, err error, exposeDetails bool) {
	appErr := AsAppError(err)
	if appErr == nil {
		appErr = NewAppError("INTERNAL", "internal error", http.StatusInternalServerError, err)
	}
	body := ErrorBody{
		Status:     "error",
		Error:      appErr.Message,
		ErrorCode:  appErr.Code,
		ErrorGroup: appErr.Group,
	}
	if exposeDetails || appErr.PublicDetails {
		body.Details = appErr.Details
		if body.Details == nil && appErr.Err != nil && exposeDetails {
			body.Details = appErr.Err.Error()
		}
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	JSON(w, status, body)
}
