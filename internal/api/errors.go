package api

import (
	"encoding/json"
	"net/http"

	"reva/internal/errors"
)

// ErrorResponse represents an HTTP error response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

// WriteError writes an error response, mapping RevaError codes to HTTP
// status automatically.
func WriteError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	resp := ErrorResponse{
		Error: err.Error(),
		Code:  string(errors.InternalError),
	}
	status := http.StatusInternalServerError

	if revaErr, ok := err.(*errors.RevaError); ok {
		resp.Code = string(revaErr.Code)
		resp.Details = revaErr.Details
		status = MapErrorToStatus(revaErr.Code)
	}

	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// MapErrorToStatus maps reva error codes to HTTP status codes
func MapErrorToStatus(code errors.ErrorCode) int {
	switch code {
	case errors.BackendUnavailable:
		return http.StatusServiceUnavailable // 503
	case errors.Timeout:
		return http.StatusGatewayTimeout // 504
	case errors.RateLimited:
		return http.StatusTooManyRequests // 429
	case errors.MalformedResponse:
		return http.StatusBadGateway // 502
	case errors.RunNotFound:
		return http.StatusNotFound // 404
	case errors.RunConflict:
		return http.StatusConflict // 409
	case errors.RunNotCancellable:
		return http.StatusConflict // 409
	case errors.InvalidRequest:
		return http.StatusBadRequest // 400
	case errors.PersistenceFailed:
		return http.StatusServiceUnavailable // 503
	case errors.InternalError:
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// BadRequest writes a 400 Bad Request error
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, errors.New(errors.InvalidRequest, message, nil))
}

// InternalError writes a 500 Internal Server Error
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, errors.New(errors.InternalError, message, nil))
}
