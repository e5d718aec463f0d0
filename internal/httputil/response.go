// Package httputil holds JSON response and request helpers shared by all handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/rs/zerolog"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes data as JSON with the given status
func WriteJSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// WriteErrorCode writes an error body with an explicit status and code
func WriteErrorCode(w http.ResponseWriter, log zerolog.Logger, status int, code, message string) {
	WriteJSON(w, log, status, ErrorBody{Code: code, Message: message})
}

// WriteError translates err into an HTTP error response.
// Untyped errors become 500 SYS_E_5001 and their details are only logged.
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	de, ok := domain.AsError(err)
	if !ok {
		de = domain.NewInternal(err)
	}

	status := StatusFor(de.Kind)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", de.Code).Msg("Request failed")
	} else {
		log.Debug().Err(err).Str("code", de.Code).Msg("Request rejected")
	}

	WriteErrorCode(w, log, status, de.Code, de.Message)
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
