package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/lox/aviationstats/internal/apperr"
	"github.com/lox/aviationstats/internal/httputil"
)

const retryAfterSeconds = "30"

type errorBody struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Retryable *bool  `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	httputil.WriteJSON(w, status, v)
}

// writeError maps err onto a status code. Anything outside the apperr
// taxonomy is logged and reported as a generic 500.
func writeError(w http.ResponseWriter, err error) {
	var (
		ve *apperr.ValidationError
		nf *apperr.NotFoundError
		du *apperr.DataUnavailableError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error(), Field: ve.Field})
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, errorBody{Error: nf.Error()})
	case errors.As(err, &du):
		retryable := du.Retryable
		if retryable {
			w.Header().Set("Retry-After", retryAfterSeconds)
		}
		log.Printf("api: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: du.Source + " unavailable", Retryable: &retryable})
	default:
		log.Printf("api: internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
