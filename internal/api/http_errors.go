package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/groundloop-ai/groundloop/internal/core"
)

// errorResponse is the JSON error body.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondDomainError maps the engine error taxonomy onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch domErr.Category {
	case core.ErrCatValidation:
		status = http.StatusUnprocessableEntity
	case core.ErrCatNotFound:
		status = http.StatusNotFound
	case core.ErrCatState, core.ErrCatCancelled:
		status = http.StatusConflict
	case core.ErrCatGateTimeout:
		status = http.StatusGatewayTimeout
	case core.ErrCatGeneration, core.ErrCatPatch, core.ErrCatVerification:
		status = http.StatusBadGateway
	}
	respondJSON(w, status, errorResponse{Error: domErr.Message, Code: domErr.Code})
}
