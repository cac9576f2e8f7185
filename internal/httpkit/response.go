// Package httpkit holds the small HTTP helpers shared by the preview
// server: JSON responses, the error envelope, and CORS.
package httpkit

import (
	"encoding/json"
	"net/http"

	"tilesmith/internal/pkg/errors"
)

// ErrorEnvelope is the JSON error body.
type ErrorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteErr writes an error envelope with an explicit status and code.
func WriteErr(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	var env ErrorEnvelope
	env.Error.Code = code
	env.Error.Message = msg
	env.Error.Details = details
	WriteJSON(w, status, env)
}

// WriteError maps a pipeline error to its HTTP status and envelope.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := string(errors.CodeInternal)
	msg := "internal error"
	var details map[string]any

	var e *errors.Error
	if errors.As(err, &e) {
		status = e.HTTPStatus()
		code = string(e.Code)
		msg = e.Message
		details = e.Fields
	}
	WriteErr(w, status, code, msg, details)
}
