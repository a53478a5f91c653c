package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/version"
	"github.com/victorgomez09/suivi/pkg/trace"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error             apierr.Kind `json:"error"`
	Message           string      `json:"message"`
	AttemptsRemaining *int        `json:"attempts_remaining,omitempty"`
	RequestID         string      `json:"request_id,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// Errors renders typed failures. Store failures are logged with their cause and shown to the
// client as a generic message.
type Errors struct {
	Logger *zap.Logger
	// ExposeAttemptsRemaining adds attempts_remaining to INVALID_CREDENTIALS responses.
	ExposeAttemptsRemaining bool
}

func (e Errors) Write(w http.ResponseWriter, r *http.Request, err error) {
	kind := apierr.KindOf(err)
	resp := ErrorResponse{
		Error:     kind,
		Message:   apierr.PublicMessage(kind),
		RequestID: trace.GetRequestID(r.Context()),
	}

	var typed *apierr.Error
	errors.As(err, &typed)

	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := []zap.Field{
		zap.String("request_id", resp.RequestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("kind", string(kind)),
	}

	switch kind {
	case apierr.KindStore:
		logger.Error("Request failed", append(fields, zap.Error(err))...)
	case apierr.KindAuthProvider:
		logger.Warn("Directory unavailable", append(fields, zap.Error(err))...)
	case apierr.KindAccountLocked:
		if typed != nil && typed.Reason != "" {
			resp.Message = fmt.Sprintf("%s (%s)", resp.Message, typed.Reason)
		}
	case apierr.KindInvalidCredentials:
		if e.ExposeAttemptsRemaining && typed != nil && typed.AttemptsRemaining > 0 {
			n := typed.AttemptsRemaining
			resp.AttemptsRemaining = &n
		}
	default:
		if typed != nil && typed.Reason != "" {
			resp.Message = typed.Reason
		}
		logger.Debug("Request rejected", append(fields, zap.String("reason", resp.Message))...)
	}

	WriteJSON(w, apierr.HTTPStatus(kind), resp)
}

// DecodeJSON reads a JSON body into v. Malformed bodies and unknown fields are VALIDATION_ERROR.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apierr.Validation("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apierr.Validation("request body is too large")
		}
		if errors.Is(err, version.ErrMalformed) {
			return apierr.Validation("version is malformed")
		}
		return apierr.Validation("invalid request body: %s", err.Error())
	}
	return nil
}

// RequireVersion rejects requests that omit the version they read.
func RequireVersion(t version.Token) error {
	if t.IsZero() {
		return apierr.Validation("version is required")
	}
	return nil
}

// VersionResponse carries the version produced by a successful update.
type VersionResponse struct {
	Version version.Token `json:"version"`
}
