package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/checkout-gateway/internal/apperr"
)

var (
	errMethodNotAllowed = apperr.New(apperr.MethodNotAllowed, "method not allowed")
	errMissingAction    = apperr.New(apperr.InvalidInput, "action not specified")
	errUnknownAction    = apperr.New(apperr.InvalidInput, "unknown action")
)

type successResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) ok(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, successResponse{
		Status:  "success",
		Message: message,
		Data:    data,
	})
}

// fail writes the error envelope. Server-side failures are logged with their
// cause; clients only see the cause in debug mode.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	code := kind.HTTPStatus()
	msg := apperr.Message(err)

	lg := zctx.From(r.Context())
	if code >= http.StatusInternalServerError {
		lg.Error("Request failed",
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
		if h.debug {
			msg = err.Error()
		}
	} else {
		lg.Debug("Request rejected",
			zap.String("kind", kind.String()),
			zap.String("reason", msg),
		)
	}

	writeJSON(w, code, errorResponse{
		Status:  "error",
		Message: msg,
		Code:    code,
	})
}

// readBody reads the whole request body up to the configured limit.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Wrap(err, apperr.MalformedPayload, "request body too large")
		}
		return nil, apperr.Wrap(err, apperr.MalformedPayload, "failed to read request body")
	}
	return body, nil
}
