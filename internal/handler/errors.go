package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/apperr"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

var errEmptyBody = apperr.Invalid("", "request body is required")

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeError maps a domain error to a response. Validation, not found and
// conflict messages are shown as they are. External failures get a generic
// message and security failures none at all; their detail only goes to the
// log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	lg := zctx.From(r.Context())
	resp := errorResponse{}

	var ve *apperr.ValidationError
	switch {
	case errors.As(err, &ve):
		resp = errorResponse{Code: http.StatusUnprocessableEntity, Message: ve.Message, Field: ve.Field}
	case errors.Is(err, apperr.ErrValidation):
		resp = errorResponse{Code: http.StatusUnprocessableEntity, Message: err.Error()}
	case errors.Is(err, apperr.ErrNotFound):
		resp = errorResponse{Code: http.StatusNotFound, Message: err.Error()}
	case errors.Is(err, apperr.ErrConflict):
		resp = errorResponse{Code: http.StatusConflict, Message: err.Error()}
	case errors.Is(err, apperr.ErrSecurity):
		lg.Warn("Security check failed", zap.String("path", r.URL.Path), zap.Error(err))
		resp = errorResponse{Code: http.StatusUnauthorized, Message: "unauthorized"}
	case errors.Is(err, apperr.ErrExternal):
		lg.Error("External service failed", zap.String("path", r.URL.Path), zap.Error(err))
		resp = errorResponse{Code: http.StatusBadGateway, Message: "The service is temporarily unavailable, please try again."}
	default:
		lg.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		resp = errorResponse{Code: http.StatusInternalServerError, Message: "internal server error"}
	}
	writeJSON(w, resp.Code, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. Unknown fields are rejected.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return apperr.Invalid("", "malformed request body: "+err.Error())
	}
	return nil
}

// decodeOptional is decode for endpoints whose body may be omitted.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := decode(w, r, v); err != nil && !errors.Is(err, errEmptyBody) {
		return err
	}
	return nil
}
