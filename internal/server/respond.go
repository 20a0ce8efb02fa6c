package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/types"
)

type ctxKey int

const requestIDKey ctxKey = 0

// withRequestID tags every request with a fresh id, echoed in the
// X-Request-Id header and carried into mutation contexts.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", rid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, rid)))
	})
}

func requestID(r *http.Request) string {
	rid, _ := r.Context().Value(requestIDKey).(string)
	return rid
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.ServerWarn("response encode failed: %v", err)
	}
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// writeError maps a typed error onto its status and the standard error
// body. Untyped errors read as internal_error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := types.KindOf(err)
	message := err.Error()
	var ce *types.CoreError
	if errors.As(err, &ce) {
		message = ce.Message
	}
	if kind == types.KindInternal {
		logging.ServerError("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, types.HTTPStatus(kind), errorBody{
		Error:     string(kind),
		Message:   message,
		RequestID: requestID(r),
	})
}

// decodeJSON parses a request body, mapping malformed payloads to
// bad_request.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return types.Wrap(types.KindBadRequest, "invalid json body", err)
	}
	return nil
}
