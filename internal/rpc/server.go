package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HandlerFunc is a typed rpc method.
type HandlerFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Handle adapts fn to an http handler: the body is decoded into Req and the
// result or error is written as JSON.
//
// Errors reply 422, or 503 when wrapped by Unavailable. An ErrorList sends
// every message. The caller's address is available through RemoteAddr.
func Handle[Req, Resp any](fn HandlerFunc[Req, Resp]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorBody{Error: "invalid request body: " + err.Error()})
			return
		}

		resp, err := fn(WithRemoteAddr(r.Context(), r.RemoteAddr), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Mount registers a method on router.
func Mount[Req, Resp any](router chi.Router, method string, fn HandlerFunc[Req, Resp]) {
	router.Post(Path(method), Handle(fn))
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		status = http.StatusServiceUnavailable
	}

	body := ErrorBody{Error: err.Error()}
	var list ErrorList
	if errors.As(err, &list) {
		body.Errors = Strings(list)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
