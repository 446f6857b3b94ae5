package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fduhole/fdusdk/fdu"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps portal errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, fdu.ErrNotLoggedIn):
		return http.StatusServiceUnavailable
	case errors.Is(err, fdu.ErrLoginFailed):
		return http.StatusBadGateway
	case errors.Is(err, fdu.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, fdu.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, fdu.ErrBadResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
