package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/potetofly25/KeyManager2/internal/crypto"
	"github.com/potetofly25/KeyManager2/internal/session"
	"github.com/potetofly25/KeyManager2/internal/vault"
)

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func tooMany(w http.ResponseWriter, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	http.Error(w, "too many requests", http.StatusTooManyRequests)
}

// writeError maps the core's error taxonomy onto HTTP statuses. The
// message is the error text itself; the core already collapses anything
// oracle-shaped into one authentication failure.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, crypto.ErrAuthentication):
		code = http.StatusUnauthorized
	case errors.Is(err, session.ErrNotUnlocked):
		code = http.StatusConflict
	case errors.Is(err, session.ErrAlreadyInitialized):
		code = http.StatusConflict
	case errors.Is(err, session.ErrNotInitialized):
		code = http.StatusConflict
	case errors.Is(err, session.ErrEmptyPassword),
		errors.Is(err, vault.ErrPasswordRequired):
		code = http.StatusBadRequest
	case errors.Is(err, vault.ErrMalformedPackage),
		errors.Is(err, vault.ErrUnsupportedVersion),
		errors.Is(err, session.ErrMalformedRecord):
		code = http.StatusUnprocessableEntity
	}
	writeJSONStatus(w, code, map[string]string{"error": err.Error()})
}
