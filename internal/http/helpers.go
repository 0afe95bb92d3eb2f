package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	applog "bizxpense/internal/log"
)

const maxBodyBytes = 1 << 20

// UserIDHeader carries the caller identity set by the authenticating proxy.
const UserIDHeader = "X-User-ID"

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// sanitizeInput removes control characters except tab and newlines and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// authenticated resolves the caller and hands it to next, answering 401 when
// the identity header is missing.
func authenticated(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := sanitizeInput(r.Header.Get(UserIDHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		logger := applog.FromContext(r.Context()).With(applog.FieldUserID, userID)
		next(w, r.WithContext(applog.NewContext(r.Context(), logger)), userID)
	}
}
