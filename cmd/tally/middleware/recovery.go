package middleware

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/TFMV/tally/pkg/errors"
)

// RecoveryMiddleware provides panic recovery middleware.
type RecoveryMiddleware struct {
	logger zerolog.Logger
	stderr io.Writer
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(logger zerolog.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{
		logger: logger,
		stderr: os.Stderr,
	}
}

// Handler turns a panic into a 500 error envelope.
func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				if rv == http.ErrAbortHandler {
					panic(rv)
				}
				m.handlePanic(rv, r)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"ok":    false,
					"error": errors.New(errors.CodeInternal, "An internal error occurred."),
				})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// handlePanic logs panic information.
func (m *RecoveryMiddleware) handlePanic(rv any, r *http.Request) {
	stack := debug.Stack()

	event := m.logger.Error().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Interface("panic", rv).
		Str("stack", string(stack))
	if id, ok := GetRequestID(r.Context()); ok {
		event = event.Str("request_id", id)
	}
	event.Msg("Panic recovered")

	fmt.Fprintf(m.stderr, "PANIC in %s %s: %v\n%s\n", r.Method, r.URL.Path, rv, stack)
}
