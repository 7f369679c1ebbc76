package httpapi

import (
	"context"
	"net/http"
	"strings"
)

const (
	headerTerminalID = "X-Terminal-ID"
	headerStaffID    = "X-Staff-ID"
	headerRequestID  = "X-Request-ID"

	maxAttributionLength = 64
)

type terminalKey struct{}

// Terminal identifies the registration desk and staff member behind a request.
// Neither is authenticated; both are recorded on the visits they produce.
type Terminal struct {
	TerminalID string
	StaffID    string
}

func TerminalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		terminal := Terminal{
			TerminalID: strings.TrimSpace(r.Header.Get(headerTerminalID)),
			StaffID:    strings.TrimSpace(r.Header.Get(headerStaffID)),
		}
		if len(terminal.TerminalID) > maxAttributionLength || len(terminal.StaffID) > maxAttributionLength {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, responseError{
				Code:    "invalid_attribution",
				Message: "terminal and staff ids must be at most 64 characters",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), terminalKey{}, terminal)))
	})
}

func terminalFromContext(ctx context.Context) Terminal {
	terminal, _ := ctx.Value(terminalKey{}).(Terminal)
	return terminal
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerRequestID))
}
