package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"wagate/internal/transport"
)

type ReadyzCheck func(ctx context.Context) error

// StateSource reports the transport session state.
type StateSource interface {
	State() transport.State
}

// TransportConnected fails while the session cannot take sends.
func TransportConnected(s StateSource) ReadyzCheck {
	return func(context.Context) error {
		if state := s.State(); state != transport.StateConnected {
			return fmt.Errorf("transport %s", state)
		}
		return nil
	}
}

func Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

// Readyz runs every check under one deadline and answers 503 naming the first failure.
func Readyz(timeout time.Duration, checks ...ReadyzCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		for _, check := range checks {
			if err := check(ctx); err != nil {
				http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
