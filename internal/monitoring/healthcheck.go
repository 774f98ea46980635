package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/thingpilot/lorawan-node/internal/storage"
)

// StateFunc returns the current session state.
type StateFunc func() fmt.Stringer

var pingRedis = storage.Ping

func healthCheckHandlerFunc(state StateFunc, redis bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redis {
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			defer cancel()

			if err := pingRedis(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(errors.Wrap(err, "redis ping error").Error()))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		if state != nil {
			fmt.Fprintf(w, "session: %s", state())
		}
	}
}
