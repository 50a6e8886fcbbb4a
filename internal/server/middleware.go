package server

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/EphraimElvis/coralite-io/internal/errors"
	"github.com/EphraimElvis/coralite-io/internal/logging"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one listed is outermost:
// requests flow mws[0] -> mws[1] -> ... -> handler.
func Chain(handler http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		handler = mws[i](handler)
	}

	return handler
}

// Recover turns a handler panic into a logged internal error and a 500.
// http.ErrAbortHandler is re-raised so net/http can abort the response.
func Recover(logger logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}

				err := errors.NewInternalError(errors.ErrCodeInternalError,
					fmt.Sprintf("panic serving %s", r.URL.Path), fmt.Errorf("%v", v))
				logger.Error(r.Context(), err, "Handler panicked", "stack", string(debug.Stack()))

				w.WriteHeader(http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
