package middleware

import (
	"net/http"

	"github.com/oklog/ulid/v2"

	"github.com/corpusware/termstat/pkg/logger"
)

// HeaderRequestID is the header carrying the request ID end to end.
const HeaderRequestID = "X-Request-ID"

// RequestID ensures every request carries an ID: an incoming X-Request-ID
// is kept, otherwise a fresh ULID is minted. The ID is stored in the request
// context for logging and echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = ulid.Make().String()
		}
		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
