// Package security holds inbound HTTP guards for the tax API.
package security

import (
	"errors"
	"net/http"

	"github.com/noah-isme/toko-tax/internal/common"
)

// DefaultBodyLimit bounds calculation payloads when no limit is configured.
const DefaultBodyLimit int64 = 1 << 20

// BodyLimit rejects request bodies larger than Max bytes.
type BodyLimit struct {
	Max int64
}

// Middleware answers 413 when the declared length exceeds Max and caps the
// body reader for requests that do not declare one.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	limit := b.Max
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > limit {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", map[string]int64{"limit": limit})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

// TooLarge reports whether err came from reading past the body limit.
func TooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
