package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"gorm.io/gorm"

	"sardis/internal/store"
)

type idempotencyContextKey string

const contextKeyIdempotencyKey idempotencyContextKey = "sardis_idempotency_key"

// WithIdempotency replays a stored response for a repeated
// Idempotency-Key header, copied from the teacher's
// services/otc-gateway/middleware.WithIdempotency: a request without the
// header passes through untouched, a request whose key was already
// recorded gets the original status and body replayed verbatim instead
// of re-running the handler, and everything else records its response on
// the way out. Distinct from internal/idempotency.Store, which keys off
// (scope, payload digest) for a single typed operation result; this
// middleware replays whatever bytes the handler wrote for any endpoint.
func WithIdempotency(db *gorm.DB, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		var record store.HTTPIdempotencyRecord
		if err := db.First(&record, "key = ?", key).Error; err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(record.Status)
			_, _ = io.WriteString(w, record.Response)
			return
		}

		recorder := &responseRecorder{ResponseWriter: w}
		ctx := context.WithValue(r.Context(), contextKeyIdempotencyKey, key)
		next.ServeHTTP(recorder, r.WithContext(ctx))

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		_ = db.Create(&store.HTTPIdempotencyRecord{
			Key: key, Method: r.Method, Path: r.URL.Path,
			Status: status, Response: recorder.buf, CreatedAt: time.Now().UTC(),
		}).Error
	})
}

type responseRecorder struct {
	http.ResponseWriter
	buf    string
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.buf += string(b)
	return rr.ResponseWriter.Write(b)
}
