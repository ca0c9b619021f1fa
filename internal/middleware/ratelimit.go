package middleware

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/Dzaakk/usage-bucket/bucket"
	"github.com/Dzaakk/usage-bucket/internal/metrics"
)

// RateLimit is the HTTP admission layer over a single bucket: it asks
// the bucket whether the client must wait, answers 429 with the
// remaining wait if so, and records the usage otherwise.
//
// Query and register are two independent bucket calls, so two requests
// from the same client racing through here can both be admitted at the
// edge of the budget. That is the bucket's documented contract, and
// for an admission check it is an acceptable trade.
type RateLimit struct {
	bucket  *bucket.Bucket
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewRateLimit(b *bucket.Bucket, m *metrics.Metrics, logger *slog.Logger) *RateLimit {
	return &RateLimit{
		bucket:  b,
		metrics: m,
		logger:  logger,
	}
}

func (m *RateLimit) Handler(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := clientName(r)
		id := ClientID(client)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", m.bucket.Limit().Count()))

		if wait, limited := m.bucket.LimitDuration(id); limited {
			m.metrics.RecordDecision(false)
			m.metrics.ObserveWait(wait)

			m.logger.Warn("rate limit exceeded",
				"client", client,
				"wait", wait,
				"path", r.URL.Path,
			)

			m.sendRateLimitError(w, wait)
			return
		}

		m.bucket.Register(id)
		m.metrics.RecordDecision(true)

		next(w, r)
	}
}

func clientName(r *http.Request) string {
	client := r.Header.Get("X-Client-ID")
	if client == "" {
		client = "default"
	}
	return client
}

// ClientID derives the bucket identifier for a client name: an FNV-1a
// hash remapped away from zero, since zero is reserved by the bucket.
func ClientID(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	id := h.Sum64()
	if id == 0 {
		return 1
	}
	return id
}

func (m *RateLimit) sendRateLimitError(w http.ResponseWriter, wait time.Duration) {
	// Round up so clients never retry before the window clears.
	seconds := int64(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}

	w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":       "Rate limit exceeded",
		"retry_after": seconds,
	})
}
