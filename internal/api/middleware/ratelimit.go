// ratelimit.go — ограничение частоты загрузок на субъекта (token bucket).
package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	apierrors "github.com/bigkaa/goartstore/custody-module/internal/api/errors"
)

var rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "cm_http_rate_limited_total",
	Help: "Запросы, отклонённые ограничителем частоты",
})

// Неактивные limiters вытесняются из LRU.
const (
	limiterCacheSize = 10000
	limiterIdleTTL   = 10 * time.Minute
)

// RateLimiter — token bucket на пару (компания, субъект).
type RateLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewRateLimiter создаёт ограничитель: perSecond запросов в секунду,
// всплеск до burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](limiterCacheSize, nil, limiterIdleTTL),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow расходует токен субъекта key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	lim, ok := rl.limiters.Get(key)
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
	}
	// Add продлевает TTL активного субъекта
	rl.limiters.Add(key, lim)
	rl.mu.Unlock()

	return lim.Allow()
}

// Middleware ограничивает запросы аутентифицированного субъекта.
// Запросы без claims пропускаются: их отклоняет JWT middleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				next.ServeHTTP(w, r)
				return
			}

			if !rl.Allow(claims.TenantID + "/" + claims.Subject) {
				rateLimitedTotal.Inc()
				retry := 1
				if rl.limit > 0 {
					retry = max(1, int(1/float64(rl.limit)))
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				apierrors.RateLimited(w, fmt.Sprintf("Превышен лимит запросов: %.2g в секунду", float64(rl.limit)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
