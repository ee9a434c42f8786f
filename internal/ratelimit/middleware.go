package ratelimit

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/sentinel-gate/internal/auth"
	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/httputil"
	"github.com/af-corp/sentinel-gate/internal/telemetry"
)

const (
	defaultRPM = 60

	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
	headerRetryAfter                 = "Retry-After"
)

// Middleware returns chi middleware that enforces a per-key requests-per-minute
// limit. Unauthenticated requests are limited per client address.
func Middleware(limiter *Limiter, cfg func() config.RateLimitConfig, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := cfg()
			if !c.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			reqID := w.Header().Get("X-Request-ID")

			rpm := c.RequestsPerMinute
			if rpm <= 0 {
				rpm = defaultRPM
			}
			bucket, prefix := "ip:"+clientIP(r), "anonymous"
			if info, ok := auth.AuthFromContext(r.Context()); ok {
				bucket, prefix = "key:"+info.KeyID, info.KeyPrefix
				if info.RPMLimit != nil && *info.RPMLimit > 0 {
					rpm = *info.RPMLimit
				}
			}

			result, err := limiter.Check(r.Context(), "rpm:"+bucket, int64(rpm), time.Minute)
			if err != nil {
				slog.Warn("rate limiter unavailable", "request_id", reqID, "fail_open", c.FailOpen, "error", err)
				if !c.FailOpen {
					httputil.WriteServiceUnavailableError(w, reqID, "Rate limiter unavailable")
					return
				}
			}

			w.Header().Set(headerRateLimitRequests, strconv.Itoa(rpm))
			w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(result.Remaining, 10))
			w.Header().Set(headerRateLimitReset, result.ResetAt.Format(time.RFC3339))

			if !result.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", reqID,
					"bucket", bucket,
					"limit", rpm,
				)
				metrics.RecordRateLimitHit(prefix)
				w.Header().Set(headerRetryAfter, strconv.Itoa(int(result.RetryAfter.Seconds())))
				httputil.WriteRateLimitError(w, reqID,
					fmt.Sprintf("Rate limit exceeded: %d requests per minute. Retry after %s", rpm, result.ResetAt.Format(time.RFC3339)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
