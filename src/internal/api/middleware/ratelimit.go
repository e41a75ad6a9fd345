package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

// RateLimit returns a per-client-IP rate limiting middleware. Limiters
// for idle IPs are evicted after an hour.
func RateLimit(cfg *viper.Viper) echo.MiddlewareFunc {
	rps := cfg.GetFloat64("server.rate_limit.rps")
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.GetInt("server.rate_limit.burst")
	if burst <= 0 {
		burst = 20
	}

	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var mu sync.Mutex
	visitors := make(map[string]*visitor)

	get := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		v, ok := visitors[ip]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			visitors[ip] = v
		}
		v.lastSeen = now

		for addr, vis := range visitors {
			if now.Sub(vis.lastSeen) > time.Hour {
				delete(visitors, addr)
			}
		}
		return v.limiter
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !get(c.RealIP()).Allow() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
