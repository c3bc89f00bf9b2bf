package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/schedule-seat-reservation/internal/config"
)

// bucketScript refills the bucket continuously at ARGV[3] tokens per
// millisecond up to ARGV[2] and takes one token.  It returns
// {allowed, whole tokens left, ms until the next token}.
var bucketScript = redis.NewScript(`
local burst = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local now = tonumber(ARGV[1])

local b = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(b[1]) or burst
local ts = tonumber(b[2]) or now
if now > ts then
	tokens = math.min(burst, tokens + (now - ts) * rate)
end

local allowed, wait = 0, 0
if tokens >= 1 then
	allowed = 1
	tokens = tokens - 1
elseif rate > 0 then
	wait = math.ceil((1 - tokens) / rate)
else
	wait = tonumber(ARGV[4])
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return { allowed, math.floor(tokens), wait }
`)

// NewTokenBucket limits requests with a Redis token bucket per key.  The
// key is built from the parts named in config.RateLimitConfig.KeyStrategy.
// Redis failures let the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if log == nil {
		log = zap.NewNop()
	}
	parts := keyParts(cfg.KeyStrategy)
	rate := "0"
	if ms := cfg.RefillInterval.Milliseconds(); ms > 0 {
		rate = strconv.FormatFloat(float64(cfg.RefillTokens)/float64(ms), 'g', -1, 64)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(cfg, parts, c)
			args := []interface{}{time.Now().UnixMilli(), cfg.Capacity, rate, cfg.TTL.Milliseconds()}

			vals, err := bucketScript.Run(c.Request().Context(), rdb, []string{key}, args...).Int64Slice()
			if err != nil || len(vals) != 3 {
				log.Warn("ratelimit: script failed, allowing request", zap.String("key", key), zap.Error(err))
				return next(c)
			}
			allowed, remaining, retryMs := vals[0] == 1, vals[1], vals[2]

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if !allowed {
				secs := int(math.Ceil(float64(retryMs) / 1000.0))
				if secs < 0 {
					secs = 0
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				if cfg.Debug {
					log.Info("ratelimit: blocked", zap.String("key", key), zap.Int64("retry_ms", retryMs))
				}
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too_many_requests",
					"message":     "rate limit exceeded",
					"retry_after": secs,
				})
			}
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			return next(c)
		}
	}
}

// keyParts splits a strategy such as "user_schedule" or "ip,route" into
// its parts.  Unknown parts are ignored; an empty result means
// user and schedule.
func keyParts(strategy string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(strings.ToLower(strategy), func(r rune) bool { return r == '_' || r == ',' }) {
		switch p {
		case "ip", "user", "route", "schedule":
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"user", "schedule"}
	}
	return out
}

// rateKey renders the bucket key of a request.  The schedule part uses the
// :id of /schedules/:id routes and falls back to the route elsewhere, so
// one busy schedule does not drain a user's budget on the others.
func rateKey(cfg config.RateLimitConfig, parts []string, c echo.Context) string {
	key := []string{cfg.Prefix}
	for _, p := range parts {
		switch p {
		case "ip":
			ip := c.RealIP()
			if ip == "" {
				ip = "unknown"
			}
			key = append(key, "ip", ip)
		case "user":
			key = append(key, "user", userID(c))
		case "route":
			key = append(key, "route", c.Request().Method+" "+c.Path())
		case "schedule":
			if id := scheduleParam(c); id != "" {
				key = append(key, "schedule", id)
			} else {
				key = append(key, "route", c.Request().Method+" "+c.Path())
			}
		}
	}
	return strings.Join(key, ":")
}

func scheduleParam(c echo.Context) string {
	if !strings.Contains(c.Path(), "/schedules/:id") {
		return ""
	}
	return c.Param("id")
}
