package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/schedule-seat-reservation/internal/config"
	"github.com/iliyamo/schedule-seat-reservation/internal/model"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func do(e *echo.Echo, method, path, token string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	var got model.Actor
	e.GET("/me", func(c echo.Context) error {
		got = ActorFrom(c)
		return c.NoContent(http.StatusOK)
	}, JWTAuth(testSecret))

	exp := time.Now().Add(time.Hour).Unix()
	tests := []struct {
		name   string
		token  string
		status int
		actor  model.Actor
	}{
		{name: "no token", status: http.StatusUnauthorized},
		{name: "wrong secret", token: signToken(t, "other", jwt.MapClaims{"sub": "u1", "exp": exp}), status: http.StatusUnauthorized},
		{name: "expired", token: signToken(t, testSecret, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()}), status: http.StatusUnauthorized},
		{name: "no subject", token: signToken(t, testSecret, jwt.MapClaims{"role": "ADMIN", "exp": exp}), status: http.StatusUnauthorized},
		{
			name:   "valid",
			token:  signToken(t, testSecret, jwt.MapClaims{"sub": "u1", "role": "owner", "exp": exp}),
			status: http.StatusOK,
			actor:  model.Actor{UserID: "u1", Role: model.RoleOwner},
		},
		{
			name:   "legacy user_id claim",
			token:  signToken(t, testSecret, jwt.MapClaims{"user_id": "u2", "exp": exp}),
			status: http.StatusOK,
			actor:  model.Actor{UserID: "u2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = model.Actor{}
			rec := do(e, http.MethodGet, "/me", tt.token)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.actor, got)
		})
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	e.PUT("/admin", ok, JWTAuth(testSecret), RequireRole(model.RoleOwner, model.RoleAdmin))

	customer := signToken(t, testSecret, jwt.MapClaims{"sub": "u1", "role": model.RoleCustomer})
	owner := signToken(t, testSecret, jwt.MapClaims{"sub": "u2", "role": model.RoleOwner})

	assert.Equal(t, http.StatusForbidden, do(e, http.MethodPut, "/admin", customer).Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodPut, "/admin", owner).Code)
}

func TestTokenBucket(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Hour,
		TTL: time.Hour, KeyStrategy: "ip_route", Prefix: "rl",
	}
	e := echo.New()
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(cfg, rdb, nil))

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ping", "").Code)
	rec := do(e, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = do(e, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestTokenBucket_OneBucketPerSchedule(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Hour,
		TTL: time.Hour, KeyStrategy: "user_schedule", Prefix: "rl",
	}
	e := echo.New()
	e.POST("/schedules/:id/reservations", func(c echo.Context) error { return c.NoContent(http.StatusCreated) },
		NewTokenBucket(cfg, rdb, nil))

	assert.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/schedules/s1/reservations", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(e, http.MethodPost, "/schedules/s1/reservations", "").Code)
	assert.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/schedules/s2/reservations", "").Code)
}

func TestRateKey(t *testing.T) {
	e := echo.New()
	newCtx := func(path, id string) echo.Context {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
		c := e.NewContext(req, httptest.NewRecorder())
		c.SetPath(path)
		if id != "" {
			c.SetParamNames("id")
			c.SetParamValues(id)
		}
		c.Set(ctxUserID, "u1")
		return c
	}
	cfg := config.RateLimitConfig{Prefix: "rl"}

	tests := []struct {
		strategy string
		path, id string
		want     string
	}{
		{"", "/v1/schedules/:id/reservations", "s1", "rl:user:u1:schedule:s1"},
		{"user_schedule", "/v1/reservations/:id", "r1", "rl:user:u1:route:POST /v1/reservations/:id"},
		{"ip,route", "/v1/reservations", "", "rl:ip:10.0.0.1:route:POST /v1/reservations"},
		{"ip_user_route", "/v1/reservations", "", "rl:ip:10.0.0.1:user:u1:route:POST /v1/reservations"},
		{"bogus", "/v1/schedules/:id/availability", "s9", "rl:user:u1:schedule:s9"},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			assert.Equal(t, tt.want, rateKey(cfg, keyParts(tt.strategy), newCtx(tt.path, tt.id)))
		})
	}
}

func TestTokenBucket_RedisDownAllows(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Hour, TTL: time.Hour, Prefix: "rl"}
	e := echo.New()
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(cfg, rdb, nil))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ping", "").Code)
	}
}

func TestRedisCache(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.CacheConfig{
		Enabled: true, Methods: map[string]bool{http.MethodGet: true}, TTL: time.Minute,
		KeyStrategy: "route_query", Prefix: "cache", MaxBodyBytes: 1 << 10,
	}
	calls := 0
	e := echo.New()
	e.GET("/schedules/:id/availability", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"schedule_id": c.Param("id"), "calls": calls})
	}, NewRedisCache(cfg, rdb, nil))
	e.GET("/missing", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}, NewRedisCache(cfg, rdb, nil))

	first := do(e, http.MethodGet, "/schedules/s1/availability", "")
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	second := do(e, http.MethodGet, "/schedules/s1/availability", "")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)

	other := do(e, http.MethodGet, "/schedules/s2/availability", "")
	assert.Equal(t, "MISS", other.Header().Get("X-Cache"), "path is part of the key")

	bypass := do(e, http.MethodGet, "/schedules/s1/availability", "", "Cache-Control", "no-cache")
	assert.Equal(t, "BYPASS", bypass.Header().Get("X-Cache"))
	assert.Equal(t, 3, calls)

	do(e, http.MethodGet, "/missing", "")
	rec := do(e, http.MethodGet, "/missing", "")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"), "errors are not cached")
	assert.Equal(t, 5, calls)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	e := echo.New()
	e.Use(RequestLogger(zap.New(core)))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusServiceUnavailable, "down") })

	do(e, http.MethodGet, "/ok", "")
	rec := do(e, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.Equal(t, 1, logs.FilterMessage("request completed").Len())
	errs := logs.FilterMessage("server error").All()
	require.Len(t, errs, 1)
	assert.Equal(t, int64(http.StatusServiceUnavailable), errs[0].ContextMap()["status"])
	assert.Equal(t, "/boom", errs[0].ContextMap()["route"])
}
