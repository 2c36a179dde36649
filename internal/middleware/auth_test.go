package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func testAuthConfig() *config.Config {
	return &config.Config{JWTSecret: testSecret, JWTIssuer: "marketplace-api", JWTAudience: "marketplace-client"}
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func validClaims(userID uint) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"iss": "marketplace-api",
		"aud": "marketplace-client",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func TestRequireCaller(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, mr.Set("blacklist:revoked-jti", "1"))

	gw := NewAuthGateway(testAuthConfig(), rdb)
	app := fiber.New()
	app.Get("/test", gw.RequireCaller(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"userID": c.Locals("userID")})
	})

	expired := validClaims(5)
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongIssuer := validClaims(5)
	wrongIssuer["iss"] = "someone-else"
	wrongAudience := validClaims(5)
	wrongAudience["aud"] = "other-client"
	zeroSubject := validClaims(5)
	zeroSubject["sub"] = "0"
	revoked := validClaims(5)
	revoked["jti"] = "revoked-jti"

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedUserID uint
	}{
		{"Happy Path", "Bearer " + signToken(t, validClaims(123)), http.StatusOK, 123},
		{"Missing Header", "", http.StatusUnauthorized, 0},
		{"Invalid Format", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, 0},
		{"Malformed Token", "Bearer malformed.token.here", http.StatusUnauthorized, 0},
		{"Expired Token", "Bearer " + signToken(t, expired), http.StatusUnauthorized, 0},
		{"Wrong Issuer", "Bearer " + signToken(t, wrongIssuer), http.StatusUnauthorized, 0},
		{"Wrong Audience", "Bearer " + signToken(t, wrongAudience), http.StatusUnauthorized, 0},
		{"Zero Subject", "Bearer " + signToken(t, zeroSubject), http.StatusUnauthorized, 0},
		{"Revoked Token", "Bearer " + signToken(t, revoked), http.StatusUnauthorized, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusOK {
				var body map[string]any
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, float64(tt.expectedUserID), body["userID"])
				return
			}
			var body models.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, models.CodeUnauthenticated, body.Code)
		})
	}
}

func TestRequireCaller_RejectsNoneAlgorithm(t *testing.T) {
	gw := NewAuthGateway(testAuthConfig(), nil)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims(1)).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = gw.ParseToken(context.Background(), token)
	assert.Error(t, err)
}

func TestTicketRequired_SingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gw := NewAuthGateway(testAuthConfig(), rdb)

	ticket, err := gw.IssueTicket(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "42", mustGet(t, mr, "ws_ticket:"+ticket))
	assert.Equal(t, WSTicketTTL, mr.TTL("ws_ticket:"+ticket))

	app := fiber.New()
	app.Get("/feed", gw.TicketRequired(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"userID": c.Locals("userID")})
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/feed?ticket="+ticket, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/feed?ticket="+ticket, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/feed", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestIssueTicket_WithoutRedis(t *testing.T) {
	gw := NewAuthGateway(testAuthConfig(), nil)
	_, err := gw.IssueTicket(context.Background(), 1)
	assert.ErrorIs(t, err, ErrTicketUnavailable)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
