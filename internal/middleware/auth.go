// Package middleware provides request-scoped logging, tracing, authentication,
// rate limiting and metrics for the HTTP layer.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// WSTicketTTL bounds how long an issued websocket ticket stays redeemable.
	WSTicketTTL     = 30 * time.Second
	wsTicketPrefix  = "ws_ticket:"
	blacklistPrefix = "blacklist:"
)

// ErrTicketUnavailable is returned when tickets cannot be issued without Redis.
var ErrTicketUnavailable = errors.New("websocket tickets require redis")

// AuthGateway resolves the caller identity of a request from a bearer JWT.
// It never authenticates credentials itself; tokens are minted elsewhere.
type AuthGateway struct {
	secret   []byte
	issuer   string
	audience string
	redis    *redis.Client
}

// NewAuthGateway creates a gateway for tokens signed with cfg.JWTSecret. A
// nil redis client disables revocation checks and websocket tickets.
func NewAuthGateway(cfg *config.Config, rdb *redis.Client) *AuthGateway {
	return &AuthGateway{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		redis:    rdb,
	}
}

// ParseToken validates tokenString and returns the user id in its subject.
func (g *AuthGateway) ParseToken(ctx context.Context, tokenString string) (uint, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}
	if g.audience != "" {
		opts = append(opts, jwt.WithAudience(g.audience))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return g.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("invalid token claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return 0, errors.New("invalid subject claim")
	}
	userID, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || userID == 0 {
		return 0, errors.New("invalid user id in token")
	}

	if jti, ok := claims["jti"].(string); ok && jti != "" && g.redis != nil {
		revoked, err := g.redis.Exists(ctx, blacklistPrefix+jti).Result()
		if err == nil && revoked > 0 {
			return 0, errors.New("token has been revoked")
		}
	}
	return uint(userID), nil
}

// ResolveCallerID returns the caller of c, if the request carries a valid
// bearer token.
func (g *AuthGateway) ResolveCallerID(c *fiber.Ctx) (uint, bool) {
	if id, ok := c.Locals("userID").(uint); ok && id != 0 {
		return id, true
	}
	parts := strings.Fields(c.Get("Authorization"))
	if len(parts) != 2 || parts[0] != "Bearer" {
		return 0, false
	}
	userID, err := g.ParseToken(c.UserContext(), parts[1])
	if err != nil {
		return 0, false
	}
	return userID, true
}

func setCaller(c *fiber.Ctx, userID uint) {
	c.Locals("userID", userID)
	c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, userID))
}

// RequireCaller rejects requests without a resolvable caller with 401.
func (g *AuthGateway) RequireCaller() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := g.ResolveCallerID(c)
		if !ok {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthenticatedError("Authorization required"))
		}
		setCaller(c, userID)
		return c.Next()
	}
}

// IssueTicket stores a single-use websocket ticket for userID.
func (g *AuthGateway) IssueTicket(ctx context.Context, userID uint) (string, error) {
	if g.redis == nil {
		return "", ErrTicketUnavailable
	}
	ticket := uuid.NewString()
	if err := g.redis.Set(ctx, wsTicketPrefix+ticket, strconv.FormatUint(uint64(userID), 10), WSTicketTTL).Err(); err != nil {
		return "", fmt.Errorf("store ws ticket: %w", err)
	}
	return ticket, nil
}

// TicketRequired redeems the ?ticket= query parameter. The ticket is
// deleted on first use.
func (g *AuthGateway) TicketRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ticket := c.Query("ticket")
		if ticket == "" || g.redis == nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthenticatedError("WebSocket ticket required"))
		}
		raw, err := g.redis.GetDel(c.UserContext(), wsTicketPrefix+ticket).Result()
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthenticatedError("Invalid or expired WebSocket ticket"))
		}
		userID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || userID == 0 {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthenticatedError("Invalid or expired WebSocket ticket"))
		}
		setCaller(c, uint(userID))
		return c.Next()
	}
}
