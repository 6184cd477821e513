package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru"

	"github.com/cursewell/cursewell/web/models"
	"github.com/cursewell/cursewell/web/utils"
)

const sessionCacheSize = 1024

var errBadToken = errors.New("invalid or expired token")

type sessionClaims struct {
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
	jwt.RegisteredClaims
}

// Auth verifies bearer tokens and attaches the caller identity to the
// request. Verified tokens are kept in a small LRU so repeated requests
// from the same client skip signature checks until the token expires.
type Auth struct {
	secret string
	cache  *lru.Cache
}

type cachedSession struct {
	session   *models.UserSession
	expiresAt time.Time
}

func NewAuth(secret string) *Auth {
	cache, err := lru.New(sessionCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create session cache: %v", err))
	}
	return &Auth{secret: secret, cache: cache}
}

// SignToken issues a bearer token for the given identity.
func (a *Auth) SignToken(session *models.UserSession, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Username: session.Username,
		Admin:    session.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(session.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.secret))
}

// VerifyToken checks a bearer token and returns the identity it carries.
func (a *Auth) VerifyToken(token string) (*models.UserSession, error) {
	if entry, ok := a.cache.Get(token); ok {
		cached := entry.(cachedSession)
		if time.Now().Before(cached.expiresAt) {
			return cached.session, nil
		}
		a.cache.Remove(token)
	}

	claims := new(sessionClaims)
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(a.secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return nil, errBadToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, errBadToken
	}

	session := &models.UserSession{
		UserID:   userID,
		Username: claims.Username,
		Admin:    claims.Admin,
	}
	if claims.ExpiresAt != nil {
		a.cache.Add(token, cachedSession{session: session, expiresAt: claims.ExpiresAt.Time})
	}
	return session, nil
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	header := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(header, "Bearer "), true
}

// Required rejects requests without a valid bearer token.
func (a *Auth) Required() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := bearerToken(c)
		if !ok {
			return utils.SendUnauthorized(c, "Missing bearer token")
		}

		session, err := a.VerifyToken(token)
		if err != nil {
			slog.Debug("Auth required: invalid token",
				slog.String("type", "http"),
				slog.String("error", err.Error()))
			return utils.SendUnauthorized(c, "Unauthorized request")
		}

		c.Locals("user", session)
		return c.Next()
	}
}

// Optional attaches the identity when a valid token is present but lets
// anonymous requests through.
func (a *Auth) Optional() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token, ok := bearerToken(c); ok {
			if session, err := a.VerifyToken(token); err == nil {
				c.Locals("user", session)
			}
		}
		return c.Next()
	}
}

// AdminRequired ensures the authenticated user has admin privileges. Must
// run after Required.
func AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		session, ok := utils.ExtractUserSession(c)
		if !ok {
			return utils.SendForbidden(c, "Access denied")
		}
		if !session.Admin {
			slog.Warn("Admin required: user lacks admin privileges",
				slog.String("type", "http"),
				slog.Int64("user_id", session.UserID),
				slog.String("username", session.Username))
			return utils.SendForbidden(c, "Admin access required")
		}
		return c.Next()
	}
}
