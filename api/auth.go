package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowstudio/authz/core/rebac"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const subjectKey = "subject"

// Claims are the bearer token claims. The subject is the authenticated
// FlowStudio user.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 bearer tokens issued by the FlowStudio
// identity service.
type TokenVerifier struct {
	secret []byte
	method jwt.SigningMethod
}

// NewTokenVerifier creates a verifier for tokens signed with secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), method: jwt.SigningMethodHS256}
}

// Issue signs a token for subjectID. It backs the CLI's local token minting
// and tests; production tokens come from the identity service.
func (v *TokenVerifier) Issue(subjectID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(v.method, claims).SignedString(v.secret)
}

// Verify parses tokenString and returns its subject.
func (v *TokenVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != v.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// AuthMiddleware requires a valid bearer token and stores its subject on the
// request context.
func (h *Handler) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			return h.Error(c, rebac.Unauthorized())
		}

		subject, err := h.tokens.Verify(token)
		if err != nil {
			h.log.Debug("rejected bearer token", zap.Error(err))
			return h.Error(c, rebac.Unauthorized())
		}

		c.Set(subjectKey, subject)
		return next(c)
	}
}

// Subject returns the authenticated subject of the request, or "".
func Subject(c echo.Context) string {
	s, _ := c.Get(subjectKey).(string)
	return s
}

// RequireAdmin is an echo middleware that admits only system administrators.
// It must run after AuthMiddleware.
func (h *Handler) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := h.authz.RequireAdmin(c.Request().Context(), Subject(c)); err != nil {
			return h.Error(c, err)
		}
		return next(c)
	}
}
