package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"sacco/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const actorKey = "actor"

// TokenTTL is how long an issued session token stays valid.
const TokenTTL = 24 * time.Hour

type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 session token for the user.
func IssueToken(secret []byte, userID int64, role string, now time.Time) (string, error) {
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates signature, algorithm and expiry.
func ParseToken(secret []byte, raw string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, err
	}
	if claims.UserID <= 0 {
		return Claims{}, errors.New("token has no user")
	}
	return claims, nil
}

// AuthRequired rejects requests without a valid bearer token and stores the
// caller for handlers.
func AuthRequired(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abortAuth(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := ParseToken(secret, strings.TrimSpace(raw))
		if err != nil {
			abortAuth(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		c.Set(actorKey, domain.Actor{UserID: claims.UserID, Role: claims.Role})
		c.Next()
	}
}

// RequireRoles must run after AuthRequired.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			abortAuth(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		abortAuth(c, http.StatusForbidden, "insufficient role")
	}
}

func ActorFrom(c *gin.Context) (domain.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return domain.Actor{}, false
	}
	a, ok := v.(domain.Actor)
	return a, ok
}

func abortAuth(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      msg,
		"code":       http.StatusText(status),
		"request_id": GetRequestID(c),
	})
}
