// Package middleware holds the HTTP middleware shared by the control
// plane: gzip compression and the optional signed-API-key check.
package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// APIKeyAuth validates the X-API-Key header as an HMAC-signed JWT. Keys
// carry a name claim for audit logging and an optional expiry; no user
// database is involved.
func APIKeyAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-API-Key")
		if raw == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing X-API-Key header"})
			c.Abort()
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid API key"})
			c.Abort()
			return
		}

		if name, ok := claims["name"].(string); ok {
			c.Set("api_key_name", name)
		}
		c.Next()
	}
}

// IssueAPIKey signs a named API key with the shared secret. Exposed for
// operator tooling and tests; there is no HTTP surface for key minting.
func IssueAPIKey(secret, name string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"name": name})
	return token.SignedString([]byte(secret))
}
