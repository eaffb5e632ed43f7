package middleware

import (
	"errors"
	"net/http"

	"github.com/dentalcare/clinic-gateway/internal/auth"
	"github.com/dentalcare/clinic-gateway/internal/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ClaimsKey = "session_claims"
	TokenKey  = "session_token"
)

// AuthRequired verifies the session cookie before any handler work happens.
// Missing and invalid credentials produce the same response body; only the
// logs tell them apart.
func AuthRequired(verifier *auth.Verifier, cookieName string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(cookieName)

		claims, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrMissingCredential) {
				log.Warn("no session credential presented",
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", GetRequestID(c)))
			} else {
				log.Warn("session credential rejected",
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", GetRequestID(c)))
			}
			common.Error(c, http.StatusUnauthorized, "not authenticated")
			c.Abort()
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(TokenKey, token)
		c.Next()
	}
}

// SessionFromContext returns the claims and raw token stored by AuthRequired.
func SessionFromContext(c *gin.Context) (auth.Claims, string, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return auth.Claims{}, "", false
	}
	claims, ok := v.(auth.Claims)
	if !ok {
		return auth.Claims{}, "", false
	}
	t, _ := c.Get(TokenKey)
	token, _ := t.(string)
	return claims, token, true
}
