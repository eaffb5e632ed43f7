package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/dentalcare/clinic-gateway/internal/common"
	"github.com/dentalcare/clinic-gateway/internal/httpapi/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const sessionCookieMaxAge = 30 * time.Minute

// backendAuthResult is the part of the backend's auth responses the gateway
// looks at; everything else is forwarded untouched.
type backendAuthResult struct {
	AccessToken string `json:"access_token"`
	Message     string `json:"message"`
}

// Signin forwards credentials to the backend and, on success, moves the
// issued token into an HttpOnly cookie so the browser never sees it.
func (h *Handler) Signin(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.Backend.Signin(c.Request.Context(), bytes.NewReader(body))
	if err != nil {
		h.Log.Error("signin upstream call failed", zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(c)))
		common.Error(c, http.StatusBadGateway, "failed to reach auth backend")
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		common.Error(c, http.StatusBadGateway, "failed to read auth backend response")
		return
	}

	var result backendAuthResult
	_ = json.Unmarshal(respBody, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := result.Message
		if msg == "" {
			msg = "signin failed"
		}
		common.Error(c, resp.StatusCode, msg)
		return
	}

	if result.AccessToken == "" {
		h.Log.Error("auth backend returned success without a token",
			zap.Int("status", resp.StatusCode))
		common.Error(c, http.StatusInternalServerError, "no token received from backend")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.Cfg.CookieName, result.AccessToken,
		int(sessionCookieMaxAge.Seconds()), "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{"message": "signin successful"})
}

// Signup is a verbatim passthrough; account creation is backend-owned.
func (h *Handler) Signup(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.Backend.Signup(c.Request.Context(), bytes.NewReader(body))
	if err != nil {
		h.Log.Error("signup upstream call failed", zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(c)))
		common.Error(c, http.StatusBadGateway, "failed to reach auth backend")
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		common.Error(c, http.StatusBadGateway, "failed to read auth backend response")
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var result backendAuthResult
		_ = json.Unmarshal(respBody, &result)
		msg := result.Message
		if msg == "" {
			msg = "signup failed"
		}
		common.Error(c, resp.StatusCode, msg)
		return
	}

	c.Data(http.StatusOK, "application/json", respBody)
}

// Signout clears the session cookie and, best effort, denylists the token
// until its natural expiry so it cannot be replayed.
func (h *Handler) Signout(c *gin.Context) {
	token, _ := c.Cookie(h.Cfg.CookieName)

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.Cfg.CookieName, "", -1, "/", "", true, true)

	if token != "" && h.Revoker != nil {
		if claims, err := h.verifier.Verify(c.Request.Context(), token); err != nil {
			// An unverifiable token cannot be replayed; nothing to denylist.
			h.Log.Debug("skipping denylist for unverifiable token", zap.Error(err))
		} else {
			// Zero ttl lets the store apply its own default.
			var ttl time.Duration
			if !claims.ExpiresAt.IsZero() {
				ttl = time.Until(claims.ExpiresAt)
			}
			if err := h.Revoker.RevokeToken(c.Request.Context(), token, ttl); err != nil {
				// The cookie is gone either way; revocation is defense in depth.
				h.Log.Warn("failed to denylist token at signout", zap.Error(err))
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "signed out"})
}

// Me reports the signed-in identity. Runs behind AuthRequired.
func (h *Handler) Me(c *gin.Context) {
	claims, _, ok := middleware.SessionFromContext(c)
	if !ok {
		common.Error(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": claims.Subject})
}
