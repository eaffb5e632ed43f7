package httpapi

import (
	"net/http"

	"github.com/dentalcare/clinic-gateway/internal/auth"
	"github.com/dentalcare/clinic-gateway/internal/common"
	"github.com/dentalcare/clinic-gateway/internal/config"
	"github.com/dentalcare/clinic-gateway/internal/httpapi/handlers"
	"github.com/dentalcare/clinic-gateway/internal/httpapi/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func NewRouter(cfg config.Config, h *handlers.Handler, verifier *auth.Verifier, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Error(c, http.StatusNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Error(c, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	api := r.Group("/api")

	// Credential issuance is backend-owned; these run unauthenticated.
	api.POST("/signin", h.Signin)
	api.POST("/signup", h.Signup)
	api.POST("/auth/signout", h.Signout)

	authed := api.Group("/")
	authed.Use(middleware.AuthRequired(verifier, cfg.CookieName, log))

	authed.GET("/auth/me", h.Me)

	authed.GET("/patients", h.ListPatients)
	authed.POST("/patients", h.CreatePatient)
	authed.PUT("/patients/:id", h.UpdatePatient)
	authed.DELETE("/patients/:id", h.DeletePatient)

	authed.POST("/chat", h.ChatRelay)
	authed.GET("/chat/history", h.ChatHistory)

	return r
}
