package handlers

import (
	"context"
	"time"

	"github.com/dentalcare/clinic-gateway/internal/audit"
	"github.com/dentalcare/clinic-gateway/internal/auth"
	"github.com/dentalcare/clinic-gateway/internal/config"
	"github.com/dentalcare/clinic-gateway/internal/upstream"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TokenRevoker records signed-out tokens (redis in production).
type TokenRevoker interface {
	RevokeToken(ctx context.Context, token string, ttl time.Duration) error
}

// EventPublisher enqueues relay audit events (rabbitmq in production).
type EventPublisher interface {
	Publish(ctx context.Context, ev audit.Event) error
}

type Handler struct {
	Cfg     config.Config
	Backend *upstream.Client
	// Revoker and Audit are optional; nil disables the concern.
	Revoker TokenRevoker
	Audit   EventPublisher
	Log     *zap.Logger

	// verifier inspects tokens at signout; it carries no denylist because
	// a token being revoked needs no revocation check of its own.
	verifier *auth.Verifier
}

func NewHandler(cfg config.Config, backend *upstream.Client, revoker TokenRevoker, publisher EventPublisher, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Cfg:      cfg,
		Backend:  backend,
		Revoker:  revoker,
		Audit:    publisher,
		Log:      log,
		verifier: auth.NewVerifier(cfg.JWTSecret, nil),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(200, gin.H{"message": "pong"})
}
