package main

import (
	"github.com/dentalcare/clinic-gateway/internal/auth"
	"github.com/dentalcare/clinic-gateway/internal/config"
	"github.com/dentalcare/clinic-gateway/internal/httpapi"
	"github.com/dentalcare/clinic-gateway/internal/httpapi/handlers"
	"github.com/dentalcare/clinic-gateway/internal/store/rabbitmq"
	"github.com/dentalcare/clinic-gateway/internal/store/redisstore"
	"github.com/dentalcare/clinic-gateway/internal/upstream"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	verifier := auth.NewVerifier(cfg.JWTSecret, rds)
	backend := upstream.NewClient(cfg.BackendEndpoint)

	// Audit publishing is best effort; a missing broker degrades the audit
	// trail, not the gateway.
	var publisher handlers.EventPublisher
	if pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue); err != nil {
		logger.Warn("audit publisher unavailable, relay events will be dropped",
			zap.Error(err), zap.String("url", cfg.RabbitURL))
	} else {
		publisher = pub
		defer pub.Close()
	}

	h := handlers.NewHandler(cfg, backend, rds, publisher, logger)
	r := httpapi.NewRouter(cfg, h, verifier, logger)

	logger.Info("starting gateway",
		zap.String("addr", cfg.ListenAddr),
		zap.String("backend", cfg.BackendEndpoint))
	if err := r.Run(cfg.ListenAddr); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
