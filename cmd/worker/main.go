package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dentalcare/clinic-gateway/internal/audit"
	"github.com/dentalcare/clinic-gateway/internal/config"
	"github.com/dentalcare/clinic-gateway/internal/db"
	"github.com/dentalcare/clinic-gateway/internal/store/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// retryDelay is how long a failed delivery sits on the retry queue before
// it dead-letters back to the main queue.
const retryDelay = 10 * time.Second

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal("audit store connect failed", zap.Error(err))
	}
	if err := gdb.AutoMigrate(&audit.Entry{}); err != nil {
		logger.Fatal("audit store migrate failed", zap.Error(err))
	}

	processor := audit.NewProcessor(audit.NewRepo(gdb))

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Fatal("rabbit dial failed", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("rabbit channel failed", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		logger.Fatal("queue declare failed", zap.Error(err))
	}

	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Fatal("qos failed", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("consume failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("audit worker started",
		zap.String("queue", cfg.RabbitQueue),
		zap.Int("concurrency", concurrency))

	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				err := processor.Process(ctx, d.Body)
				switch audit.Classify(err) {
				case audit.DispositionAck:
					if err := d.Ack(false); err != nil {
						logger.Warn("ack failed",
							zap.Int("worker", workerID), zap.Error(err))
					}
				case audit.DispositionDead:
					// Nack without requeue dead-letters to the DLQ.
					logger.Error("poison audit payload",
						zap.Int("worker", workerID), zap.Error(err))
					_ = d.Nack(false, false)
				case audit.DispositionRetry:
					logger.Warn("audit store write failed, scheduling retry",
						zap.Int("worker", workerID), zap.Error(err))
					if pubErr := rabbitmq.ScheduleRetry(ctx, ch, cfg.RabbitQueue, d.Body, retryDelay); pubErr != nil {
						// Keep the delivery on the main queue rather than lose it.
						logger.Error("retry publish failed",
							zap.Int("worker", workerID), zap.Error(pubErr))
						_ = d.Nack(false, true)
						continue
					}
					_ = d.Ack(false)
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("audit worker shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			deliveries <- d
		}
	}
}
