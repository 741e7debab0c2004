// Command notifier drains the auction.notifications queue and renders
// each message to the notification log.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/iliyamo/auction-house/internal/config"
	"github.com/iliyamo/auction-house/internal/logger"
	"github.com/iliyamo/auction-house/internal/queue"
)

func main() {
	config.LoadDotEnv()
	ncfg := config.LoadNotifyConfig()
	_, syncLog := logger.Init(os.Getenv("APP_ENV"))
	defer syncLog()

	if ncfg.RabbitURL == "" {
		zap.L().Fatal("RABBITMQ_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := queue.StartNotificationConsumer(ctx, queue.ConsumerConfig{
		URL:    ncfg.RabbitURL,
		LogDir: ncfg.LogDir,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		zap.L().Fatal("notification consumer", zap.Error(err))
	}
	zap.L().Info("notification consumer stopped")
}
