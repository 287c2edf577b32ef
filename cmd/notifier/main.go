package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/marketplace-orders/internal/config"
	kafkax "github.com/ariefcatur/marketplace-orders/internal/kafka"
	"github.com/ariefcatur/marketplace-orders/internal/logger"
	"github.com/ariefcatur/marketplace-orders/internal/notify"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/ariefcatur/marketplace-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zlog, err := logger.NewZapLog(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &notify.Service{
		Redis:       rdb,
		Log:         zlog,
		ServiceName: cfg.NotifierGroup,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.Topics, cfg.NotifierWorkers, zlog)
	zlog.Info("notifier started",
		zap.String("group", cfg.NotifierGroup),
		zap.Strings("topics", orders.Topics),
		zap.Int("workers", cfg.NotifierWorkers))

	if err := cons.Start(ctx, svc.HandleOrderEvent); err != nil {
		zlog.Error("consumer exit", zap.Error(err))
		return
	}
	zlog.Info("notifier stopped")
}
