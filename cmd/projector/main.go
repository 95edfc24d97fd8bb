package main

import (
	"context"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/projector"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/joho/godotenv"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logging.New("order-projector", "info").Error("config", "error", err)
		os.Exit(1)
	}
	name := cfg.ServiceName + "-projector"
	log := logging.New(name, cfg.LogLevel)
	if !cfg.EventsEnabled() {
		log.Error("KAFKA_BROKERS is required for the projector")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Error("redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}

	svc := &projector.Service{
		Cache: &redisx.StatusCache{RDB: rdb},
		Dedup: &redisx.Dedup{RDB: rdb, Service: name},
		Log:   log,
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, orders.AllTopics, cfg.ProjectorWorkers, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("projector started", "group", cfg.ProjectorGroup, "topics", orders.AllTopics, "workers", cfg.ProjectorWorkers)
		if err := cons.Start(ctx, svc.HandleOrderEvent); err != nil {
			log.Error("consumer exit", "error", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer...")
	cancel()
	<-done
}
