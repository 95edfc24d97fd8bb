package main

import (
	"context"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/memstore"
	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.New("order-api", "info").Error("config", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.ServiceName, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	var (
		store   orders.Store
		reader  catalog.Reader
		cleanup = func() {}
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		ms := memstore.New()
		ms.LockPolicy = orders.LockPolicy(cfg.LockPolicy)
		ms.LockTimeout = cfg.LockTimeout
		if err := memstore.SeedDemo(ms); err != nil {
			log.Error("seed memory store", "error", err)
			os.Exit(1)
		}
		store, reader = ms, ms
		log.Warn("using in-memory store, data is lost on restart")
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.DBMaxConns)
		if err != nil {
			log.Error("db connect", "error", err)
			os.Exit(1)
		}
		cleanup = db.Close
		if cfg.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				log.Error("db migrate", "error", err)
				os.Exit(1)
			}
		}
		store = &orders.Repo{DB: db, LockPolicy: orders.LockPolicy(cfg.LockPolicy), LockTimeout: cfg.LockTimeout}
		reader = &catalog.Repo{DB: db}
	}
	defer cleanup()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Warn("redis unreachable, idempotency and status cache will degrade", "addr", cfg.RedisAddr, "error", err)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "order_api")

	svc := &orders.Service{Store: store, Metrics: m, Logger: log, Name: cfg.ServiceName}

	// Kafka producer
	var prod *kafkax.Producer
	if cfg.EventsEnabled() {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
		prod.Start()
		svc.Publisher = prod
	} else {
		log.Info("KAFKA_BROKERS empty, order events disabled")
	}

	// Handlers
	router := httpx.NewRouter(m)
	router.Handle("/metrics", metrics.Handler(reg))
	(&httpx.CatalogHandler{Catalog: reader, Log: log}).Register(router)
	(&httpx.OrdersHandler{
		Orders:  svc,
		Idem:    &redisx.Idempotency{RDB: rdb},
		Cache:   &redisx.StatusCache{RDB: rdb},
		Timeout: cfg.RequestTimeout,
		Log:     log,
	}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("HTTP listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "lock_policy", cfg.LockPolicy)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
}
