package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/checkout"
	"github.com/ariefcatur/go-flashsale-checkout/internal/config"
	"github.com/ariefcatur/go-flashsale-checkout/internal/httpx"
	"github.com/ariefcatur/go-flashsale-checkout/internal/idempotency"
	"github.com/ariefcatur/go-flashsale-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/go-flashsale-checkout/internal/kafka"
	"github.com/ariefcatur/go-flashsale-checkout/internal/logging"
	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
	"github.com/ariefcatur/go-flashsale-checkout/internal/payments"
	"github.com/ariefcatur/go-flashsale-checkout/internal/postgres"
	"github.com/ariefcatur/go-flashsale-checkout/internal/redisx"
	"github.com/ariefcatur/go-flashsale-checkout/internal/reservations"
	"github.com/ariefcatur/go-flashsale-checkout/internal/webhooks"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RunMigrations {
		if err := postgres.RunMigrations(cfg.PostgresDSN, log); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	statusCache := redisx.NewStatusCache(rdb, log)

	// Kafka producers, one per topic
	brokers := cfg.Brokers()
	emitter := kafkax.NewEmitter(cfg.ServiceName, log, map[string]*kafkax.Producer{
		orders.TopicReservations: kafkax.NewProducer(brokers, orders.TopicReservations, 1024, log),
		orders.TopicOrders:       kafkax.NewProducer(brokers, orders.TopicOrders, 1024, log),
		orders.TopicPayments:     kafkax.NewProducer(brokers, orders.TopicPayments, 1024, log),
	})
	emitter.Start(ctx)

	// Services
	resv := reservations.NewManager(db, emitter, log, cfg.ReservationTTL)
	co := checkout.NewCoordinator(db, emitter, statusCache, log)
	pay := payments.NewCoordinator(db, emitter, log)
	hooks := webhooks.NewIngestor(db, redisx.NewDedup(rdb, "webhook", log), statusCache, emitter, log)
	inv := inventory.NewService(db, log)
	broker := idempotency.NewBroker(db, log)

	if cfg.SweeperEnabled {
		sw := reservations.NewSweeper(db, emitter, log, cfg.SweepInterval, cfg.SweepBatchSize)
		go sw.Run(ctx)
	}

	// Router & handlers
	router := httpx.NewRouter(log, cfg.RequestTimeout)
	(&httpx.FlashSaleHandler{Reservations: resv, Log: log}).Register(router)
	(&httpx.CheckoutHandler{
		Checkout: co,
		Payments: pay,
		Idem:     idempotency.Runner[payments.IntentResult]{Broker: broker},
		Log:      log,
	}).Register(router)
	(&httpx.OrdersHandler{Orders: &orders.Repo{DB: db}, Cache: statusCache, Log: log}).Register(router)
	(&httpx.WebhooksHandler{Ingestor: hooks, Log: log}).Register(router)
	(&httpx.InventoryHandler{Inventory: inv, Log: log}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()        // stop sweeper
	emitter.Close() // flush producers
}
