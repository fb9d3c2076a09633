package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/config"
	kafkax "github.com/ariefcatur/go-flashsale-checkout/internal/kafka"
	"github.com/ariefcatur/go-flashsale-checkout/internal/logging"
	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
	"github.com/ariefcatur/go-flashsale-checkout/internal/postgres"
	"github.com/ariefcatur/go-flashsale-checkout/internal/redisx"
	"github.com/ariefcatur/go-flashsale-checkout/internal/reservations"
	"github.com/ariefcatur/go-flashsale-checkout/internal/webhooks"
)

// worker runs the reservation sweeper and consumes provider payment events from Kafka.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName+"-worker")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	brokers := cfg.Brokers()
	emitter := kafkax.NewEmitter(cfg.ServiceName+"-worker", log, map[string]*kafkax.Producer{
		orders.TopicReservations: kafkax.NewProducer(brokers, orders.TopicReservations, 1024, log),
		orders.TopicPayments:     kafkax.NewProducer(brokers, orders.TopicPayments, 1024, log),
	})
	emitter.Start(ctx)

	hooks := webhooks.NewIngestor(db, redisx.NewDedup(rdb, "webhook", log), redisx.NewStatusCache(rdb, log), emitter, log)
	cons := kafkax.NewConsumer(brokers, cfg.PaymentEventsGroup, orders.TopicPaymentProviderEvents, cfg.PaymentEventsWorkers, log)

	var wg sync.WaitGroup
	if cfg.SweeperEnabled {
		sw := reservations.NewSweeper(db, emitter, log, cfg.SweepInterval, cfg.SweepBatchSize)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sw.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("payment event consumer started",
			zap.String("group", cfg.PaymentEventsGroup),
			zap.String("topic", orders.TopicPaymentProviderEvents),
			zap.Int("workers", cfg.PaymentEventsWorkers))
		if err := cons.Start(ctx, hooks.HandleMessage); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down worker")
	cancel()
	wg.Wait()
	emitter.Close()
}
