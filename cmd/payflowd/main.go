package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"payflow/internal/application"
	"payflow/internal/codec"
	"payflow/internal/config"
	"payflow/internal/domain"
	"payflow/internal/events"
	"payflow/internal/infrastructure/ethereum"
	"payflow/internal/infrastructure/kafka"
	"payflow/internal/infrastructure/logging"
	"payflow/internal/infrastructure/mysql"
	"payflow/internal/infrastructure/readcache"
	"payflow/internal/infrastructure/sqlite"
	"payflow/internal/infrastructure/telemetry"
	"payflow/internal/interfaces/httpapi"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

type kvBackend interface {
	application.KVStore
	Ping(ctx context.Context) error
	Close() error
}

// asyncActivitySink hands feed items to kafka off the watcher goroutine
// so a slow broker never stalls event polling.
type asyncActivitySink struct {
	producer *kafka.Producer
	metrics  *httpapi.Metrics
}

func (s asyncActivitySink) PublishActivity(_ context.Context, wallet string, item domain.ActivityItem) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.producer.PublishActivity(ctx, wallet, item); err != nil {
			slog.Warn("kafka publish failed", "activity", item.ID, "error", err)
			s.metrics.OnKafkaPublishError()
		}
	}()
	return nil
}

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	rotating, err := logging.Init(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("logging error: %v", err)
	}
	if rotating != nil {
		defer rotating.Close()
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "payflow", cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing init failed", "error", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	var kv kvBackend
	if cfg.DBDSN != "" {
		kv, err = mysql.NewStore(cfg.DBDSN)
	} else {
		kv, err = sqlite.NewStore(cfg.DBPath)
	}
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	defer kv.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	chainClient, err := ethereum.Dial(ctx, ethereum.Config{
		RPCURL:                 cfg.RPCURL,
		PrivateKey:             cfg.PrivateKey,
		FlowFactoryAddress:     cfg.FlowFactoryAddress,
		ApprovalManagerAddress: cfg.ApprovalManagerAddress,
		MNEETokenAddress:       cfg.MNEETokenAddress,
	})
	if err != nil {
		log.Fatalf("rpc error: %v", err)
	}
	defer chainClient.Close()

	cachedReader, err := readcache.NewCachedReader(chainClient, readcache.Config{
		Addr: cfg.RedisAddr,
		TTL:  cfg.CacheTTL,
	})
	if err != nil {
		slog.Warn("read cache disabled", "error", err)
		cachedReader, _ = readcache.NewCachedReader(chainClient, readcache.Config{})
	}
	defer cachedReader.Close()

	wallet, connected := chainClient.Signer()
	if !connected {
		slog.Warn("no signer key configured, write actions disabled")
	}
	if missing := cfg.MissingAddresses(); len(missing) > 0 {
		slog.Warn("contracts not fully configured", "missing", strings.Join(missing, ","))
	}
	if cfg.MNEETokenAddress != "" {
		// Amount parsing assumes the token's precision; a mismatch here
		// means every formatted amount would be wrong.
		if decimals, err := chainClient.TokenDecimals(ctx); err != nil {
			slog.Warn("token decimals unavailable", "error", err)
		} else if decimals != codec.TokenDecimals {
			slog.Warn("token decimals mismatch", "chain", decimals, "expected", codec.TokenDecimals)
		}
	}

	store := application.NewLocalStore(kv, slog.Default())
	metrics := httpapi.NewMetrics()
	bus := events.NewBus()
	defer bus.Close()

	// Subscribers attach before any producer runs; the bus does not replay.
	recorder := application.NewRecorder(store, wallet, slog.Default())
	defer recorder.Attach(bus)()

	defer bus.Subscribe(func(event events.TransactionEvent) {
		metrics.OnTransaction(string(event.Status), event.Reverted)
	})()

	defer bus.Subscribe(func(event events.TransactionEvent) {
		if event.Status != domain.TxStatusSuccess {
			return
		}
		invalidateCtx, cancelInvalidate := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancelInvalidate()
		if event.To != "" {
			cachedReader.InvalidateFlow(invalidateCtx, event.To)
		}
		if event.Type == domain.TxTypeFlowCreation {
			cachedReader.InvalidateOwners(invalidateCtx)
		}
	})()

	var activitySink application.ActivitySink
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka error: %v", err)
		}
		defer producer.Close()

		defer bus.Subscribe(func(event events.TransactionEvent) {
			if event.Hash == "" {
				return
			}
			go func() {
				publishCtx, cancelPublish := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancelPublish()
				if err := producer.PublishTransaction(publishCtx, wallet, event); err != nil {
					slog.Warn("kafka publish failed", "hash", event.Hash, "error", err)
					metrics.OnKafkaPublishError()
				}
			}()
		})()

		activitySink = asyncActivitySink{producer: producer, metrics: metrics}
	}

	orchestrator := application.NewOrchestrator(cachedReader, chainClient, bus, cfg.FlowFactoryAddress, slog.Default())
	flowReader := application.NewFlowReader(cachedReader, store)
	watcher := application.NewWatcher(chainClient, store, cachedReader, activitySink, metrics, wallet, cfg.PollInterval, slog.Default())
	// The sweep exists to catch missed ThresholdMet events, which also
	// means no invalidation ran; it reads approval status uncached so a
	// satisfied approval is removed on the next cycle, not the next TTL.
	reconciler := application.NewReconciler(chainClient, chainClient, store, bus, metrics, wallet, cfg.ReconcileInterval, slog.Default())

	server, err := httpapi.NewServer(cfg, flowReader, orchestrator, store, chainClient, kv, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		log.Fatalf("http server error: %v", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("http server failed", "error", err)
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("watcher stopped", "error", err)
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("reconciler stopped", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	wg.Wait()
}
