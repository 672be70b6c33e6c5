// Command simulation drives the engine with simulated chat traffic and
// claimants over NATS, and checks that no drop is ever granted twice.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/spawn"
	"github.com/arloliu/spawn/ingest"
	"github.com/arloliu/spawn/internal/logging"
	"github.com/arloliu/spawn/internal/metrics"
	"github.com/arloliu/spawn/source"
	"github.com/arloliu/spawn/store/natskv"
	"github.com/arloliu/spawn/test/simulation/internal/claimer"
	"github.com/arloliu/spawn/test/simulation/internal/config"
	"github.com/arloliu/spawn/test/simulation/internal/coordinator"
	"github.com/arloliu/spawn/test/simulation/internal/producer"
	"github.com/arloliu/spawn/types"
)

var catalog = []types.Entity{
	{ID: "storm", Name: "Storm", Rarity: "Common", MediaRef: "media/storm.png"},
	{ID: "cyclops", Name: "Cyclops", Rarity: "Common", MediaRef: "media/cyclops.png"},
	{ID: "rogue", Name: "Rogue", Rarity: "Common", MediaRef: "media/rogue.png"},
	{ID: "beast", Name: "Beast", Rarity: "Rare", MediaRef: "media/beast.png"},
	{ID: "nightcrawler", Name: "Kurt Wagner", Rarity: "Rare", MediaRef: "media/nightcrawler.png"},
	{ID: "jean-grey", Name: "Jean Grey", Rarity: "Legendary", MediaRef: "media/jean-grey.png"},
}

var settings = types.RaritySettings{
	Weights:   map[types.Rarity]int64{"Common": 80, "Rare": 18, "Legendary": 2},
	DailyCaps: map[types.Rarity]int{"Legendary": 5},
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file (built-in defaults when empty)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Simulation.Duration)
	defer cancel()

	log.Printf("Simulating %d chats for %v", cfg.Chats.Count, cfg.Simulation.Duration)

	if err := run(ctx, cfg); err != nil {
		log.Printf("Simulation failed: %v", err)
		os.Exit(1)
	}

	log.Println("Simulation completed successfully")
}

func connect(cfg *config.Config) (*nats.Conn, func(), error) {
	if cfg.NATS.Mode == "external" {
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}

		return nc, nc.Close, nil
	}

	dir, err := os.MkdirTemp("", "spawn-sim-*")
	if err != nil {
		return nil, nil, err
	}

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  dir,
		NoLog:     true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedded NATS: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, nil, errors.New("embedded NATS not ready")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	return nc, func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
		_ = os.RemoveAll(dir)
	}, nil
}

func startPrometheus(ctx context.Context, port int, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Prometheus server error: %v", err)
		}
	}()

	log.Printf("Access metrics at: http://localhost:%d/metrics", port)
}

// registerSimMetrics exposes the tracker and room counters next to the engine metrics.
func registerSimMetrics(reg prometheus.Registerer, tracker *coordinator.Tracker, room *claimer.Room) {
	factory := promauto.With(reg)
	gauge := func(name, help string, value func() float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{Namespace: "spawn_sim", Name: name, Help: help}, value)
	}

	gauge("announced_drops", "Drops announced to the simulated chats", func() float64 {
		return float64(room.Stats().Announced)
	})
	gauge("guesses_sent", "Claim guesses sent by simulated users", func() float64 {
		return float64(room.Stats().Guesses)
	})
	gauge("claimed_drops", "Drops granted to a winner", func() float64 {
		return float64(tracker.Stats().Claimed)
	})
	gauge("duplicate_grants", "Drops granted more than once (must stay 0)", func() float64 {
		return float64(tracker.Stats().Duplicates)
	})
}

func run(ctx context.Context, cfg *config.Config) error { //nolint:cyclop
	logger := logging.NewSlogDefault()

	nc, closeNATS, err := connect(cfg)
	if err != nil {
		return err
	}
	defer closeNATS()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to get JetStream: %w", err)
	}

	if _, err := ingest.EnsureStream(ctx, js, ""); err != nil {
		return err
	}
	pub, err := ingest.NewPublisher(js, "")
	if err != nil {
		return err
	}

	drops, err := natskv.New(ctx, js, natskv.Config{Bucket: "spawn-sim", Storage: "memory"}, logger)
	if err != nil {
		return err
	}

	lease, err := natskv.NewLease(ctx, js, natskv.LeaseConfig{Name: "spawn-sim", Storage: "memory"}, logger)
	if err != nil {
		return err
	}
	if err := lease.Acquire(ctx); err != nil {
		return fmt.Errorf("another simulation owns the drop bucket: %w", err)
	}
	defer func() { _ = lease.Release(context.Background()) }()

	// Guesses outlive the traffic window by at most the longest reaction delay.
	trafficCtx, stopTraffic := context.WithCancel(ctx)
	defer stopTraffic()

	src := source.NewStatic(catalog, settings)
	tracker := coordinator.NewTracker(100)
	room := claimer.NewRoom(trafficCtx, claimer.Config{
		PerDrop:  cfg.Claimers.PerDrop,
		Accuracy: cfg.Claimers.Accuracy,
		MinDelay: cfg.Claimers.Delay.Min,
		MaxDelay: cfg.Claimers.Delay.Max,
		Senders:  cfg.Chats.SendersPerChat,
		Seed:     uint64(time.Now().UnixNano()), //nolint:gosec // seed only
		Logger:   logger,
	}, catalog, pub)

	var collector types.MetricsCollector = metrics.NewNop()
	if cfg.Metrics.Prometheus.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		collector = metrics.NewPrometheus(reg, "spawn_sim")
		registerSimMetrics(reg, tracker, room)
		startPrometheus(ctx, cfg.Metrics.Prometheus.Port, reg)
	}

	eng, err := spawn.NewEngine(&cfg.Engine, spawn.Dependencies{
		Pool:       src,
		Settings:   src,
		Bans:       src,
		Attributor: tracker,
		Transport:  room,
		Store:      drops,
	},
		spawn.WithLogger(logger),
		spawn.WithMetrics(collector),
		spawn.WithHooks(tracker.Hooks()),
		spawn.WithThresholdStore(drops),
	)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	consumer, err := ingest.NewConsumer(js, ingest.Config{Logger: logger, Metrics: collector}, eng)
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	producers := startProducers(trafficCtx, cfg, pub, logger)

	report := func() {
		s := eng.Stats()
		r := room.Stats()
		tr := tracker.Stats()

		var sent, failed int64
		for _, p := range producers {
			sent += p.Sent()
			failed += p.Failed()
		}

		log.Printf("sent=%d failed=%d announced=%d guesses=%d claimed=%d superseded=%d attributed=%d chats=%d queue=%d overloaded=%v pending_deletes=%d",
			sent, failed, r.Announced, r.Guesses, tr.Claimed, tr.Superseded, tr.Attributed,
			s.Chats, s.QueueDepth, s.Overloaded, s.PendingDeletes)
	}

	ticker := time.NewTicker(cfg.Simulation.ReportInterval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-lease.Lost():
			runErr = errors.New("lost ownership of the drop bucket")
			break loop
		case <-ticker.C:
			report()
		}
	}

	log.Println("Stopping traffic...")
	stopTraffic()
	room.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout+5*time.Second)
	defer cancel()

	if err := consumer.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close consumer", "error", err)
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Warn("failed to stop engine", "error", err)
	}

	report()

	for _, v := range tracker.Violations() {
		log.Printf("violation: %v", v)
	}

	return errors.Join(runErr, tracker.Stats().Check())
}

// startProducers splits the chats into contiguous ranges, one per producer.
func startProducers(ctx context.Context, cfg *config.Config, pub producer.Publisher, logger types.Logger) []*producer.Producer {
	var weights []int64
	if cfg.Chats.Distribution == "exponential" {
		exp := cfg.Chats.Weights.Exponential
		weights = producer.NewExponentialWeightGenerator(exp.ExtremePercent, exp.ExtremeWeight, exp.NormalWeight).
			GenerateWeights(cfg.Chats.Count)
	} else {
		weights = producer.NewUniformWeightGenerator(1).GenerateWeights(cfg.Chats.Count)
	}

	perProducer := (cfg.Chats.Count + cfg.Producers.Count - 1) / cfg.Producers.Count

	producers := make([]*producer.Producer, 0, cfg.Producers.Count)
	for i := range cfg.Producers.Count {
		start := i * perProducer
		end := min(start+perProducer, cfg.Chats.Count)
		if start >= end {
			break
		}

		chatIDs := make([]int64, 0, end-start)
		for j := start; j < end; j++ {
			chatIDs = append(chatIDs, -int64(j+1))
		}

		p := producer.New(producer.Config{
			ID:      fmt.Sprintf("producer-%d", i),
			ChatIDs: chatIDs,
			Weights: weights[start:end],
			Rate:    cfg.Chats.MessageRate,
			Senders: cfg.Chats.SendersPerChat,
			Seed:    uint64(i + 1),
			Logger:  logger,
		}, pub)
		producers = append(producers, p)

		go p.Start(ctx)
	}

	return producers
}
