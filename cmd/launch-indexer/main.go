package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/84hero/launch-indexer/pkg/config"
	"github.com/84hero/launch-indexer/pkg/indexer"
	"github.com/84hero/launch-indexer/pkg/launch"
	"github.com/84hero/launch-indexer/pkg/ledger"
	"github.com/84hero/launch-indexer/pkg/rpc"
	"github.com/84hero/launch-indexer/pkg/sink"
	"github.com/84hero/launch-indexer/pkg/storage"
	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const usage = `usage: launch-indexer [run|reindex|clear|list]

  run      load the cache, reindex, then refresh every feed.interval (default)
  reindex  run one full reindex and exit
  clear    drop the cached launches and checkpoint
  list     print the cached launches as JSON`

func main() {
	if err := Run(context.Background(), os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Crit("Application failed", "err", err)
		os.Exit(1)
	}
}

// --- Helper Functions ---

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

func setupLogger(cfg config.LogConfig, w io.Writer) {
	level := parseLevel(cfg.Level)
	var h slog.Handler
	if cfg.Format == "json" {
		h = log.JSONHandlerWithLevel(w, level)
	} else {
		h = log.NewTerminalHandlerWithLevel(w, level, true)
	}
	log.SetDefault(log.NewLogger(h))
}

func openStore(cfg config.StorageConfig, project string) (storage.Store, error) {
	prefix := cfg.Prefix
	if prefix == "" && project != "" {
		prefix = project + "_"
	}
	switch cfg.Driver {
	case "", "memory":
		return storage.NewMemoryStore(prefix), nil
	case "redis":
		return storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, prefix)
	case "postgres":
		return storage.NewPostgresStore(cfg.PostgresURL, prefix)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func initOutputs(cfg config.OutputsConfig) []sink.Output {
	var outputs []sink.Output

	// Webhook
	if wh := cfg.Webhook; wh.Enabled {
		outputs = append(outputs, sink.NewWebhookOutput(wh.ClientConfig(), wh.Async, wh.BufferSize, wh.Workers))
	}

	// File
	if cfg.File.Enabled {
		if fo, err := sink.NewFileOutput(cfg.File.Path); err == nil {
			outputs = append(outputs, fo)
		} else {
			log.Warn("File output disabled", "path", cfg.File.Path, "err", err)
		}
	}

	// Console
	if cfg.Console.Enabled {
		outputs = append(outputs, sink.NewConsoleOutput(cfg.Console.Verbose))
	}

	// Postgres
	if pg := cfg.Postgres; pg.Enabled {
		table := pg.Table
		if table == "" {
			table = "launches"
		}
		if po, err := sink.NewPostgresOutput(pg.URL, table); err == nil {
			outputs = append(outputs, po)
		} else {
			log.Warn("Postgres output disabled", "err", err)
		}
	}

	// Redis
	if r := cfg.Redis; r.Enabled {
		if ro, err := sink.NewRedisOutput(r.Addr, r.Password, r.DB, r.Key, r.Mode); err == nil {
			outputs = append(outputs, ro)
		} else {
			log.Warn("Redis output disabled", "addr", r.Addr, "err", err)
		}
	}

	// Kafka
	if k := cfg.Kafka; k.Enabled {
		if ko, err := sink.NewKafkaOutput(k.Brokers, k.Topic, k.User, k.Password); err == nil {
			outputs = append(outputs, ko)
		} else {
			log.Warn("Kafka output disabled", "err", err)
		}
	}

	// RabbitMQ
	if mq := cfg.RabbitMQ; mq.Enabled {
		if ro, err := sink.NewRabbitMQOutput(mq.URL, mq.Exchange, mq.RoutingKey, mq.QueueName, mq.Durable); err == nil {
			outputs = append(outputs, ro)
		} else {
			log.Warn("RabbitMQ output disabled", "err", err)
		}
	}

	return outputs
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info("Metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "err", err)
		}
	}()
}

func writeEntities(w io.Writer, entities []launch.Entity) error {
	records := make([]launch.Record, len(entities))
	for i, e := range entities {
		records[i] = launch.ToRecord(e)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func needsLedger(command string) bool {
	return command == "run" || command == "reindex"
}

// Run is the testable entry point of the CLI application
func Run(ctx context.Context, args []string) error {
	command := "run"
	if len(args) > 0 {
		command = args[0]
	}
	switch command {
	case "run", "reindex", "clear", "list":
	case "-h", "--help", "help":
		fmt.Fprintln(os.Stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}

	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to read .env", "err", err)
	}

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	setupLogger(cfg.Log, os.Stderr)

	feed, err := cfg.Feed.FeedAddress()
	if err != nil {
		return err
	}
	// the cache is keyed by chain id and only run/reindex can ask a node for it
	if cfg.Feed.ChainID == "" && !needsLedger(command) {
		return fmt.Errorf("%s needs feed.chain_id or a known feed.preset to locate the cache", command)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := openStore(cfg.Storage, cfg.Project)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// clear and list never touch the chain
	var l ledger.Ledger = offlineLedger{}
	if needsLedger(command) {
		client, err := rpc.NewClient(runCtx, cfg.RPC)
		if err != nil {
			return err
		}
		defer client.Close()
		client.SetMetrics(rpc.NewMetrics(reg))

		if cfg.Feed.ChainID == "" {
			id, err := client.ChainID(runCtx)
			if err != nil {
				return fmt.Errorf("resolve chain id: %w", err)
			}
			cfg.Feed.ChainID = id.String()
		}
		l = ledger.NewEVM(client)
	}

	o := indexer.New(l, store, indexer.Config{
		ChainID:           cfg.Feed.ChainID,
		Feed:              feed,
		StartBlock:        cfg.Feed.StartBlock,
		ChunkSize:         cfg.Feed.ChunkSize,
		Confirmations:     cfg.Feed.Confirmations,
		EnrichCap:         cfg.Feed.EnrichCap,
		EnrichConcurrency: cfg.Feed.EnrichConcurrency,
		UseBloom:          cfg.Feed.UseBloom,
	})

	switch command {
	case "clear":
		return o.ClearCache(runCtx)
	case "list":
		if err := o.Load(runCtx); err != nil {
			return err
		}
		return writeEntities(os.Stdout, o.CurrentEntities())
	}

	o.SetMetrics(indexer.NewMetrics(reg))
	if cfg.Metrics.Addr != "" {
		serveMetrics(runCtx, cfg.Metrics.Addr, reg)
	}

	outputs := initOutputs(cfg.Outputs)
	publisher := sink.NewPublisher(outputs...)
	defer publisher.Close()
	if publisher.Len() > 0 {
		o.SetPublisher(publisher)
	}

	if err := o.Load(runCtx); err != nil {
		return err
	}

	if command == "reindex" {
		return o.Refresh(runCtx, indexer.Full)
	}

	log.Info("Launch indexer started", "feed", o.Key(), "interval", cfg.Feed.Interval, "outputs", publisher.Len())
	if err := o.Refresh(runCtx, indexer.Full); err != nil {
		log.Warn("Initial reindex failed, retrying on the next tick", "err", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	ticker := time.NewTicker(cfg.Feed.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			log.Info("Shutting down...")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// failures are logged by the orchestrator and retried next tick
			if err := o.Refresh(runCtx, indexer.SilentIncremental); errors.Is(err, indexer.ErrRefreshInProgress) {
				log.Debug("Skipping tick, refresh in progress")
			}
		}
	}
}
