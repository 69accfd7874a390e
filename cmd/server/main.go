package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Tyrowin/gorelay/internal/config"
	"github.com/Tyrowin/gorelay/internal/events"
	"github.com/Tyrowin/gorelay/internal/logger"
	"github.com/Tyrowin/gorelay/internal/presence"
	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/Tyrowin/gorelay/internal/server"
	"github.com/Tyrowin/gorelay/internal/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gorelay",
		Short: "GoRelay - realtime one-to-one message relay",
		Long: `A WebSocket relay that binds connections to user identities,
forwards direct messages to the recipient's live connection and
stores every message.

Configuration is read from the environment (and an optional .env file);
flags override the matching variables.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createHistoryCmd())

	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

type overrides struct {
	port     string
	driver   string
	logLevel string
}

func (o overrides) apply(cfg *config.Config) error {
	if o.port != "" {
		cfg.Port = o.port
	}
	if o.driver != "" {
		cfg.StoreDriver = o.driver
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg.Validate()
}

func loadConfig(o overrides) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := o.apply(&cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func addOverrideFlags(cmd *cobra.Command, o *overrides) {
	cmd.Flags().StringVar(&o.driver, "store", "", "Message store driver: memory, postgres or badger (STORE_DRIVER)")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn or error (LOG_LEVEL)")
}

func createServeCmd() *cobra.Command {
	var o overrides

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		Long: `Start the HTTP server exposing the WebSocket endpoint (/ws), a health
check (/) and a browser test page (/test). Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(o)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&o.port, "port", "p", "", "Address to listen on, e.g. :8080 (SERVER_PORT)")
	addOverrideFlags(cmd, &o)
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logger.New(cfg.LogLevel).With(zap.String("node", cfg.NodeID))
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	msgStore, err := store.Open(ctx, store.Options{
		Driver:      cfg.StoreDriver,
		DatabaseURL: cfg.DatabaseURL,
		BadgerPath:  cfg.BadgerPath,
	})
	if err != nil {
		return errors.Wrap(err, "open message store")
	}
	defer func() {
		if err := msgStore.Close(); err != nil {
			log.Warn("close message store", zap.Error(err))
		}
	}()
	log.Info("message store ready", zap.String("driver", cfg.StoreDriver))

	registry := relay.NewRegistry()
	routerOpts := []relay.RouterOption{relay.WithLogger(log.Named("router"))}
	var observers []relay.Observer

	if cfg.NatsURL != "" {
		nc, err := events.Connect(events.Config{URL: cfg.NatsURL, Name: "gorelay-" + cfg.NodeID}, log)
		if err != nil {
			return err
		}
		publisher := events.NewPublisher(nc, cfg.NatsSubject, cfg.NodeID)
		defer func() { _ = publisher.Close() }()
		routerOpts = append(routerOpts, relay.WithPublisher(publisher))
		log.Info("publishing stored messages", zap.String("subject", cfg.NatsSubject))
	}

	if cfg.RedisAddr != "" {
		rdb, err := presence.Connect(ctx, presence.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()

		tracker := presence.NewTracker(rdb, cfg.NodeID, cfg.PresenceTTL, log.Named("presence"))
		observers = append(observers, tracker)

		trackerCtx, cancelTracker := context.WithCancel(context.Background())
		trackerDone := make(chan struct{})
		go func() {
			tracker.Run(trackerCtx)
			close(trackerDone)
		}()
		defer func() {
			cancelTracker()
			<-trackerDone
		}()
		log.Info("presence mirrored to redis", zap.String("addr", cfg.RedisAddr))
	}

	router := relay.NewRouter(msgStore, registry, routerOpts...)
	lifecycle := relay.NewLifecycle(registry, router, log.Named("lifecycle"), observers...)

	hub := server.NewHub(lifecycle, registry, server.Options{
		AllowedOrigins: cfg.Origins(),
		MaxMessageSize: cfg.MaxMessageSize,
		RateLimit: server.RateLimitConfig{
			Burst:          cfg.RateLimitBurst,
			RefillInterval: cfg.RateLimitRefillInterval,
		},
		SendBufferSize: cfg.SendBufferSize,
	}, log.Named("hub"))
	hub.Start()

	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub))

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.StartServer(httpServer, log)
	}()
	color.Green("✅ GoRelay listening on %s", cfg.Port)

	select {
	case <-ctx.Done():
		color.Yellow("\n🛑 Received interrupt signal, shutting down...")
	case err := <-errChan:
		_ = hub.Shutdown(cfg.ShutdownTimeout)
		return err
	}

	// Stop accepting upgrades first, then close the live connections.
	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
		color.Red("Error shutting down HTTP server: %v", err)
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		color.Red("Error shutting down hub: %v", err)
		return err
	}

	color.Green("✅ GoRelay stopped gracefully")
	return nil
}

func createHistoryCmd() *cobra.Command {
	var o overrides
	var limit int

	cmd := &cobra.Command{
		Use:   "history <identity> <identity>",
		Short: "Print the conversation between two identities",
		Long: `Print every stored message exchanged between two identities, in
either direction, oldest first. Reads the configured message store, which
must be persistent (postgres or badger): the memory store only lives inside
a running server.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(o)
			if err != nil {
				return err
			}
			return printHistory(cmd.Context(), cfg, args[0], args[1], limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Only print the newest n messages (0 prints all)")
	addOverrideFlags(cmd, &o)
	return cmd
}

// errVolatileStore is returned by history for the memory driver, which never
// holds messages written by another process.
var errVolatileStore = errors.New("history needs a persistent store; set STORE_DRIVER or --store to postgres or badger")

func printHistory(ctx context.Context, cfg config.Config, a, b string, limit int) error {
	if cfg.StoreDriver == "" || cfg.StoreDriver == store.DriverMemory {
		return errVolatileStore
	}

	msgStore, err := store.Open(ctx, store.Options{
		Driver:      cfg.StoreDriver,
		DatabaseURL: cfg.DatabaseURL,
		BadgerPath:  cfg.BadgerPath,
	})
	if err != nil {
		return errors.Wrap(err, "open message store")
	}
	defer func() { _ = msgStore.Close() }()

	records, err := msgStore.Conversation(ctx, a, b)
	if err != nil {
		return err
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	if len(records) == 0 {
		color.Yellow("No messages between %s and %s", a, b)
		return nil
	}

	from := color.New(color.FgCyan, color.Bold)
	for _, rec := range records {
		fmt.Printf("%s %s -> %s: %s\n",
			rec.Timestamp.Local().Format(time.DateTime),
			from.Sprint(rec.SenderID),
			rec.ReceiverID,
			rec.Content)
	}
	return nil
}
