// Branchd is the document fork orchestration daemon.
//
// It serves the document fork HTTP API backed by a git version store,
// a MongoDB metadata record store, and NATS fork announcements.
//
// Configuration is loaded from a YAML file and environment variables.
// See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	branchd
//
//	# Configure via file and environment
//	BRANCHD_SERVER_PORT=8080 branchd -config /etc/branchd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/branchd/internal/announce"
	"github.com/fyrsmithlabs/branchd/internal/config"
	"github.com/fyrsmithlabs/branchd/internal/docstore"
	"github.com/fyrsmithlabs/branchd/internal/document"
	"github.com/fyrsmithlabs/branchd/internal/logging"
	"github.com/fyrsmithlabs/branchd/internal/server"
	"github.com/fyrsmithlabs/branchd/internal/telemetry"
	"github.com/fyrsmithlabs/branchd/internal/versions"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  branchd            Start the branchd daemon\n")
			fmt.Fprintf(os.Stderr, "  branchd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("branchd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the branchd server and blocks until the context is
// cancelled. Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Fields: map[string]string{"service": "branchd"},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("Starting branchd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Telemetry.Enabled
	telCfg.Endpoint = cfg.Telemetry.Endpoint
	telCfg.Protocol = cfg.Telemetry.Protocol
	telCfg.ServiceName = cfg.Telemetry.ServiceName
	telCfg.ServiceVersion = cfg.Telemetry.ServiceVersion
	telCfg.Insecure = cfg.Telemetry.Insecure
	telCfg.TLSSkipVerify = cfg.Telemetry.TLSSkipVerify

	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("Dependencies initialized",
		zap.Bool("nats_connected", deps.natsConn != nil),
		zap.Bool("mongo_backed", cfg.Mongo.URL.IsSet()))

	docSvc, err := document.NewService(
		&document.Config{
			StartingSequenceNumber: cfg.Documents.StartingSequenceNumber,
			AttributesPath:         cfg.Documents.AttributesPath,
		},
		deps.records,
		deps.versions,
		deps.announcer,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize document service: %w", err)
	}

	srv, err := server.NewServer(&cfg.Server, docSvc, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	return srv.Start(ctx)
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	natsConn  *nats.Conn
	records   docstore.Store
	versions  versions.Store
	announcer announce.Announcer
	logger    *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.records != nil {
		if err := d.records.Close(context.Background()); err != nil && d.logger != nil {
			d.logger.Warn("record store close failed", zap.Error(err))
		}
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
}

// initDependencies connects NATS, the record store, and the version
// store. An empty mongo.url selects the in-memory record store, which
// loses all records on restart.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))

	announcer, err := announce.NewNATSAnnouncer(nc, cfg.NATS.SubjectPrefix, logger,
		announce.WithFlushTimeout(cfg.NATS.FlushTimeout.Duration()))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create announcer: %w", err)
	}

	var records docstore.Store
	if cfg.Mongo.URL.IsSet() {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Mongo.ConnectTimeout.Duration())
		defer cancel()

		records, err = docstore.NewMongoStore(connectCtx,
			cfg.Mongo.URL.Value(), cfg.Mongo.Database, cfg.Mongo.Collection, logger)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to connect to record store: %w", err)
		}
	} else {
		logger.Warn("mongo.url not set, using in-memory record store")
		records = docstore.NewMemoryStore()
	}

	gitStore, err := versions.NewGitStore(cfg.Storage.Root, logger)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open version store: %w", err)
	}

	return &dependencies{
		natsConn:  nc,
		records:   records,
		versions:  gitStore,
		announcer: announcer,
		logger:    logger,
	}, nil
}
