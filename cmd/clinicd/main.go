// Clinicd is the clinical document extraction daemon.
//
// This binary starts the clinicd HTTP API with the section segmenter, regex
// and LLM field extractors, the document store and, when configured, the
// PDF partition client, NATS event publishing and the inbox watcher.
//
// Configuration is loaded from environment variables, or from a YAML file
// when -config is given. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	clinicd
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9191 LLM_PROVIDER=anthropic ANTHROPIC_API_KEY=... clinicd
//
//	# Load a config file
//	clinicd -config ~/.config/clinicd/config.yaml
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

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicd/internal/config"
	"github.com/fyrsmithlabs/clinicd/internal/discharge"
	"github.com/fyrsmithlabs/clinicd/internal/documents"
	"github.com/fyrsmithlabs/clinicd/internal/extraction"
	httpserver "github.com/fyrsmithlabs/clinicd/internal/http"
	"github.com/fyrsmithlabs/clinicd/internal/inbox"
	"github.com/fyrsmithlabs/clinicd/internal/logging"
	"github.com/fyrsmithlabs/clinicd/internal/partition"
	"github.com/fyrsmithlabs/clinicd/internal/phi"
	"github.com/fyrsmithlabs/clinicd/internal/sections"
	"github.com/fyrsmithlabs/clinicd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath = flag.String("config", "", "path to a YAML config file")

func main() {
	// Parse command-line arguments
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  clinicd [-config path]   Start the clinicd daemon\n")
			fmt.Fprintf(os.Stderr, "  clinicd version          Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("clinicd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// loadConfig reads the config file named by -config, or the environment
// alone when no file is given.
func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		return config.LoadWithFile(*configPath)
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run starts the clinicd server and blocks until context is cancelled.
//
// This function:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Builds the extraction pipeline (segmenter, LLM extractor, coordinator)
//  4. Connects optional infrastructure (partition API, NATS)
//  5. Starts the inbox watcher when enabled
//  6. Serves HTTP until ctx is cancelled, then shuts down gracefully
func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		// Shutdown bounds itself with the telemetry shutdown timeout.
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()
	if health := tel.Health(); health.Degraded {
		logger.Warn("Telemetry degraded", zap.Strings("reasons", health.Reasons))
	}

	logger.Info("Starting clinicd",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("version", version),
		zap.Bool("telemetry", cfg.Observability.EnableTelemetry),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("Dependencies initialized",
		zap.String("llm_provider", deps.llm.Provider()),
		zap.Bool("llm_available", deps.llm.Available()),
		zap.Bool("partition_ready", deps.partitioner != nil),
		zap.Bool("nats_connected", deps.natsConn != nil))

	docs := documents.NewService(documents.Options{
		Coordinator: deps.coordinator,
		Formatter:   deps.formatter,
		Partitioner: deps.partitionerOrNil(),
		NATS:        deps.natsConn,
		Logger:      logger,
	})

	if cfg.Inbox.Enabled {
		watcher, err := startInbox(ctx, cfg, docs, logger)
		if err != nil {
			return fmt.Errorf("failed to start inbox watcher: %w", err)
		}
		defer watcher.Stop()
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Documents:   docs,
		Coordinator: deps.coordinator,
		Formatter:   deps.formatter,
		Scrubber:    deps.scrubber,
	}, logger, &httpserver.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		MaxUploadMB: cfg.Server.MaxUploadMB,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s/health", cfg.Server.Addr())),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// dependencies holds the extraction pipeline and infrastructure clients.
type dependencies struct {
	scrubber    phi.Scrubber
	llm         extraction.FieldExtractor
	coordinator *extraction.Coordinator
	formatter   *discharge.Formatter
	partitioner *partition.Client
	natsConn    *nats.Conn
	logger      *zap.Logger
}

// partitionerOrNil keeps a nil *partition.Client from becoming a non-nil
// documents.Partitioner.
func (d *dependencies) partitionerOrNil() documents.Partitioner {
	if d.partitioner == nil {
		return nil
	}
	return d.partitioner
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.llm != nil {
		_ = d.llm.Close()
	}
	if d.partitioner != nil {
		_ = d.partitioner.Close()
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.logger != nil {
		_ = d.logger.Sync() // Best-effort sync
	}
}

// initTelemetry creates the OpenTelemetry providers. Disabled telemetry
// yields a no-op instance.
func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	return telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
}

// initLogger builds the PHI-scrubbing logger, bridged to OTEL when
// telemetry is enabled.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*zap.Logger, error) {
	logCfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		return nil, err
	}
	return logging.New(logCfg, tel.LoggerProvider())
}

// initDependencies builds the extraction pipeline and connects optional
// infrastructure.
//
// This function:
//  1. Loads the section layout and discharge template when configured
//  2. Creates the LLM field extractor with its audit sink
//  3. Creates the partition client when an API key is set
//  4. Connects to NATS when enabled
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	scrubber, err := phi.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create phi scrubber: %w", err)
	}

	segmenter := sections.Default()
	if cfg.Layout.Path != "" {
		layout, err := sections.LoadLayout(cfg.Layout.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load section layout: %w", err)
		}
		segmenter, err = sections.NewSegmenter(layout)
		if err != nil {
			return nil, fmt.Errorf("invalid section layout: %w", err)
		}
		logger.Info("Section layout loaded",
			zap.String("path", cfg.Layout.Path),
			zap.Int("headers", len(layout.KnownHeaders)))
	}

	formatter := discharge.NewFormatter()
	if cfg.Layout.DischargeTemplate != "" {
		formatter, err = discharge.LoadFormatter(cfg.Layout.DischargeTemplate)
		if err != nil {
			return nil, fmt.Errorf("failed to load discharge template: %w", err)
		}
	}

	llm, err := initFieldExtractor(cfg, scrubber, logger)
	if err != nil {
		return nil, err
	}

	deps := &dependencies{
		scrubber:    scrubber,
		llm:         llm,
		coordinator: extraction.NewCoordinator(segmenter, llm, logger),
		formatter:   formatter,
		logger:      logger,
	}

	if cfg.Partition.APIKey.IsSet() {
		client, err := partition.NewClient(partition.Config{
			URL:      cfg.Partition.APIURL,
			APIKey:   cfg.Partition.APIKey.Value(),
			Strategy: cfg.Partition.Strategy,
			Timeout:  cfg.Partition.Timeout,
		}, logger)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to create partition client: %w", err)
		}
		deps.partitioner = client
		logger.Info("Partition client initialized",
			zap.String("endpoint", partition.Endpoint(cfg.Partition.APIURL)),
			zap.String("strategy", cfg.Partition.Strategy))
	} else {
		logger.Warn("Partition API key not set, PDF uploads are disabled")
	}

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("clinicd"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		deps.natsConn = nc
		logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	return deps, nil
}

// initFieldExtractor creates the LLM extractor. A disabled LLM or a missing
// API key yields the disabled extractor, leaving regex extraction only.
func initFieldExtractor(cfg *config.Config, scrubber phi.Scrubber, logger *zap.Logger) (extraction.FieldExtractor, error) {
	llmCfg := cfg.LLM
	if !llmCfg.Enabled {
		return extraction.NewFieldExtractor(extraction.Config{Provider: extraction.ProviderDisabled}, nil, logger)
	}
	if !llmCfg.APIKey.IsSet() {
		logger.Warn("LLM API key not set, using regex extraction only",
			zap.String("provider", llmCfg.Provider))
		return extraction.NewFieldExtractor(extraction.Config{Provider: extraction.ProviderDisabled}, nil, logger)
	}

	var audit extraction.AuditSink = extraction.NoOpAuditSink{}
	if cfg.Audit.Enabled {
		var auditScrubber phi.Scrubber = phi.NoopScrubber{}
		if cfg.Audit.ScrubPHI {
			auditScrubber = scrubber
			if cfg.Audit.DetectCredentials {
				phiCfg := phi.DefaultConfig()
				phiCfg.DetectCredentials = true
				s, err := phi.New(phiCfg)
				if err != nil {
					return nil, fmt.Errorf("failed to create audit scrubber: %w", err)
				}
				auditScrubber = s
			}
		}
		audit = extraction.NewFileAuditSink(cfg.Audit.Dir, auditScrubber)
	}

	fe, err := extraction.NewFieldExtractor(extraction.Config{
		Provider:    llmCfg.Provider,
		Model:       llmCfg.Model,
		APIKey:      llmCfg.APIKey.Value(),
		BaseURL:     llmCfg.BaseURL,
		MaxTokens:   llmCfg.MaxTokens,
		Timeout:     llmCfg.Timeout,
		MaxAttempts: llmCfg.MaxRetries + 1,
		MaxBackoff:  llmCfg.MaxBackoff,
	}, audit, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM extractor: %w", err)
	}
	return fe, nil
}

// startInbox watches the inbox directory and logs each ingestion.
func startInbox(ctx context.Context, cfg *config.Config, docs *documents.Service, logger *zap.Logger) (*inbox.Watcher, error) {
	if err := os.MkdirAll(cfg.Inbox.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}

	watcher, err := inbox.NewWatcher(cfg.Inbox.Dir, docs, inbox.Options{
		UseLLM: cfg.Inbox.UseLLM,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	if err := watcher.Start(ctx); err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-watcher.Results():
				if !ok {
					return
				}
				if r.Err != nil {
					logger.Warn("Inbox ingestion failed", zap.String("path", r.Path), zap.Error(r.Err))
					continue
				}
				logger.Info("Inbox document ingested",
					zap.String("path", r.Path),
					zap.String("document.id", r.DocumentID))
			}
		}
	}()

	logger.Info("Inbox watcher started", zap.String("dir", cfg.Inbox.Dir))
	return watcher, nil
}
