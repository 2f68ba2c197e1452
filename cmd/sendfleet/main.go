package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sendfleet/internal/config"
	"sendfleet/internal/constants"
	"sendfleet/internal/database"
	"sendfleet/internal/errors"
	"sendfleet/internal/retry"
	"sendfleet/internal/service"
	"sendfleet/internal/tracing"
	"sendfleet/pkg/transport"
	"sendfleet/pkg/transport/types"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("sendfleet %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

// senderRelay breaks the construction cycle between the dispatcher and
// the account manager: the dispatcher needs an adapter registry, the
// manager needs the dispatcher as its pool listener.
type senderRelay struct {
	target *service.AccountManager
}

func (r *senderRelay) Sender(accountID string) (types.Adapter, bool) {
	if r.target == nil {
		return nil, false
	}
	return r.target.Sender(accountID)
}

func run(ctx context.Context) error {
	// Optional .env for local development; ignored when absent.
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting sendfleet")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			if level > logrus.InfoLevel {
				level = logrus.InfoLevel
			}
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	tracingManager := tracing.NewManager(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// The database file may live on storage that attaches after the
	// process starts, so initialization retries with backoff.
	var db *database.Database
	backoff := retry.Policy{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		Jitter:       true,
	}
	err = backoff.Do(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	factory := transport.NewFactory(types.AdapterConfig{
		GatewayBaseURL: cfg.Transport.GatewayBaseURL,
		APIKey:         os.Getenv("SENDFLEET_GATEWAY_API_KEY"),
		Timeout:        time.Duration(cfg.Transport.TimeoutSec) * time.Second,
		SendTimeout:    time.Duration(cfg.Transport.SendTimeoutSec) * time.Second,
		EventBuffer:    constants.DefaultEventBufferSize,
	})

	classifier := errors.NewClassifier(cfg.Transport.RetryableErrors, cfg.Transport.TerminalErrors)
	limiter := service.NewRateLimiter(db, logger)
	projector := service.NewStatusProjector(db, logger)

	relay := &senderRelay{}
	dispatcher := service.NewDispatcher(db, limiter, relay, projector, classifier, service.DispatchOptions{
		MaxAttempts:     cfg.Dispatch.MaxAttempts,
		PollInterval:    time.Duration(cfg.Dispatch.PollIntervalMs) * time.Millisecond,
		BreakerFailures: uint32(cfg.Dispatch.BreakerFailures),
		BreakerOpen:     time.Duration(cfg.Dispatch.BreakerOpenSec) * time.Second,
	}, logger)
	defer dispatcher.Stop()

	hostname, _ := os.Hostname()
	manager := service.NewAccountManager(db, factory, projector, dispatcher, service.LifecycleOptions{
		HolderID:          fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		QRExpiry:          time.Duration(cfg.Lifecycle.QRExpirySec) * time.Second,
		QRMaxIssuances:    cfg.Lifecycle.QRMaxIssuances,
		LockStaleness:     time.Duration(cfg.Lifecycle.LockStalenessSec) * time.Second,
		LockRenew:         time.Duration(cfg.Lifecycle.LockRenewSec) * time.Second,
		DefaultDailyLimit: cfg.RateLimit.DefaultDailyLimit,
	}, logger)
	relay.target = manager

	if err := manager.StartupRecovery(ctx); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	scheduler := service.NewMaintenanceScheduler(db, limiter,
		time.Duration(cfg.Lifecycle.SweepIntervalSec)*time.Second,
		time.Duration(cfg.Lifecycle.LockStalenessSec)*time.Second,
		logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	monitor := service.NewDeliveryMonitor(db,
		constants.DefaultStaleSendSweepSec*time.Second,
		time.Duration(cfg.Lifecycle.StaleSendWarnAfter)*time.Second,
		logger)
	monitor.Start(ctx)
	defer monitor.Stop()

	server := NewServer(cfg, manager, dispatcher, db, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Server shutdown error: %v", err)
	}

	// Adapters persist session material before the locks release, so the
	// next start can reconnect without a fresh QR handshake.
	manager.Shutdown(shutdownCtx)

	logger.Info("Shutdown complete")
	return nil
}
