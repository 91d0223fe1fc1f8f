package main

import (
	"context"
	"crypto/tls"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/signature-relay/pkg/api"
	"github.com/telekom/signature-relay/pkg/audit"
	"github.com/telekom/signature-relay/pkg/cli"
	"github.com/telekom/signature-relay/pkg/config"
	"github.com/telekom/signature-relay/pkg/mail"
	"github.com/telekom/signature-relay/pkg/ratelimit"
	"github.com/telekom/signature-relay/pkg/system"
	"github.com/telekom/signature-relay/pkg/telemetry"
	"github.com/telekom/signature-relay/pkg/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	cliConfig := cli.Parse()

	log := setupLogger(cliConfig.Debug)
	defer func() { _ = log.Sync() }()

	info := version.GetBuildInfo()
	log.With("version", info.Version, "commit", info.GitCommit).Info("Starting signature relay")
	cliConfig.Print(log)

	cfg, err := config.LoadWithOverrides(cliConfig.ConfigPath, func(c *config.Config) {
		applyOverrides(c, cliConfig)
	})
	if err != nil {
		log.Errorf("Error loading config for signature relay: %v", err)
		return 1
	}

	if cliConfig.Debug {
		log.Debugw("Effective configuration",
			"listenAddress", cfg.Server.ListenAddress,
			"allowedOrigins", cfg.CORS.AllowedOrigins,
			"tokenRequired", cfg.Security.SignatureToken != "",
			"mailTransport", cfg.Mail.Transport,
			"mailAsync", cfg.Mail.Async,
			"redis", cfg.Redis.URL != "")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, shutdownTracing, err := telemetry.Init(ctx, telemetry.OptionsFromConfig(cfg.Telemetry, info.Version, log))
	if err != nil {
		log.Errorf("Error initializing tracing: %v", err)
		return 1
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warnw("Failed to flush traces", "error", err)
		}
	}()

	store, closeStore, err := newRateLimitStore(ctx, cfg, log)
	if err != nil {
		log.Errorf("Error creating rate limit store: %v", err)
		return 1
	}
	defer closeStore()

	sender, err := newSender(ctx, cfg, log)
	if err != nil {
		log.Errorf("Error creating mail sender: %v", err)
		return 1
	}
	var queue *mail.Queue
	if cfg.Mail.Async {
		queue = mail.NewQueue(sender, log, mail.QueueOptions{
			MaxAttempts:    cfg.Mail.QueueRetries,
			InitialBackoff: time.Duration(cfg.Mail.QueueBackoffMs) * time.Millisecond,
			Capacity:       cfg.Mail.QueueSize,
		})
	}
	dispatcher := mail.NewDispatcher(sender, queue, log)
	dispatcher.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeout())
		defer cancel()
		if err := dispatcher.Stop(stopCtx); err != nil {
			log.Warnw("Mail queue did not drain before shutdown", "error", err)
		}
	}()

	recorder, closeAudit, err := newAuditRecorder(cfg, log)
	if err != nil {
		log.Errorf("Error creating audit sinks: %v", err)
		return 1
	}
	defer closeAudit()

	server, err := api.NewServer(log.Desugar(), cfg, cliConfig.Debug, api.WithAuditRecorder(recorder))
	if err != nil {
		log.Errorf("Error creating HTTP server: %v", err)
		return 1
	}
	defer server.Close()

	controller, err := api.NewSignatureController(cfg, dispatcher, store, log)
	if err != nil {
		log.Errorf("Error creating signature controller: %v", err)
		return 1
	}
	controller.SetAuditRecorder(recorder)
	if err := server.RegisterAll([]api.APIController{controller}); err != nil {
		log.Errorf("Error registering signature relay controllers: %v", err)
		return 1
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if !cliConfig.EnableHTTP2 {
		cli.DisableHTTP2(tlsConfig)
	}

	if err := server.Run(ctx, tlsConfig); err != nil {
		log.Errorf("HTTP server failed: %v", err)
		return 1
	}
	log.Info("Signature relay stopped")
	return 0
}

// applyOverrides lets command line flags win over the configuration file.
func applyOverrides(cfg *config.Config, c *cli.Config) {
	if c.ListenAddress != "" {
		cfg.Server.ListenAddress = c.ListenAddress
	}
	if c.EnableMetrics {
		cfg.Server.MetricsEnabled = true
	}
	if c.DisableEmail {
		cfg.Mail.Transport = mail.TransportLog
	}
}

func newRateLimitStore(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (ratelimit.Store, func(), error) {
	if cfg.Redis.URL == "" {
		log.Infow("Using in-memory rate limit store")
		store := ratelimit.NewMemoryStore(time.Minute)
		return store, store.Stop, nil
	}

	store, err := ratelimit.NewRedisStoreFromURL(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
	if err != nil {
		return nil, nil, err
	}
	log.Infow("Using Redis rate limit store", "prefix", cfg.Redis.Prefix)
	return store, func() {
		if err := store.Close(); err != nil {
			log.Warnw("Failed to close Redis client", "error", err)
		}
	}, nil
}

// newAuditRecorder returns audit.Discard when auditing is disabled.
func newAuditRecorder(cfg config.Config, log *zap.SugaredLogger) (audit.Recorder, func(), error) {
	if !cfg.Audit.Enabled {
		return audit.Discard, func() {}, nil
	}
	manager, err := audit.NewFromConfig(cfg.Audit, log.Desugar())
	if err != nil {
		return nil, nil, err
	}
	return manager, func() {
		if err := manager.Close(); err != nil {
			log.Warnw("Failed to close audit sinks", "error", err)
		}
	}, nil
}

func newSender(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (mail.Sender, error) {
	switch cfg.Mail.Transport {
	case mail.TransportLog:
		log.Warn("Mail delivery is disabled, signatures are only logged")
		return mail.NewLogSender(log), nil
	case mail.TransportSES:
		sender, err := mail.NewSESSender(ctx, mail.SESConfig{
			Region:           cfg.Mail.SES.Region,
			AccessKeyID:      cfg.Mail.SES.AccessKeyID,
			SecretAccessKey:  cfg.Mail.SES.SecretAccessKey,
			ConfigurationSet: cfg.Mail.SES.ConfigurationSet,
		}, log)
		if err != nil {
			return nil, err
		}
		return sender, nil
	case mail.TransportSMTP:
		return mail.NewSMTPSender(mail.SMTPConfig{
			Host:               cfg.Mail.Host,
			Port:               cfg.Mail.Port,
			User:               cfg.Mail.User,
			Password:           cfg.Mail.Password,
			InsecureSkipVerify: cfg.Mail.InsecureSkipVerify,
			RetryCount:         cfg.Mail.RetryCount,
			RetryBackoff:       cfg.Mail.GetRetryBackoff(),
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Mail.Transport)
	}
}

func setupLogger(debug bool) *zap.SugaredLogger {
	log, err := system.NewLogger(debug)
	if err != nil {
		stdlog.Fatalf("failed to set up logger: %v", err)
	}
	return log
}
