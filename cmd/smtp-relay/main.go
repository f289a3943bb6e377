// Package main is the entry point for the SMTP relay.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/smtp-relay/internal/attachment"
	"github.com/shineum/smtp-relay/internal/config"
	"github.com/shineum/smtp-relay/internal/delivery"
	"github.com/shineum/smtp-relay/internal/logging"
	"github.com/shineum/smtp-relay/internal/mapper"
	"github.com/shineum/smtp-relay/internal/provider"
	"github.com/shineum/smtp-relay/internal/provider/graph"
	"github.com/shineum/smtp-relay/internal/provider/postmark"
	"github.com/shineum/smtp-relay/internal/provider/resend"
	"github.com/shineum/smtp-relay/internal/provider/ses"
	"github.com/shineum/smtp-relay/internal/provider/stdout"
	"github.com/shineum/smtp-relay/internal/relay"
	"github.com/shineum/smtp-relay/internal/smtp"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	envFile := flag.String("env-file", ".env", "path to .env file (optional)")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		slog.Error("failed to load env file", "error", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	flush := logging.Setup(os.Stdout, logging.Config{
		Level:             cfg.Logging.Level,
		SentryDSN:         cfg.Sentry.DSN,
		SentryEnvironment: cfg.Sentry.Environment,
	})
	defer flush()

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, location, err := newStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to prepare attachment store", "error", err)
		return 1
	}

	prov, err := newProvider(context.WithoutCancel(ctx), cfg)
	if err != nil {
		slog.Error("failed to create provider", "provider", cfg.SelectedProvider(), "error", err)
		return 1
	}

	coordinator := relay.NewCoordinator(
		mapper.New(store),
		delivery.NewGateway(prov),
		cfg.Delivery.Timeout,
	)

	server := smtp.New(smtp.Config{
		Addr:            cfg.ListenAddr(),
		Domain:          cfg.SMTP.Domain,
		MaxMessageBytes: cfg.SMTP.MaxMessageSize,
		MaxRecipients:   cfg.SMTP.MaxRecipients,
		ReadTimeout:     cfg.SMTP.ReadTimeout,
		WriteTimeout:    cfg.SMTP.WriteTimeout,
		ShutdownTimeout: cfg.SMTP.ShutdownTimeout,
	}, coordinator)

	slog.Info("starting smtp-relay",
		"host", cfg.SMTP.Host,
		"port", cfg.SMTP.Port,
		"auth_enabled", false,
		"provider", prov.Name(),
		"key_configured", cfg.CredentialsConfigured(),
		"attachment_backend", cfg.Attachment.Backend,
		"attachment_location", location,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			slog.Info("received signal, initiating shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		return 1
	}

	slog.Info("smtp-relay stopped")
	return 0
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// newStore creates the attachment store and returns a description of where
// attachments are written.
func newStore(ctx context.Context, cfg *config.Config) (attachment.Store, string, error) {
	switch cfg.Attachment.Backend {
	case config.BackendS3:
		store, err := attachment.NewS3Store(ctx, s3Config(cfg))
		if err != nil {
			return nil, "", err
		}
		return store, "s3://" + cfg.Attachment.S3Bucket + "/" + cfg.Attachment.S3Prefix, nil
	default:
		store, err := attachment.NewLocalStore(cfg.Attachment.Dir)
		if err != nil {
			return nil, "", err
		}
		return store, store.Dir(), nil
	}
}

func s3Config(cfg *config.Config) attachment.S3Config {
	return attachment.S3Config{
		Bucket:          cfg.Attachment.S3Bucket,
		Region:          cfg.Attachment.S3Region,
		Prefix:          cfg.Attachment.S3Prefix,
		Endpoint:        cfg.Attachment.S3Endpoint,
		AccessKeyID:     cfg.Attachment.S3AccessKeyID,
		SecretAccessKey: cfg.Attachment.S3SecretAccessKey,
	}
}

// newProvider creates the delivery provider chosen by the configuration.
// ctx must outlive the provider.
func newProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch name := cfg.SelectedProvider(); name {
	case config.ProviderResend:
		return resend.New(resend.Config{APIKey: cfg.Resend.APIKey}), nil

	case config.ProviderPostmark:
		p, err := postmark.New(postmark.Config{
			ServerToken:  cfg.Postmark.ServerToken,
			AccountToken: cfg.Postmark.AccountToken,
		})
		if err != nil {
			return nil, err
		}
		return p, nil

	case config.ProviderSES:
		slog.Info("using AWS SES provider", "region", cfg.SES.Region)
		p, err := ses.New(ctx, ses.Config{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, err
		}
		return p, nil

	case config.ProviderGraph:
		slog.Info("using Microsoft Graph provider", "sender", cfg.Graph.Sender)
		return graph.New(ctx, graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		}), nil

	case config.ProviderStdout:
		if cfg.Provider == "" {
			slog.Info("no provider configured, using stdout provider")
		}
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
