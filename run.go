package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/john/slackignore/internal/catchup"
	"github.com/john/slackignore/internal/config"
	"github.com/john/slackignore/internal/dispatch"
	"github.com/john/slackignore/internal/health"
	"github.com/john/slackignore/internal/recorder"
	"github.com/john/slackignore/internal/roster"
	"github.com/john/slackignore/internal/rules"
	"github.com/john/slackignore/internal/session"
	"github.com/john/slackignore/internal/slackapi"
	"github.com/john/slackignore/internal/uploader"
)

const shutdownTimeout = 30 * time.Second

// runAgent resolves the startup state and runs every component until ctx is
// cancelled or the session manager fails.
func runAgent(ctx context.Context, opts *rootOptions, logger *slog.Logger) error {
	logger.Info("slackignore starting...")

	cfg, err := opts.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ruleSet, err := rules.NewSet(cfg.Rules...)
	if err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}
	if ruleSet.Len() == 0 {
		logger.Warn("No ignore rules configured, nothing will be marked read")
	}

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}

	selfID, err := client.Identity(ctx)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}

	cache, err := roster.Fetch(ctx, client)
	if err != nil {
		return err
	}
	logger.Info("Startup state resolved",
		"user", selfID,
		"rules", ruleSet.Len(),
		"members", cache.Members(),
		"conversations", cache.Conversations(),
	)

	g, ctx := errgroup.WithContext(ctx)

	var journal dispatch.Journal
	if cfg.Journal.Enabled {
		rec, err := startJournal(ctx, g, cfg.Journal, logger)
		if err != nil {
			return err
		}
		journal = rec
	}

	dispatcher := dispatch.New(dispatch.Config{
		SelfID:    selfID,
		Directory: cache,
		Rules:     ruleSet,
		CatchUp:   catchup.New(client, cfg.CatchUp.Window),
		Marker:    client,
		Journal:   journal,
		Logger:    logger.With("component", "dispatch"),
	})

	manager := session.New(client, dispatcher, session.Config{
		PingInterval:  cfg.Session.PingInterval(),
		EndpointRetry: cfg.Session.EndpointRetry(),
		FrameBuffer:   cfg.Session.FrameBuffer,
		Logger:        logger.With("component", "session"),
	})

	if cfg.Health.Addr != "" {
		server := health.New(cfg.Health.Addr, func() health.Status {
			return health.Status{
				State:         manager.State().String(),
				Sessions:      manager.Sessions(),
				Rules:         ruleSet.Len(),
				Members:       cache.Members(),
				Conversations: cache.Conversations(),
			}
		}, logger.With("component", "health"))

		g.Go(server.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return manager.Run(ctx)
	})

	logger.Info("All components started")

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("slackignore stopped")
	return err
}

func newClient(cfg *config.Config, logger *slog.Logger) (*slackapi.Client, error) {
	if cfg.Slack.ProxyURL != "" {
		logger.Warn("Routing Slack traffic through proxy", "proxy", cfg.Slack.ProxyURL)
	}
	client, err := slackapi.New(slackapi.Config{
		Token:    cfg.Slack.Token,
		Cookie:   cfg.Slack.Cookie,
		APIURL:   cfg.Slack.APIURL,
		ProxyURL: cfg.Slack.ProxyURL,
		Logger:   logger.With("component", "slackapi"),
	})
	if err != nil {
		return nil, fmt.Errorf("create slack client: %w", err)
	}
	return client, nil
}

// startJournal starts the recorder and, when a bucket is configured, the
// uploader that ships its closed files.
func startJournal(ctx context.Context, g *errgroup.Group, cfg config.JournalConfig, logger *slog.Logger) (*recorder.Recorder, error) {
	rec := recorder.New(recorder.Config{
		OutputDir:       cfg.OutputDir,
		BufferSize:      cfg.BufferSize,
		RotateMinutes:   cfg.RotateMinutes,
		RotateMegabytes: cfg.RotateMegabytes,
		Logger:          logger.With("component", "recorder"),
	})

	var fileChan chan string
	if cfg.S3.Bucket != "" {
		up, err := uploader.New(ctx, uploader.Config{
			Bucket:               cfg.S3.Bucket,
			Region:               cfg.S3.Region,
			RoleARN:              cfg.S3.RoleARN,
			WebIdentityTokenFile: cfg.S3.WebIdentityTokenFile,
			AccessKeyID:          cfg.S3.AccessKeyID,
			SecretAccessKey:      cfg.S3.SecretAccessKey,
			Endpoint:             cfg.S3.Endpoint,
			DeleteAfterUpload:    cfg.Uploader.DeleteAfterUpload,
			MaxRetries:           cfg.Uploader.MaxRetries,
			Logger:               logger.With("component", "uploader"),
		})
		if err != nil {
			return nil, fmt.Errorf("create uploader: %w", err)
		}

		if err := up.ScanAndUploadExisting(ctx, cfg.OutputDir); err != nil {
			logger.Warn("Failed to scan for existing journal files", "error", err)
		}

		fileChan = make(chan string, 100)
		g.Go(func() error {
			return up.Start(ctx, fileChan)
		})
	}

	g.Go(func() error {
		return rec.Start(ctx, fileChan)
	})
	return rec, nil
}
