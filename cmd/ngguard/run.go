package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iamwavecut/ngguard/internal/bot"
	"github.com/iamwavecut/ngguard/internal/config"
	"github.com/iamwavecut/ngguard/internal/db/sqlite"
	"github.com/iamwavecut/ngguard/internal/handlers/guard"
	"github.com/iamwavecut/ngguard/internal/infra"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngguard/internal/lifecycle"
	"github.com/iamwavecut/ngguard/internal/moderation"
	"github.com/iamwavecut/ngguard/internal/observability"
)

const (
	handlerGuard    = "guard"
	updatesBuffer   = 100
	pollTimeout     = 60
	shutdownTimeout = 15 * time.Second
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll Telegram updates and moderate group chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if flag := cmd.Flag("log-level"); flag == nil || !flag.Changed {
				setupLogging(log.Level(cfg.LogLevel))
			}
			return runBot(cmd.Context(), cfg)
		},
	}
}

func runBot(ctx context.Context, cfg config.Config) error {
	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		return fmt.Errorf("init bot api: %w", err)
	}
	botAPI.Debug = log.GetLevel() == log.TraceLevel

	workDir, err := infra.GetWorkDir(cfg.DotPath)
	if err != nil {
		return err
	}
	journal, err := sqlite.NewSQLiteClient(ctx, workDir, dbFileName)
	if err != nil {
		return err
	}
	defer func() {
		if err := journal.Close(); err != nil {
			log.WithField("error", err.Error()).Warn("cant close journal")
		}
	}()

	patterns := cfg.Blacklist
	if len(patterns) == 0 {
		patterns = guard.DefaultBlacklistPatterns()
	}
	blacklist, err := guard.NewBlacklist(patterns)
	if err != nil {
		return err
	}

	ops := telegram.NewOperations(botAPI,
		telegram.WithRequestsPerSecond(cfg.APIRequestsPS),
		telegram.WithLanguage(cfg.DefaultLanguage),
	)
	scheduler := moderation.NewScheduler(nil)
	engine := moderation.NewEngine(cfg.Moderation.Policy(), moderation.Deps{
		Gateway:   ops,
		Notifier:  ops,
		Journal:   journal,
		Scheduler: scheduler,
	})

	processor := bot.NewUpdateProcessor()
	processor.RegisterUpdateHandler(handlerGuard, guard.NewGuard(engine, ops, journal, guard.Config{
		BotID:            botAPI.Self.ID,
		Language:         cfg.DefaultLanguage,
		ForceMuteDefault: cfg.Moderation.ForceMuteDefault,
		Blacklist:        blacklist,
	}))
	if processor.Enable(cfg.EnabledHandlers...) == 0 {
		return fmt.Errorf("no handlers enabled from %v", cfg.EnabledHandlers)
	}

	dispatcher := bot.NewDispatcher(processor, cfg.Workers, 0)
	runtime := lifecycle.NewRuntime(scheduler, moderation.NewSweeper(engine, cfg.Moderation.SweepInterval), dispatcher)
	if cfg.MetricsAddr != "" {
		runtime.Register(observability.NewMetricsServer(cfg.MetricsAddr))
	}
	shutdownTracing := observability.InitTracing(serviceName)

	if err := runtime.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithField("error", err.Error()).Error("unclean shutdown")
		}
		if err := shutdownTracing(stopCtx); err != nil {
			log.WithField("error", err.Error()).Warn("cant shutdown tracing")
		}
	}()

	log.WithFields(log.Fields{
		"bot":      botAPI.Self.UserName,
		"handlers": cfg.EnabledHandlers,
		"policy":   fmt.Sprintf("%+v", engine.Policy()),
	}).Info("started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return infra.WatchExecutable(gctx, 0)
	})
	g.Go(func() error {
		updateConfig := api.NewUpdate(0)
		updateConfig.Timeout = pollTimeout
		updates, errs := bot.GetUpdatesChans(gctx, botAPI, updatesBuffer, updateConfig)
		return pumpUpdates(gctx, updates, errs, dispatcher)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type updateDispatcher interface {
	Dispatch(ctx context.Context, u api.Update) error
}

func pumpUpdates(ctx context.Context, updates <-chan api.Update, errs <-chan error, dispatcher updateDispatcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			return pkgerrors.Wrap(err, "get updates")
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if err := dispatcher.Dispatch(ctx, u); err != nil {
				return pkgerrors.WithMessage(err, "dispatch update")
			}
		}
	}
}
