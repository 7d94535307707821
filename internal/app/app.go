// Package app assembles the recorder's fx application and runs it until a
// shutdown signal arrives.
package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-voicerec/internal/bot"
)

// DefaultShutdownTimeout bounds how long sessions get to finalize their files.
const DefaultShutdownTimeout = 30 * time.Second

// Application is the recorder process: fx modules plus the bot lifecycle.
type Application struct {
	app             *fx.App
	shutdownTimeout time.Duration
}

// New builds the application from modules and hooks the bot into its lifecycle.
func New(modules ...fx.Option) *Application {
	options := append(modules, fx.Invoke(registerLifecycleHooks))

	return &Application{
		app:             fx.New(options...),
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

// WithShutdownTimeout overrides DefaultShutdownTimeout.
func (a *Application) WithShutdownTimeout(d time.Duration) *Application {
	a.shutdownTimeout = d

	return a
}

// Err reports a failure to build the dependency graph.
func (a *Application) Err() error {
	return a.app.Err()
}

// Run starts the application and blocks until ctx is done, SIGINT or SIGTERM
// arrives, or fx requests shutdown. Stopping is bounded by the shutdown timeout
// and is not cut short by ctx.
func (a *Application) Run(ctx context.Context) error {
	startCtx, cancelStart := context.WithTimeout(ctx, a.app.StartTimeout())
	defer cancelStart()

	if err := a.app.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	sigCtx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	select {
	case <-sigCtx.Done():
	case <-a.app.Wait():
	}

	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout)
	defer cancelStop()

	if err := a.app.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

func registerLifecycleHooks(lc fx.Lifecycle, b *bot.Bot, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := b.Start(ctx); err != nil {
				logger.Error("Failed to start voice recorder", zap.Error(err))

				return err
			}

			logger.Info("Voice recorder ready",
				zap.Int("auto_listen_channels", len(b.Config.Discord.AutoListenChannels)))

			return nil
		},
		OnStop: func(ctx context.Context) error {
			active := len(b.Recorder.Sessions())
			logger.Info("Finalizing recordings", zap.Int("active_sessions", active))

			if err := b.Stop(ctx); err != nil {
				logger.Error("Voice recorder did not stop cleanly",
					zap.Int("active_sessions", active),
					zap.Error(err))

				return err
			}

			logger.Info("Voice recorder stopped")

			return nil
		},
	})
}
