// Package main provides the entry point for the Discord voice recorder.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/Raikerian/go-discord-voicerec/internal/app"
	"github.com/Raikerian/go-discord-voicerec/internal/bot"
	"github.com/Raikerian/go-discord-voicerec/internal/config"
	"github.com/Raikerian/go-discord-voicerec/internal/discord"
	"github.com/Raikerian/go-discord-voicerec/internal/infrastructure"
	"github.com/Raikerian/go-discord-voicerec/internal/metrics"
	"github.com/Raikerian/go-discord-voicerec/internal/openai"
	"github.com/Raikerian/go-discord-voicerec/internal/voice"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	application := app.New(
		// Core modules
		config.Module,
		infrastructure.LoggerModule,
		metrics.Module,

		// External service modules
		discord.Module,
		openai.Module,

		// Application modules
		voice.Module,
		bot.Module,

		fx.Supply(configPath),

		// Configure Fx to use our Zap logger for its own internal logging
		fx.WithLogger(infrastructure.NewFxLoggerAdapter),
	)

	if err := application.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "voice recorder: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Application has shut down gracefully.")
}
