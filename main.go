package main

import (
	"log/slog"
	"os"

	"github.com/openaudio/jackbridge/cmd"
	"github.com/openaudio/jackbridge/internal/conf"
	"github.com/openaudio/jackbridge/internal/logging"
)

func main() {
	logging.Init(slog.LevelInfo)

	settings, err := conf.Load()
	if err != nil {
		logging.Fatal("error loading configuration", "error", err)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
