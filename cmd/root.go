// Package cmd assembles the jackbridge command line interface.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openaudio/jackbridge/cmd/capture"
	"github.com/openaudio/jackbridge/cmd/devices"
	"github.com/openaudio/jackbridge/internal/conf"
	"github.com/openaudio/jackbridge/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jackbridge",
		Short: "Bridge a real-time audio capture engine to a downstream sink",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		logging.Fatal("error setting up flags", "error", err)
	}

	rootCmd.AddCommand(
		capture.Command(settings),
		devices.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if settings.Debug {
			logging.Init(slog.LevelDebug)
		}
		return conf.ValidateSettings(settings)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
// Defaults come from viper so config file values show up in --help and flags
// take precedence when set.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Engine.Device, "device", viper.GetString("engine.device"), "Capture device identifier or name match")
	rootCmd.PersistentFlags().IntVarP(&settings.Engine.Channels, "channels", "c", viper.GetInt("engine.channels"), "Number of input channels to capture")
	rootCmd.PersistentFlags().BoolVar(&settings.Engine.StartServer, "startserver", viper.GetBool("engine.startserver"), "Permit starting the audio server if absent")
	rootCmd.PersistentFlags().IntVar(&settings.Engine.SampleRate, "samplerate", viper.GetInt("engine.samplerate"), "Capture sample rate in Hz")
	rootCmd.PersistentFlags().IntVar(&settings.Engine.PeriodSize, "periodsize", viper.GetInt("engine.periodsize"), "Capture period size in frames")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
