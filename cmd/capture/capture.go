// Package capture implements the capture command: run a bridge session
// until interrupted.
package capture

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openaudio/jackbridge/internal/bridge"
	"github.com/openaudio/jackbridge/internal/conf"
	"github.com/openaudio/jackbridge/internal/engine"
	"github.com/openaudio/jackbridge/internal/logging"
	"github.com/openaudio/jackbridge/internal/observability"
	"github.com/openaudio/jackbridge/internal/sink"
)

// Command returns the capture command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture audio and forward it to the configured sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(settings)
		},
	}

	cmd.PersistentFlags().StringVar(&settings.Sink.Type, "sink", viper.GetString("sink.type"), "Sink type: wav, mqtt or discard")
	cmd.PersistentFlags().StringVar(&settings.Sink.Wav.Path, "wavpath", viper.GetString("sink.wav.path"), "Output path for the wav sink")
	cmd.PersistentFlags().BoolVar(&settings.Metrics.Enabled, "metrics", viper.GetBool("metrics.enabled"), "Expose Prometheus metrics")

	return cmd
}

func runCapture(settings *conf.Settings) error {
	logger := logging.ForService("capture")

	snk, err := buildSink(settings)
	if err != nil {
		return err
	}

	eng := engine.NewMalgoEngine(settings.Engine.SampleRate, uint32(settings.Engine.PeriodSize))
	eng.Debug = settings.Debug

	var sessionOpts []bridge.Option
	var endpoint *observability.Endpoint
	if settings.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		bridgeMetrics, err := observability.NewBridgeMetrics(registry)
		if err != nil {
			return fmt.Errorf("failed to set up metrics: %w", err)
		}
		sessionOpts = append(sessionOpts, bridge.WithMetrics(bridgeMetrics.ForClient(settings.Engine.ClientName)))
		endpoint = observability.NewEndpoint(settings.Metrics.Listen, registry)
		endpoint.Start()
	}

	session := bridge.NewSession(eng, snk, bridge.Config{
		Device:       settings.Engine.Device,
		Channels:     settings.Engine.Channels,
		StartServer:  settings.Engine.StartServer,
		PollInterval: settings.PollInterval(),
	}, sessionOpts...)

	if err := session.Start(); err != nil {
		_ = snk.Close()
		return err
	}

	logger.Info("capturing", "device", settings.Engine.Device, "sink", settings.Sink.Type)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if err := session.Stop(); err != nil {
		logger.Warn("session stop failed", "error", err)
	}
	if err := snk.Close(); err != nil {
		logger.Warn("sink close failed", "error", err)
	}
	if endpoint != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = endpoint.Stop(ctx)
	}
	return nil
}

// buildSink constructs the sink selected by the configuration.
func buildSink(settings *conf.Settings) (sink.Sink, error) {
	switch settings.Sink.Type {
	case "wav":
		return sink.NewWavSink(settings.Sink.Wav.Path, settings.Engine.SampleRate, settings.Engine.Channels)
	case "mqtt":
		return sink.NewMQTTLevelSink(sink.MQTTConfig{
			Broker:   settings.Sink.MQTT.Broker,
			Topic:    settings.Sink.MQTT.Topic,
			ClientID: settings.Sink.MQTT.ClientID,
			Username: settings.Sink.MQTT.Username,
			Password: settings.Sink.MQTT.Password,
		})
	case "discard":
		return sink.NewDiscardSink(), nil
	}
	return nil, fmt.Errorf("unknown sink type: %q", settings.Sink.Type)
}
