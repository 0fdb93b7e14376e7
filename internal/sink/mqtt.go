package sink

import (
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/openaudio/jackbridge/internal/errors"
	"github.com/openaudio/jackbridge/internal/logging"
)

const mqttConnectTimeout = 30 * time.Second

// MQTTConfig configures the MQTT level sink connection.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

// MQTTLevelSink publishes per-block level telemetry to an MQTT topic instead
// of forwarding the audio itself. Useful for monitoring a capture chain from
// a broker without moving sample data.
type MQTTLevelSink struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger
}

// levelMessage is the JSON payload published per block.
type levelMessage struct {
	Timestamp uint64 `json:"timestamp"`
	Frames    int    `json:"frames"`
	Channels  int    `json:"channels"`
	Level     int    `json:"level"`
	Clipping  bool   `json:"clipping"`
}

// NewMQTTLevelSink connects to the broker and returns a level sink.
func NewMQTTLevelSink(cfg MQTTConfig) (*MQTTLevelSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, errors.Newf("timed out connecting to MQTT broker %s", cfg.Broker).
			Component("sink").
			Category(errors.CategoryMQTTConnection).
			Context("broker", cfg.Broker).
			Build()
	}
	if err := token.Error(); err != nil {
		return nil, errors.New(err).
			Component("sink").
			Category(errors.CategoryMQTTConnection).
			Context("broker", cfg.Broker).
			Build()
	}

	return &MQTTLevelSink{
		client: client,
		topic:  cfg.Topic,
		logger: logging.ForService("sink").With("sink", "mqtt", "topic", cfg.Topic),
	}, nil
}

// WriteBlock publishes the block's level reading. Publishing is fire and
// forget at QoS 0 so the transfer worker is never blocked on the broker.
func (s *MQTTLevelSink) WriteBlock(block *Block) error {
	level := BlockLevel(block)

	payload, err := json.Marshal(levelMessage{
		Timestamp: block.Timestamp,
		Frames:    block.Frames,
		Channels:  len(block.Channels),
		Level:     level.Level,
		Clipping:  level.Clipping,
	})
	if err != nil {
		return errors.New(err).
			Component("sink").
			Category(errors.CategoryMQTTPublish).
			Context("topic", s.topic).
			Build()
	}

	token := s.client.Publish(s.topic, 0, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Warn("level publish failed", "error", err)
		}
	}()
	return nil
}

// Close disconnects from the broker.
func (s *MQTTLevelSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
