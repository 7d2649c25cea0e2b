// Package mqtt accepts device events published to an MQTT broker and answers
// each one on the device's ack topic.
package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xelth-com/sensestamp/internal/apperr"
	"github.com/xelth-com/sensestamp/internal/config"
	"github.com/xelth-com/sensestamp/internal/services/ingest"
)

const (
	qos            = 1
	handleTimeout  = 10 * time.Second
	publishTimeout = 5 * time.Second

	// DefaultConnectTimeout bounds the initial connect; paho keeps retrying afterwards.
	DefaultConnectTimeout = 10 * time.Second
)

// AckTopic returns the topic a device listens on for ingestion results
func AckTopic(deviceID string) string {
	return fmt.Sprintf("sensestamp/%s/ack", deviceID)
}

// Ingester runs the ingestion pipeline
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Receipt, error)
}

// Subscriber feeds MQTT messages into the ingestion pipeline
type Subscriber struct {
	cfg      config.MQTTConfig
	ingester Ingester
	logger   zerolog.Logger

	client         paho.Client
	publish        func(topic string, payload []byte) error
	connectTimeout time.Duration
}

// NewSubscriber creates a subscriber; call Connect to start consuming.
func NewSubscriber(cfg config.MQTTConfig, ingester Ingester, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		cfg:      cfg,
		ingester: ingester,
		logger:   logger.With().Str("component", "mqtt").Logger(),

		connectTimeout: DefaultConnectTimeout,
	}
}

// Connect dials the broker and subscribes to the event topic. The
// subscription is renewed on every reconnect. An unreachable broker does not
// block past the connect timeout: Connect returns nil and paho keeps retrying
// in the background until Close.
func (s *Subscriber) Connect() error {
	if !s.cfg.Enabled() {
		return fmt.Errorf("mqtt broker not configured")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOrderMatters(false)

	opts.OnConnect = func(client paho.Client) {
		s.logger.Info().Str("broker", s.cfg.Broker).Msg("connected")
		token := client.Subscribe(s.cfg.Topic, qos, s.onMessage)
		if !token.WaitTimeout(publishTimeout) {
			s.logger.Error().Str("topic", s.cfg.Topic).Msg("subscribe timed out")
			return
		}
		if err := token.Error(); err != nil {
			s.logger.Error().Err(err).Str("topic", s.cfg.Topic).Msg("subscribe failed")
			return
		}
		s.logger.Info().Str("topic", s.cfg.Topic).Msg("subscribed")
	}

	opts.OnConnectionLost = func(_ paho.Client, err error) {
		s.logger.Warn().Err(err).Msg("connection lost")
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(s.connectTimeout) {
		s.logger.Warn().Str("broker", s.cfg.Broker).Dur("timeout", s.connectTimeout).Msg("broker unreachable, retrying in background")
	} else if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	s.client = client
	s.publish = func(topic string, payload []byte) error {
		token := client.Publish(topic, qos, false, payload)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("publish to %s timed out", topic)
		}
		return token.Error()
	}
	return nil
}

// Close disconnects from the broker
func (s *Subscriber) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}

func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	s.handleMessage(ctx, msg.Payload())
}

// handleMessage ingests one payload and publishes the outcome to the
// device's ack topic. Messages without a usable device_id get no ack.
func (s *Subscriber) handleMessage(ctx context.Context, payload []byte) {
	rid := uuid.NewString()
	lg := s.logger.With().Str("request_id", rid).Logger()
	ctx = lg.WithContext(ctx)

	topic, body, ok := s.process(ctx, rid, payload)
	if !ok {
		lg.Warn().Msg("dropping message without a valid device_id")
		return
	}

	if s.publish == nil {
		return
	}
	if err := s.publish(topic, body); err != nil {
		lg.Error().Err(err).Str("topic", topic).Msg("publishing ack")
	}
}

func (s *Subscriber) process(ctx context.Context, rid string, payload []byte) (topic string, body []byte, ok bool) {
	req, err := ingest.ParseRequest(bytes.NewReader(payload))

	deviceID := req.DeviceID
	if err != nil {
		deviceID = peekDeviceID(payload)
	}
	if !validTopicLevel(deviceID) {
		return "", nil, false
	}

	var result interface{}
	if err == nil {
		var receipt *ingest.Receipt
		receipt, err = s.ingester.Ingest(ctx, req)
		result = receipt
	}
	if err != nil {
		_, resp := apperr.ToResponse(err, rid)
		result = resp
	}

	body, mErr := json.Marshal(result)
	if mErr != nil {
		zerolog.Ctx(ctx).Error().Err(mErr).Msg("encoding ack")
		return "", nil, false
	}
	return AckTopic(deviceID), body, true
}

func peekDeviceID(payload []byte) string {
	var probe struct {
		DeviceID string `json:"device_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return strings.TrimSpace(probe.DeviceID)
}

// validTopicLevel rejects ids that would escape or wildcard the ack topic
func validTopicLevel(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#\x00")
}
