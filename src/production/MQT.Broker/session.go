package mqtbroker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
)

var (
	ErrConnectTimeout = errors.New("broker connect timed out")
	ErrPublishTimeout = errors.New("broker did not acknowledge publish in time")
	ErrStateTimeout   = errors.New("timed out waiting for broker state")
	ErrNotConnected   = errors.New("broker session not connected")
)

// MessageHandler receives the topic and payload of an inbound message.
// It runs on paho's goroutine and must not block for long.
type MessageHandler func(topic string, payload []byte)

// ClientFactory builds the underlying paho client
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

type subscription struct {
	topic   string
	handler MessageHandler
}

// Session is one broker connection with an observable connection state
type Session struct {
	cfg       config.MQTTConfig
	clientID  string
	logger    *logger.Logger
	newClient ClientFactory

	state *stateMachine

	mu     sync.Mutex
	client mqtt.Client
	subs   []subscription
}

// Option customises a Session
type Option func(*Session)

// WithClientFactory replaces mqtt.NewClient
func WithClientFactory(f ClientFactory) Option {
	return func(s *Session) { s.newClient = f }
}

// NewSession creates a disconnected session
func NewSession(cfg config.MQTTConfig, log *logger.Logger, opts ...Option) *Session {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "aq-" + uuid.NewString()
	}
	s := &Session{
		cfg:       cfg,
		clientID:  clientID,
		logger:    log.WithComponent("mqtt").WithField("broker", cfg.BrokerURL()),
		newClient: mqtt.NewClient,
		state:     newStateMachine(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ClientID returns the MQTT client id in use
func (s *Session) ClientID() string {
	return s.clientID
}

// State returns the current connection state
func (s *Session) State() State {
	return s.state.get()
}

// IsConnected reports whether the session can publish
func (s *Session) IsConnected() bool {
	return s.state.get().satisfies(StateConnected)
}

// AwaitState blocks until the session reaches want or timeout elapses
func (s *Session) AwaitState(ctx context.Context, want State, timeout time.Duration) error {
	return s.state.await(ctx, want, timeout)
}

func (s *Session) clientOptions() (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL()).
		SetClientID(s.clientID).
		SetOrderMatters(false).
		SetKeepAlive(s.cfg.KeepAlive).
		SetPingTimeout(s.cfg.PingTimeout).
		SetConnectTimeout(s.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetCleanSession(s.cfg.ClientID == "")

	if s.cfg.BrokerUser != "" {
		opts.SetUsername(s.cfg.BrokerUser)
		opts.SetPassword(s.cfg.BrokerPass)
	}

	if s.cfg.UseTLS {
		tlsCfg, err := tlsConfig(s.cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnect = s.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.state.set(StateDisconnected)
		s.logger.Logger.Error().Err(err).Msg("MQTT connection lost")
	}
	opts.OnReconnecting = func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		s.state.set(StateConnecting)
		s.logger.Logger.Info().Msg("MQTT reconnecting")
	}
	return opts, nil
}

func (s *Session) onConnect(c mqtt.Client) {
	s.state.set(StateConnected)
	s.logger.Logger.Info().Str("client_id", s.clientID).Msg("MQTT connected")

	s.mu.Lock()
	subs := append([]subscription(nil), s.subs...)
	s.mu.Unlock()
	for _, sub := range subs {
		if err := s.subscribe(c, sub); err != nil {
			s.logger.Logger.Error().Err(err).Str("topic", sub.topic).Msg("Failed to subscribe to MQTT topic")
		}
	}
}

// Connect dials the broker and waits for the CONNACK up to the connect timeout.
// On timeout the session is left faulted.
func (s *Session) Connect(ctx context.Context) error {
	opts, err := s.clientOptions()
	if err != nil {
		s.state.set(StateFaulted)
		return fmt.Errorf("failed to build MQTT options: %w", err)
	}

	client := s.newClient(opts)
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	s.state.set(StateConnecting)
	s.logger.Logger.Info().Dur("timeout", s.cfg.ConnectTimeout).Msg("Connecting to MQTT broker")

	token := client.Connect()
	timer := time.NewTimer(s.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		s.state.set(StateFaulted)
		return ctx.Err()
	case <-timer.C:
		s.state.set(StateFaulted)
		return fmt.Errorf("%w after %s", ErrConnectTimeout, s.cfg.ConnectTimeout)
	}

	if err := token.Error(); err != nil {
		s.state.set(StateFaulted)
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	// OnConnect normally does this first; fake clients may not call it
	s.state.set(StateConnected)
	return nil
}

// Publish sends one message and blocks until the broker acknowledges it
// or the publish timeout elapses.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil || !s.IsConnected() {
		return ErrNotConnected
	}

	s.state.set(StatePublishing)
	token := client.Publish(topic, s.cfg.QoS, false, payload)
	if !token.WaitTimeout(s.cfg.PublishTimeout) {
		s.state.set(StateFaulted)
		return fmt.Errorf("%w: topic %s after %s", ErrPublishTimeout, topic, s.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		if client.IsConnectionOpen() {
			s.state.set(StateConnected)
		} else {
			s.state.set(StateFaulted)
		}
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	s.state.set(StateConnected)
	return nil
}

// Subscribe registers handler for topic. The subscription is renewed on every reconnect.
func (s *Session) Subscribe(topic string, handler MessageHandler) error {
	sub := subscription{topic: topic, handler: handler}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	client := s.client
	s.mu.Unlock()

	if client == nil || !s.IsConnected() {
		return nil
	}
	return s.subscribe(client, sub)
}

func (s *Session) subscribe(c mqtt.Client, sub subscription) error {
	topic := sub.topic
	if s.cfg.SharedGroup != "" {
		topic = fmt.Sprintf("$share/%s/%s", s.cfg.SharedGroup, sub.topic)
	}
	s.logger.Logger.Info().Str("topic", topic).Msg("Subscribing to MQTT topic")

	token := c.Subscribe(topic, s.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
		sub.handler(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		return fmt.Errorf("%w: subscribe to %s", ErrStateTimeout, topic)
	}
	return token.Error()
}

// Disconnect closes the connection after letting in-flight work finish
func (s *Session) Disconnect() {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(250)
	}
	s.state.set(StateDisconnected)
	s.logger.Logger.Info().Msg("MQTT disconnected")
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file %s", caFile)
	}
	cfg.RootCAs = cp
	return cfg, nil
}
