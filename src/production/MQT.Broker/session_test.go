package mqtbroker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		BrokerHost:     "localhost",
		BrokerPort:     1883,
		Topic:          "airquality/data",
		ClientID:       "test-client",
		QoS:            1,
		KeepAlive:      60 * time.Second,
		PingTimeout:    time.Second,
		ConnectTimeout: 50 * time.Millisecond,
		PublishTimeout: 50 * time.Millisecond,
	}
}

func TestConnectAndPublish(t *testing.T) {
	fc := newFakeClient()
	s := NewSession(testConfig(), logger.Nop(), WithClientFactory(fc.factory))
	assert.Equal(t, StateDisconnected, s.State())

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateConnected, s.State())
	assert.True(t, s.IsConnected())

	require.NoError(t, s.Publish(context.Background(), "airquality/data", []byte(`{"dev":"CL-1"}`)))
	require.Len(t, fc.published, 1)
	assert.Equal(t, byte(1), fc.published[0].qos)
	assert.Equal(t, `{"dev":"CL-1"}`, string(fc.published[0].payload))
	assert.Equal(t, StateConnected, s.State())

	s.Disconnect()
	assert.True(t, fc.disconnected)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestConnectTimeoutFaults(t *testing.T) {
	fc := newFakeClient()
	fc.connectToken = pendingToken()
	s := NewSession(testConfig(), logger.Nop(), WithClientFactory(fc.factory))

	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.Equal(t, StateFaulted, s.State())

	assert.ErrorIs(t, s.Publish(context.Background(), "t", []byte("x")), ErrNotConnected)
	assert.Empty(t, fc.published)
}

func TestConnectRefused(t *testing.T) {
	fc := newFakeClient()
	fc.connectToken = completedToken(errors.New("not authorised"))
	s := NewSession(testConfig(), logger.Nop(), WithClientFactory(fc.factory))

	err := s.Connect(context.Background())
	assert.ErrorContains(t, err, "not authorised")
	assert.Equal(t, StateFaulted, s.State())
}

func TestPublishTimeout(t *testing.T) {
	fc := newFakeClient()
	fc.publishToken = pendingToken()
	s := NewSession(testConfig(), logger.Nop(), WithClientFactory(fc.factory))
	require.NoError(t, s.Connect(context.Background()))

	err := s.Publish(context.Background(), "airquality/data", []byte("{}"))
	assert.ErrorIs(t, err, ErrPublishTimeout)
	assert.Equal(t, StateFaulted, s.State())
}

func TestPublishErrorOnOpenConnection(t *testing.T) {
	fc := newFakeClient()
	fc.publishToken = completedToken(errors.New("packet too large"))
	s := NewSession(testConfig(), logger.Nop(), WithClientFactory(fc.factory))
	require.NoError(t, s.Connect(context.Background()))

	err := s.Publish(context.Background(), "airquality/data", []byte("{}"))
	assert.ErrorContains(t, err, "packet too large")
	assert.NotErrorIs(t, err, ErrPublishTimeout)
	assert.True(t, s.IsConnected())
}

func TestSubscribeRenewedOnConnect(t *testing.T) {
	cfg := testConfig()
	cfg.SharedGroup = "loaders"
	fc := newFakeClient()
	s := NewSession(cfg, logger.Nop(), WithClientFactory(fc.factory))

	var got []string
	require.NoError(t, s.Subscribe("airquality/data", func(topic string, payload []byte) {
		got = append(got, topic+" "+string(payload))
	}))
	require.NoError(t, s.Connect(context.Background()))

	// paho calls OnConnect once the connection is up
	fc.opts.OnConnect(fc)

	require.True(t, fc.deliver("$share/loaders/airquality/data", "airquality/data", []byte("hello")))
	assert.Equal(t, []string{"airquality/data hello"}, got)
}

func TestSubscribeBeforeConnectSubscribesOnce(t *testing.T) {
	fc := newFakeClient()
	s := NewSession(testConfig(), logger.Nop(), WithClientFactory(fc.factory))

	require.NoError(t, s.Subscribe("airquality/data", func(string, []byte) {}))
	assert.Zero(t, fc.subscribes, "nothing is sent before the connection is up")

	require.NoError(t, s.Connect(context.Background()))
	fc.opts.OnConnect(fc)
	assert.Equal(t, 1, fc.subscribes)
}

func TestConnectionLostAndAwait(t *testing.T) {
	fc := newFakeClient()
	s := NewSession(testConfig(), logger.Nop(), WithClientFactory(fc.factory))
	require.NoError(t, s.Connect(context.Background()))

	fc.opts.OnConnectionLost(fc, errors.New("EOF"))
	assert.False(t, s.IsConnected())

	err := s.AwaitState(context.Background(), StateConnected, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrStateTimeout)

	go func() {
		time.Sleep(5 * time.Millisecond)
		fc.opts.OnReconnecting(fc, fc.opts)
		fc.opts.OnConnect(fc)
	}()
	assert.NoError(t, s.AwaitState(context.Background(), StateConnected, time.Second))
}

func TestEmptyClientIDGetsUUID(t *testing.T) {
	cfg := testConfig()
	cfg.ClientID = ""
	a := NewSession(cfg, logger.Nop())
	b := NewSession(cfg, logger.Nop())

	assert.Regexp(t, `^aq-[0-9a-f-]{36}$`, a.ClientID())
	assert.NotEqual(t, a.ClientID(), b.ClientID())
}
