package alert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/config"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient overrides the parts of mqtt.Client the notifier uses
type fakeClient struct {
	mqtt.Client
	connectErr error
	publishErr error
	connected   bool
	disconnects int
	messages    []published
}

func (c *fakeClient) Connect() mqtt.Token {
	if c.connectErr == nil {
		c.connected = true
	}
	return newFakeToken(c.connectErr)
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Disconnect(uint) {
	c.connected = false
	c.disconnects++
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	if c.publishErr == nil {
		c.messages = append(c.messages, published{topic: topic, qos: qos, payload: payload.([]byte)})
	}
	return newFakeToken(c.publishErr)
}

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled:        true,
		Broker:         "localhost:1883",
		ClientID:       "floorwatch-test",
		Topic:          "floorwatch/alerts",
		QoS:            1,
		ConnectTimeout: time.Second,
	}
}

func TestMQTTNotifier_NotConnected(t *testing.T) {
	n := NewMQTTNotifier(testMQTTConfig(), logger.NewNopLogger())
	assert.Equal(t, "mqtt", n.Name())

	err := n.Notify(context.Background(), New(KindDetection, "water", time.Now()))
	assert.Error(t, err)
	_, failed := n.Stats()
	assert.Equal(t, uint64(1), failed)
}

func TestMQTTNotifier_Publish(t *testing.T) {
	n := NewMQTTNotifier(testMQTTConfig(), logger.NewNopLogger())
	fc := &fakeClient{}
	n.client = fc

	require.NoError(t, n.Connect(context.Background()))

	a := New(KindDetection, "water detected", time.Now())
	require.NoError(t, n.Notify(context.Background(), a))

	require.Len(t, fc.messages, 1)
	assert.Equal(t, "floorwatch/alerts/detection", fc.messages[0].topic)
	assert.Equal(t, byte(1), fc.messages[0].qos)

	var decoded Alert
	require.NoError(t, json.Unmarshal(fc.messages[0].payload, &decoded))
	assert.Equal(t, a.ID, decoded.ID)

	sent, _ := n.Stats()
	assert.Equal(t, uint64(1), sent)

	require.NoError(t, n.Close())
	assert.False(t, fc.connected)
}

func TestMQTTNotifier_ConnectFailure(t *testing.T) {
	n := NewMQTTNotifier(testMQTTConfig(), logger.NewNopLogger())
	fc := &fakeClient{connectErr: errors.New("connection refused")}
	n.client = fc

	err := n.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "localhost:1883")
	assert.Equal(t, 1, fc.disconnects, "a failed connect must stop background retries")
}

func TestMQTTNotifier_CloseWhileNotConnected(t *testing.T) {
	n := NewMQTTNotifier(testMQTTConfig(), logger.NewNopLogger())
	fc := &fakeClient{}
	n.client = fc

	require.NoError(t, n.Close())
	assert.Equal(t, 1, fc.disconnects)
}

func TestMQTTNotifier_PublishFailure(t *testing.T) {
	n := NewMQTTNotifier(testMQTTConfig(), logger.NewNopLogger())
	n.client = &fakeClient{publishErr: errors.New("not authorized")}
	require.NoError(t, n.Connect(context.Background()))

	err := n.Notify(context.Background(), New(KindDetection, "water", time.Now()))
	assert.ErrorContains(t, err, "not authorized")
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
}
