package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/config"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

const publishTimeout = 5 * time.Second

// MQTTNotifier publishes alerts as JSON to an MQTT topic
type MQTTNotifier struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	logger *logger.Logger

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTTNotifier builds the client without connecting
func NewMQTTNotifier(cfg config.MQTTConfig, log *logger.Logger) *MQTTNotifier {
	n := &MQTTNotifier{cfg: cfg, logger: log}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)

	opts.OnConnect = func(mqtt.Client) {
		n.setConnected(true)
		log.Info("MQTT connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		n.setConnected(false)
		log.Warn("MQTT connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	n.client = mqtt.NewClient(opts)
	return n
}

// brokerURL adds the tcp scheme to a bare host:port
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func (n *MQTTNotifier) Name() string { return "mqtt" }

// Connect waits up to the connect timeout for the broker session
func (n *MQTTNotifier) Connect(ctx context.Context) error {
	n.logger.Info("Connecting to MQTT broker", "broker", n.cfg.Broker)

	token := n.client.Connect()
	timeout := n.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := waitToken(ctx, token, timeout); err != nil {
		// stop the client's background connect retries
		n.client.Disconnect(0)
		n.setConnected(false)
		return fmt.Errorf("mqtt connect to %s: %w", n.cfg.Broker, err)
	}
	n.setConnected(true)
	return nil
}

// Notify publishes the alert to <topic>/<kind>
func (n *MQTTNotifier) Notify(ctx context.Context, a Alert) error {
	if !n.isConnected() {
		n.countError()
		return errors.New("mqtt not connected")
	}

	payload, err := a.JSON()
	if err != nil {
		n.countError()
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	topic := n.cfg.Topic + "/" + string(a.Kind)
	token := n.client.Publish(topic, n.cfg.QoS, false, payload)
	if err := waitToken(ctx, token, publishTimeout); err != nil {
		n.countError()
		return fmt.Errorf("mqtt publish: %w", err)
	}

	n.mu.Lock()
	n.published++
	n.mu.Unlock()

	n.logger.Debug("Alert published", "topic", topic, "qos", n.cfg.QoS, "size", len(payload))
	return nil
}

// Close disconnects from the broker and stops any pending reconnects
func (n *MQTTNotifier) Close() error {
	if n.client == nil {
		return nil
	}
	wasConnected := n.client.IsConnected()
	n.client.Disconnect(250)
	n.setConnected(false)
	if wasConnected {
		n.logger.Info("MQTT disconnected")
	}
	return nil
}

// Stats returns published and failed publish counts
func (n *MQTTNotifier) Stats() (published, failed uint64) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.published, n.errors
}

func (n *MQTTNotifier) setConnected(v bool) {
	n.mu.Lock()
	n.connected = v
	n.mu.Unlock()
}

func (n *MQTTNotifier) isConnected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connected
}

func (n *MQTTNotifier) countError() {
	n.mu.Lock()
	n.errors++
	n.mu.Unlock()
}

// waitToken waits for a paho token, the timeout or ctx, whichever is first
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}
