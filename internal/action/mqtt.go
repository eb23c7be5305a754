package action

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/schema"
	"github.com/ciaranashton/relay-agent/internal/tool"
)

type MQTTOptions struct {
	Broker   string `json:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username string `json:"username"`
	Password string `json:"password"`
	ClientID string `json:"clientId"`
	// Topic is used when the model does not pick one.
	Topic  string `json:"topic"`
	QoS    byte   `json:"qos"`
	Retain bool   `json:"retain"`
}

var mqttSchema = schema.Object(
	schema.Optional("topic", schema.String().Describe("Topic to publish to; defaults to the configured topic")),
	schema.Prop("payload", schema.Any().Describe("Message payload; objects are sent as JSON")),
)

// MQTT publishes to a broker. The connection is opened on first publish and
// kept until Close.
type MQTT struct {
	opts   MQTTOptions
	broker *url.URL
	logger *slog.Logger

	mu     sync.Mutex
	cm     *autopaho.ConnectionManager
	cancel context.CancelFunc

	// publish is replaced in tests.
	publish func(ctx context.Context, p *paho.Publish) error
}

func NewMQTT(opts MQTTOptions, logger *slog.Logger) (*MQTT, error) {
	if err := requireOption("mqtt", "broker", opts.Broker); err != nil {
		return nil, err
	}
	u, err := url.Parse(opts.Broker)
	if err != nil {
		return nil, fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	if opts.ClientID == "" {
		opts.ClientID = "relay-agent"
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	a := &MQTT{opts: opts, broker: u, logger: logger}
	a.publish = a.brokerPublish
	return a, nil
}

func (a *MQTT) Name() string { return "mqtt" }

func (a *MQTT) Description() string {
	if a.opts.Topic != "" {
		return fmt.Sprintf("Publish a message to MQTT (default topic %s).", a.opts.Topic)
	}
	return "Publish a message to an MQTT topic."
}

func (a *MQTT) Schema() *schema.Schema { return mqttSchema }

func (a *MQTT) Execute(ctx context.Context, args map[string]any, ectx domain.ExecutionContext) (domain.ActionResult, error) {
	topic := tool.ArgsString(args, "topic")
	if topic == "" {
		topic = a.opts.Topic
	}
	if topic == "" {
		return rejected("no topic given and none configured")
	}

	var payload []byte
	switch p := args["payload"].(type) {
	case string:
		payload = []byte(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return domain.ActionResult{}, fmt.Errorf("encode payload: %w", err)
		}
		payload = b
	}

	if err := a.publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     a.opts.QoS,
		Retain:  a.opts.Retain,
	}); err != nil {
		return domain.ActionResult{}, fmt.Errorf("mqtt publish: %w", err)
	}
	a.logger.Debug("mqtt published", "messageId", ectx.Message.ID, "topic", topic, "bytes", len(payload))
	return ok(map[string]any{"topic": topic, "bytes": len(payload)})
}

func (a *MQTT) brokerPublish(ctx context.Context, p *paho.Publish) error {
	cm, err := a.connection()
	if err != nil {
		return err
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("await connection: %w", err)
	}
	_, err = cm.Publish(ctx, p)
	return err
}

func (a *MQTT) connection() (*autopaho.ConnectionManager, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cm != nil {
		return a.cm, nil
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{a.broker},
		KeepAlive:       30,
		ConnectUsername: a.opts.Username,
		ConnectPassword: []byte(a.opts.Password),
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			a.logger.Info("mqtt connected to broker", "broker", a.opts.Broker)
		},
		OnConnectError: func(err error) {
			a.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: a.opts.ClientID,
		},
	}
	if a.broker.Scheme == "mqtts" || a.broker.Scheme == "ssl" {
		cfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	a.cm, a.cancel = cm, cancel
	return cm, nil
}

// Close disconnects from the broker if a connection was opened.
func (a *MQTT) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cm == nil {
		return nil
	}
	err := a.cm.Disconnect(context.Background())
	a.cancel()
	a.cm = nil
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
