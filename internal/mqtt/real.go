package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/fioul-boiler/internal/accum"
	"github.com/sweeney/fioul-boiler/internal/logic"
)

// Config configures a RealPublisher.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	BufferSize  int
}

// RealPublisher publishes to an actual MQTT broker.
// Messages published while disconnected are buffered and replayed, oldest
// first, when the connection comes back.
type RealPublisher struct {
	client paho.Client
	topics Topics
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	buf           *ringBuffer
	connectedOnce bool
}

var _ Publisher = (*RealPublisher)(nil) // Compile-time check

// NewRealPublisher creates a publisher for the given broker.
// A broker that is not reachable yet is not an error: the client keeps
// retrying in the background and messages are buffered meanwhile.
func NewRealPublisher(cfg Config, logger *slog.Logger) (*RealPublisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}

	p := &RealPublisher{
		topics: TopicsFor(cfg.TopicPrefix),
		logger: logger,
		now:    time.Now,
		buf:    newRingBuffer(cfg.BufferSize, logger),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(p.topics.System, willPayload(), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		logger.Warn("mqtt broker not reachable yet, buffering", "broker", cfg.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// onConnect runs on every (re)connection, on a paho goroutine.
func (p *RealPublisher) onConnect(_ paho.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connectedOnce {
		p.logger.Info("mqtt reconnected", "buffered", p.buf.len())
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: EventReconnected})
		if err := p.send(p.topics.System, 1, false, payload); err != nil {
			p.logger.Error("publish reconnected event failed", "error", err)
		}
	} else {
		p.logger.Info("mqtt connected")
	}
	p.connectedOnce = true

	msgs := p.buf.drainAll()
	for i, m := range msgs {
		if err := p.send(m.topic, m.qos, m.retained, m.payload); err != nil {
			// Put the rest back for the next connection.
			for _, rest := range msgs[i:] {
				p.buf.push(rest)
			}
			p.logger.Error("replay buffered messages failed", "remaining", len(msgs)-i, "error", err)
			return
		}
	}
	if len(msgs) > 0 {
		p.logger.Info("replayed buffered messages", "count", len(msgs))
	}
}

// PublishResult sends an engine result (QoS 0, not retained).
func (p *RealPublisher) PublishResult(r logic.Result) error {
	payload, err := FormatResultPayload(r)
	if err != nil {
		return fmt.Errorf("format result payload: %w", err)
	}
	return p.publish(p.topics.State, 0, false, payload)
}

// PublishTotals sends the accumulator buckets (QoS 1, retained).
func (p *RealPublisher) PublishTotals(t accum.Totals) error {
	payload, err := FormatTotalsPayload(t)
	if err != nil {
		return fmt.Errorf("format totals payload: %w", err)
	}
	return p.publish(p.topics.Totals, 1, true, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(p.topics.System, 1, event.Retained, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.client.IsConnectionOpen() {
		p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		return nil
	}
	if err := p.send(topic, qos, retained, payload); err != nil {
		p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		return err
	}
	return nil
}

func (p *RealPublisher) send(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
