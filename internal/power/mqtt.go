package power

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures an MQTTSource.
type MQTTConfig struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	Topic      string
	Field      string        // JSON field holding the watts, for object payloads
	StaleAfter time.Duration // readings older than this are unavailable; 0 disables

	// ConnectWait bounds the initial connection attempt; 0 means 10s.
	ConnectWait time.Duration
}

// MQTTSource follows a power sensor topic and serves the latest value.
type MQTTSource struct {
	client paho.Client
	topic  string
	field  string
	stale  time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu   sync.Mutex
	last Reading
	seen bool
}

// NewMQTTSource connects to the broker and subscribes to cfg.Topic.
// A broker that is not reachable yet is not an error: the client keeps
// retrying in the background and Read reports unknown until a message arrives.
func NewMQTTSource(cfg MQTTConfig, logger *slog.Logger) (*MQTTSource, error) {
	s := newMQTTSource(cfg, time.Now, logger)

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c paho.Client) {
			// Subscriptions are not kept by a clean session; renew on every connect.
			token := c.Subscribe(s.topic, 0, func(_ paho.Client, m paho.Message) {
				s.handle(m.Payload())
			})
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				logger.Error("power subscribe failed", "topic", s.topic, "error", token.Error())
				return
			}
			logger.Info("power subscribed", "topic", s.topic)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("power broker connection lost", "error", err)
		})

	wait := cfg.ConnectWait
	if wait <= 0 {
		wait = 10 * time.Second
	}

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(wait) {
		logger.Warn("power broker not reachable yet, retrying", "broker", cfg.Broker)
		return s, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to power broker: %w", err)
	}
	return s, nil
}

func newMQTTSource(cfg MQTTConfig, now func() time.Time, logger *slog.Logger) *MQTTSource {
	field := cfg.Field
	if field == "" {
		field = "power"
	}
	return &MQTTSource{
		topic:  cfg.Topic,
		field:  field,
		stale:  cfg.StaleAfter,
		now:    now,
		logger: logger,
	}
}

func (s *MQTTSource) handle(payload []byte) {
	r := ParsePayload(payload, s.field, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen && s.last.Status != r.Status {
		s.logger.Info("power sensor status changed", "from", s.last.Status, "to", r.Status)
	}
	s.last = r
	s.seen = true
}

// Read returns the latest reading. Before the first message it is unknown;
// once the latest message is older than the stale limit it is unavailable.
func (s *MQTTSource) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seen {
		return Reading{Status: StatusUnknown, At: now}, nil
	}
	if s.stale > 0 && now.Sub(s.last.At) > s.stale {
		return Reading{Status: StatusUnavailable, At: s.last.At}, nil
	}
	return s.last, nil
}

// Close disconnects from the broker.
func (s *MQTTSource) Close() error {
	if s.client != nil {
		s.client.Disconnect(1000) // 1 second timeout
	}
	return nil
}
