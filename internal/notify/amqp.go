package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

type amqpPublisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPMirror republishes every session event to a fanout exchange so other
// services can follow generation progress.
type AMQPMirror struct {
	mu       sync.Mutex
	ch       amqpPublisher
	closer   func() error
	exchange string
	logger   *slog.Logger
}

type mirroredEvent struct {
	SessionID string `json:"session_id"`
	Event
}

// DialAMQP connects to url and declares a durable fanout exchange.
func DialAMQP(url, exchange string) (*AMQPMirror, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening AMQP channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %q: %w", exchange, err)
	}
	m := newAMQPMirror(ch, exchange)
	m.closer = conn.Close
	return m, nil
}

func newAMQPMirror(ch amqpPublisher, exchange string) *AMQPMirror {
	return &AMQPMirror{ch: ch, exchange: exchange, closer: func() error { return nil }, logger: slog.Default()}
}

// Notify publishes ev with the session id as routing key. Failures are logged
// and never block the pipeline.
func (m *AMQPMirror) Notify(sessionID string, ev Event) {
	body, err := json.Marshal(mirroredEvent{SessionID: sessionID, Event: ev})
	if err != nil {
		m.logger.Warn("marshaling mirrored event", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	err = m.ch.Publish(m.exchange, sessionID, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Type:        string(ev.Kind),
		Body:        body,
	})
	if err != nil {
		m.logger.Warn("mirroring event to AMQP failed", "session_id", sessionID, "error", err)
	}
}

func (m *AMQPMirror) Close() error {
	return m.closer()
}
