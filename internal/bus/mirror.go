package bus

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Mirror copies analysis payloads onto a NATS subject for downstream
// consumers (recorders, dashboards) that do not sit on the MQTT broker.
type Mirror struct {
	conn       *nats.Conn
	maxRetries int
}

// Connect dials the NATS server. The mirror is optional; callers treat a
// dial failure as "run without it".
func Connect(url string) (*Mirror, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	log.Printf("Bus: connected to NATS %s", url)
	return &Mirror{conn: conn, maxRetries: 3}, nil
}

// Publish sends one payload with linear backoff between attempts.
func (m *Mirror) Publish(subject string, data []byte) error {
	var err error
	for i := 0; i <= m.maxRetries; i++ {
		err = m.conn.Publish(subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("publish failed after %d retries: %w", m.maxRetries, err)
}

// Close drains the connection.
func (m *Mirror) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}
