package mqttbus

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Handler receives one inbound message.
type Handler func(topic string, payload []byte)

// Client wraps the paho MQTT client with auto-reconnect and resubscription.
type Client struct {
	inner mqtt.Client

	mu   sync.Mutex
	subs map[string]subscription
}

type subscription struct {
	qos     byte
	handler Handler
}

// Options carries broker connection settings.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
}

// New builds a client. Connect must be called before use.
func New(opts Options) *Client {
	c := &Client{subs: make(map[string]subscription)}

	clientID := "ts-sentinel-" + uuid.NewString()[:8]
	pahoOpts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Host, opts.Port)).
		SetClientID(clientID).
		SetKeepAlive(120 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetMaxReconnectInterval(30 * time.Second)

	if opts.Username != "" {
		pahoOpts.SetUsername(opts.Username)
		pahoOpts.SetPassword(opts.Password)
	}

	pahoOpts.SetOnConnectHandler(func(inner mqtt.Client) {
		log.Printf("MQTT: connected to %s:%d as %s", opts.Host, opts.Port, clientID)
		c.resubscribe()
	})
	pahoOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[WARN] MQTT: connection lost: %v — will reconnect", err)
	})

	c.inner = mqtt.NewClient(pahoOpts)
	return c
}

// Connect dials the broker and blocks until the first connection attempt
// resolves.
func (c *Client) Connect() error {
	tok := c.inner.Connect()
	tok.Wait()
	return tok.Error()
}

// Publish sends one message and waits for the broker ack at QoS > 0.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	tok := c.inner.Publish(topic, qos, retained, payload)
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a handler. Subscriptions are replayed on every
// reconnect; the broker forgets them when the session drops.
func (c *Client) Subscribe(topic string, qos byte, handler Handler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	return c.subscribe(topic, qos, handler)
}

func (c *Client) subscribe(topic string, qos byte, handler Handler) error {
	tok := c.inner.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	log.Printf("MQTT: subscribed to %s", topic)
	return nil
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for t, s := range c.subs {
		subs[t] = s
	}
	c.mu.Unlock()

	for topic, sub := range subs {
		if err := c.subscribe(topic, sub.qos, sub.handler); err != nil {
			log.Printf("[ERROR] MQTT: resubscribe %s failed: %v", topic, err)
		}
	}
}

// Close disconnects, allowing in-flight messages a short drain.
func (c *Client) Close() {
	c.inner.Disconnect(250)
}
