// Package messaging provides a NATS client wrapper used as the fanout bus
// between server nodes. Each conversation room maps to one subject; every
// node with a local subscriber for the room holds one subscription.
package messaging

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "messaging-core",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Client wraps the NATS connection. It implements hub.Bus.
type Client struct {
	conn *nats.Conn
}

// Connect establishes the NATS connection with the given config. It returns
// an error if the initial connection fails; later disconnects are retried by
// the underlying client.
func Connect(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("nats: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats: reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", config.URL, err)
	}
	return &Client{conn: nc}, nil
}

// Publish sends data to the given subject. Publishing to a subject with no
// subscribers is a no-op, which is exactly the broadcast contract for rooms
// with no open connections.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the subject and returns a function that
// cancels the subscription.
func (c *Client) Subscribe(subject string, handler func(data []byte)) (func() error, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return sub.Unsubscribe, nil
}

// Close drains the connection, letting in-flight deliveries finish.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		log.Printf("nats: drain: %v", err)
	}
	log.Printf("nats: client closed")
}
