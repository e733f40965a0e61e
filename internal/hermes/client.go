// Package hermes publishes interview lifecycle events over NATS.
package hermes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	defaultName          = "interviewd"
	defaultMaxReconnects = 60
	defaultReconnectWait = 2 * time.Second
)

// Config describes the NATS connection. Zero fields take the defaults.
type Config struct {
	URL           string
	Token         string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewClient connects to NATS. A server that is down at startup is retried in
// the background; publishes are buffered until the connection comes up.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	nc, err := nats.Connect(cfg.URL, connectOptions(cfg, logger)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	if !nc.IsConnected() {
		logger.Warn("nats unavailable, retrying in background", "url", cfg.URL)
	}
	return &Client{conn: nc, logger: logger}, nil
}

func connectOptions(cfg Config, logger *slog.Logger) []nats.Option {
	name := cfg.Name
	if name == "" {
		name = defaultName
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = defaultMaxReconnects
	}
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = defaultReconnectWait
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "server", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	return opts
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// Close flushes pending events before closing the connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed", "error", err)
		c.conn.Close()
	}
}

// Nop discards events. It stands in when no NATS URL is configured.
type Nop struct{}

func (Nop) Publish(string, any) error { return nil }
