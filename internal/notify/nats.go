package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	URL            string
	Name           string
	SubjectPrefix  string
	ConnectTimeout time.Duration
}

// NATSPublisher publishes events as JSON on core NATS subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

// ConnectNATS dials the configured server.
func ConnectNATS(cfg NATSConfig, log *slog.Logger) (*NATSPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("no NATS url configured")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "castwright"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from NATS", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("reconnected to NATS", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info("connected to NATS", slog.String("url", cfg.URL))

	return &NATSPublisher{conn: conn, prefix: cfg.SubjectPrefix, log: log}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, kind Kind, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subject := Subject(p.prefix, kind)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Healthy reports whether the connection is up.
func (p *NATSPublisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

func (p *NATSPublisher) Close() {
	if p == nil {
		return
	}
	p.log.Info("closing NATS connection")
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
