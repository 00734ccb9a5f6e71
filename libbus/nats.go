package libbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type Config struct {
	NATSURL      string `json:"nats_url"`
	NATSUser     string `json:"nats_user"`
	NATSPassword string `json:"nats_password"`
}

type ps struct {
	nc *nats.Conn
}

// NewPubSub connects to the NATS server described by cfg.
func NewPubSub(ctx context.Context, cfg *Config) (Messenger, error) {
	opts := []nats.Option{
		nats.Name("chatsync"),
		nats.Timeout(10 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
	}
	if cfg.NATSUser != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("libbus: connect %s: %w", cfg.NATSURL, err)
	}
	return &ps{nc: nc}, nil
}

func (p *ps) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if subject == "" {
		return ErrEmptySubject
	}
	if p.nc.IsClosed() {
		return ErrConnectionClosed
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return translateNATSError(err)
	}
	return nil
}

func (p *ps) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if subject == "" {
		return nil, ErrEmptySubject
	}
	if p.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	sub, err := p.nc.Subscribe(subject, func(m *nats.Msg) {
		if !offer(ch, m.Data) {
			slog.Debug("nats bus dropped message for slow subscriber", "subject", subject)
		}
	})
	if err != nil {
		return nil, translateNATSError(err)
	}
	context.AfterFunc(ctx, func() { _ = sub.Unsubscribe() })
	return &natsSubscription{sub: sub}, nil
}

func (p *ps) Close() error {
	p.nc.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}

func translateNATSError(err error) error {
	if errors.Is(err, nats.ErrConnectionClosed) {
		return ErrConnectionClosed
	}
	return fmt.Errorf("libbus: %w", err)
}

var _ Messenger = (*ps)(nil)
