// Package syncpoller keeps a consumer's view of a room current by re-reading
// the newest messages on a fixed interval and handing over the whole window
// each time.
package syncpoller

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/contenox/chatsync/chatstore"
	"github.com/contenox/chatsync/libbus"
	"github.com/contenox/chatsync/messageservice"
)

type Config struct {
	Interval time.Duration `json:"interval" yaml:"interval"`
	Window   int           `json:"window" yaml:"window"`
}

func DefaultConfig() Config {
	return Config{
		Interval: 2 * time.Second,
		Window:   200,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	return c
}

// Fetcher is satisfied by messageservice.Service.
type Fetcher interface {
	Snapshot(ctx context.Context, roomID string, limit int) ([]*chatstore.Message, error)
}

// SessionEnsurer is satisfied by *session.Bridge.
type SessionEnsurer interface {
	EnsureSession(ctx context.Context) error
}

// CancelFunc ends a subscription. Once it returns, no new onUpdate call
// starts. It may be called more than once and from inside onUpdate.
type CancelFunc func()

type Poller struct {
	fetcher Fetcher
	session SessionEnsurer
	bus     libbus.Messenger
	cfg     Config
	active  atomic.Int64
}

// New returns a Poller. bus is optional; when set, room events wake the
// matching subscriptions ahead of their next tick.
func New(fetcher Fetcher, session SessionEnsurer, bus libbus.Messenger, cfg Config) *Poller {
	return &Poller{
		fetcher: fetcher,
		session: session,
		bus:     bus,
		cfg:     cfg.withDefaults(),
	}
}

// Active is the number of subscription loops still running.
func (p *Poller) Active() int {
	return int(p.active.Load())
}

// Subscribe starts polling roomID in the background. The first snapshot is
// fetched right away, then one per interval. Each snapshot is the full
// window in ascending CreatedAtMillis order. Failed fetches are logged and
// skipped. The subscription ends when the returned CancelFunc is called or
// ctx is done.
func (p *Poller) Subscribe(ctx context.Context, roomID string, onUpdate func([]*chatstore.Message)) CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		ctx:      ctx,
		roomID:   roomID,
		onUpdate: onUpdate,
		cancel:   cancel,
	}

	p.active.Add(1)
	go func() {
		defer p.active.Add(-1)
		p.run(ctx, sub)
	}()
	return sub.stop
}

func (p *Poller) run(ctx context.Context, sub *subscription) {
	if err := p.session.EnsureSession(ctx); err != nil {
		slog.WarnContext(ctx, "polling without session", "room", sub.roomID, "error", err)
	}

	trigger := make(chan struct{}, 1)
	p.wakeOnEvents(ctx, sub.roomID, trigger)

	poll := func() {
		msgs, err := p.fetcher.Snapshot(ctx, sub.roomID, p.cfg.Window)
		if err != nil {
			if ctx.Err() == nil {
				slog.WarnContext(ctx, "poll failed", "room", sub.roomID, "error", err)
			}
			return
		}
		sub.deliver(ordered(msgs))
	}

	// Every tick fetches; a failed cycle is only retried by the next one.
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
		case <-ticker.C:
		}
		poll()
	}
}

func (p *Poller) wakeOnEvents(ctx context.Context, roomID string, trigger chan<- struct{}) {
	if p.bus == nil {
		return
	}
	events := make(chan []byte, 8)
	if _, err := p.bus.Stream(ctx, messageservice.RoomSubject(roomID), events); err != nil {
		slog.WarnContext(ctx, "room events unavailable, polling only", "room", roomID, "error", err)
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-events:
				select {
				case trigger <- struct{}{}:
				default:
				}
			}
		}
	}()
}

// ordered returns a copy of msgs sorted by CreatedAtMillis; equal keys keep
// the store's order.
func ordered(msgs []*chatstore.Message) []*chatstore.Message {
	out := make([]*chatstore.Message, len(msgs))
	copy(out, msgs)
	slices.SortStableFunc(out, func(a, b *chatstore.Message) int {
		return cmp.Compare(a.CreatedAtMillis, b.CreatedAtMillis)
	})
	return out
}

type subscription struct {
	ctx      context.Context
	roomID   string
	onUpdate func([]*chatstore.Message)
	cancel   context.CancelFunc

	mu         sync.Mutex
	cancelled  atomic.Bool
	inCallback atomic.Bool
}

// deliver runs onUpdate unless the subscription was cancelled. The check and
// the call happen under mu so stop can wait for a delivery that already
// passed the check.
func (s *subscription) deliver(msgs []*chatstore.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled.Load() || s.ctx.Err() != nil {
		return
	}
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	s.onUpdate(msgs)
}

func (s *subscription) stop() {
	s.cancelled.Store(true)
	s.cancel()
	// From inside onUpdate mu is already held by this goroutine.
	if !s.inCallback.Load() {
		s.mu.Lock()
		s.cancelled.Store(true)
		s.mu.Unlock()
	}
}
