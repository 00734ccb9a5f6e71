package libbus

import (
	"context"
	"log/slog"
	"sync"
)

// InMem is the single-process Messenger; no network involved.
type InMem struct {
	mu      sync.RWMutex
	closed  bool
	nextID  uint64
	streams map[string]map[uint64]chan<- []byte
}

func NewInMem() *InMem {
	return &InMem{streams: make(map[string]map[uint64]chan<- []byte)}
}

func (p *InMem) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if subject == "" {
		return ErrEmptySubject
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrConnectionClosed
	}
	for _, ch := range p.streams[subject] {
		if !offer(ch, data) {
			slog.Debug("inmem bus dropped message for slow subscriber", "subject", subject)
		}
	}
	return nil
}

func (p *InMem) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if subject == "" {
		return nil, ErrEmptySubject
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	p.nextID++
	id := p.nextID
	if p.streams[subject] == nil {
		p.streams[subject] = make(map[uint64]chan<- []byte)
	}
	p.streams[subject][id] = ch
	p.mu.Unlock()

	sub := &inmemSubscription{bus: p, subject: subject, id: id}
	context.AfterFunc(ctx, func() { _ = sub.Unsubscribe() })
	return sub, nil
}

func (p *InMem) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.streams = make(map[string]map[uint64]chan<- []byte)
	return nil
}

type inmemSubscription struct {
	bus     *InMem
	subject string
	id      uint64
}

func (s *inmemSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.streams[s.subject]
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(s.bus.streams, s.subject)
	}
	return nil
}

var _ Messenger = (*InMem)(nil)
