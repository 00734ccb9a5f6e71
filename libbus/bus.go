// Package libbus is a thin publish/subscribe layer used to nudge readers when
// something they poll for has changed. Delivery is best effort: a subscriber
// whose channel is full misses the message.
package libbus

import (
	"context"
	"errors"
)

var (
	ErrConnectionClosed = errors.New("libbus: connection closed")
	ErrEmptySubject     = errors.New("libbus: empty subject")
)

// Messenger publishes fire-and-forget messages and streams them to subscribers.
type Messenger interface {
	Publish(ctx context.Context, subject string, data []byte) error
	// Stream delivers every message on subject to ch until ctx is done or the
	// subscription is cancelled. ch is never closed by the messenger.
	Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error)
	Close() error
}

type Subscription interface {
	Unsubscribe() error
}

// offer hands data to ch without blocking the publisher.
func offer(ch chan<- []byte, data []byte) bool {
	select {
	case ch <- data:
		return true
	default:
		return false
	}
}
