// Package notify pushes chat events to users over their registered channel
// address. Delivery is best-effort by design: one attempt, bounded by a
// timeout, no retry and no queueing.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnroutableAddress marks a channel address whose scheme no
	// transport handles.
	ErrUnroutableAddress = errors.New("unroutable channel address")
)

// Transport delivers one payload to one channel address.
type Transport interface {
	Deliver(ctx context.Context, address string, payload []byte) error
}

// RouteTransport selects a concrete transport by address scheme:
// ws/wss dial out over WebSocket, amqp/amqps publish to a broker.
type RouteTransport struct {
	ws   Transport
	amqp Transport
}

// NewRouteTransport builds the default scheme router.
func NewRouteTransport() *RouteTransport {
	return &RouteTransport{
		ws:   WebsocketTransport{},
		amqp: AMQPTransport{},
	}
}

// Deliver implements Transport.
func (r *RouteTransport) Deliver(ctx context.Context, address string, payload []byte) error {
	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnroutableAddress, err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return r.ws.Deliver(ctx, address, payload)
	case "amqp", "amqps":
		return r.amqp.Deliver(ctx, address, payload)
	default:
		return fmt.Errorf("%w: scheme %q", ErrUnroutableAddress, u.Scheme)
	}
}
