package notify

import (
	"context"

	"github.com/coder/websocket"
)

// WebsocketTransport dials the address, writes one text frame, and closes.
// One connection per delivery keeps the dispatcher stateless; the channel
// address is expected to point at a per-user push endpoint.
type WebsocketTransport struct{}

// Deliver implements Transport.
func (WebsocketTransport) Deliver(ctx context.Context, address string, payload []byte) error {
	conn, _, err := websocket.Dial(ctx, address, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	return conn.Write(ctx, websocket.MessageText, payload)
}
