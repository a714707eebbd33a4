package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ember/cmd/internal/directory"
	"ember/cmd/internal/message"
)

type recordingTransport struct {
	addresses []string
	payloads  [][]byte
	err       error
}

func (t *recordingTransport) Deliver(_ context.Context, address string, payload []byte) error {
	if t.err != nil {
		return t.err
	}
	t.addresses = append(t.addresses, address)
	t.payloads = append(t.payloads, payload)
	return nil
}

func newTestDispatcher(t *testing.T, transport Transport) (*Dispatcher, *directory.InMemoryDirectory) {
	t.Helper()

	dir := directory.NewInMemoryDirectory()
	d, err := NewDispatcher(slog.Default(), dir, transport, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d, dir
}

func TestDispatcher_EnvelopeShape(t *testing.T) {
	t.Parallel()

	transport := &recordingTransport{}
	d, dir := newTestDispatcher(t, transport)

	u, err := dir.Register("ada", "ws://push.local/u/1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	msg := message.Message{
		ID: 7, ChatID: 3, OwnerID: u.ID, Text: "hi",
		ForwardedChats: []int64{5},
		CreatedAt:      time.Now().UTC(),
	}
	if err := d.NotifyNewMessage(context.Background(), u.ID, msg); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(transport.payloads) != 1 || transport.addresses[0] != "ws://push.local/u/1" {
		t.Fatalf("expected one delivery to the channel, got %v", transport.addresses)
	}

	var env struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Message struct {
			ID             int64   `json:"id"`
			ChatID         int64   `json:"chat_id"`
			OwnerID        int64   `json:"owner_id"`
			Text           string  `json:"text"`
			ForwardedChats []int64 `json:"forwarded_chats"`
		} `json:"message"`
	}
	if err := json.Unmarshal(transport.payloads[0], &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if len(env.ID) != 26 {
		t.Fatalf("envelope id must be a ULID, got %q", env.ID)
	}
	if env.Type != "new_message" {
		t.Fatalf("type: got %q", env.Type)
	}
	if env.Message.ID != 7 || env.Message.ChatID != 3 || env.Message.Text != "hi" {
		t.Fatalf("message body: got %+v", env.Message)
	}
	if len(env.Message.ForwardedChats) != 1 || env.Message.ForwardedChats[0] != 5 {
		t.Fatalf("forwarded chats: got %v", env.Message.ForwardedChats)
	}
}

func TestDispatcher_OfflineUserIsSilent(t *testing.T) {
	t.Parallel()

	transport := &recordingTransport{}
	d, dir := newTestDispatcher(t, transport)

	u, err := dir.Register("bob", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := d.NotifyMessageDeleted(context.Background(), u.ID, message.Message{ID: 1}); err != nil {
		t.Fatalf("offline notify must not error: %v", err)
	}
	if len(transport.payloads) != 0 {
		t.Fatalf("offline user must not be delivered to, got %d payloads", len(transport.payloads))
	}
}

func TestDispatcher_TransportFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	transport := &recordingTransport{err: errors.New("broker down")}
	d, dir := newTestDispatcher(t, transport)

	u, err := dir.Register("eve", "amqp://broker.local/?key=user.1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := d.NotifyNewMessage(context.Background(), u.ID, message.Message{ID: 2}); err != nil {
		t.Fatalf("transport failure must be swallowed, got %v", err)
	}
}

func TestDispatcher_UnknownRecipient(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t, &recordingTransport{})
	if err := d.NotifyNewMessage(context.Background(), 99, message.Message{ID: 1}); !errors.Is(err, directory.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestRouteTransport_UnroutableScheme(t *testing.T) {
	t.Parallel()

	r := NewRouteTransport()
	err := r.Deliver(context.Background(), "mailto:someone@example.com", []byte("{}"))
	if !errors.Is(err, ErrUnroutableAddress) {
		t.Fatalf("expected ErrUnroutableAddress, got %v", err)
	}
}
