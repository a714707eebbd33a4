package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ember/cmd/internal/directory"
	"ember/cmd/internal/ids"
	"ember/cmd/internal/message"
)

const (
	eventNewMessage     = "new_message"
	eventMessageDeleted = "message_deleted"

	defaultDeliverTimeout = 5 * time.Second
)

// envelope is the wire shape pushed to a user's channel.
type envelope struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Message wireMessage `json:"message"`
}

type wireMessage struct {
	ID             int64     `json:"id"`
	ChatID         int64     `json:"chat_id"`
	OwnerID        int64     `json:"owner_id"`
	Text           string    `json:"text"`
	ForwardedChats []int64   `json:"forwarded_chats,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Dispatcher implements message.Notifier: it resolves the recipient's channel
// address in the directory and hands one envelope to the transport.
//
// Users without a channel are skipped silently. Transport failures are logged
// and swallowed. The only error a Notify method returns is a failed recipient
// lookup, which callers treat as a defect.
type Dispatcher struct {
	log       *slog.Logger
	dir       directory.Directory
	transport Transport
	timeout   time.Duration

	delivered *prometheus.CounterVec
	failed    *prometheus.CounterVec
	offline   *prometheus.CounterVec
}

// Option configures Dispatcher behavior.
type Option func(*Dispatcher) error

// WithDeliverTimeout bounds each delivery attempt (default: 5s).
func WithDeliverTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		dp.timeout = d
		return nil
	}
}

// NewDispatcher constructs a Dispatcher and registers its delivery counters
// with reg (nil means prometheus.DefaultRegisterer).
func NewDispatcher(log *slog.Logger, dir directory.Directory, transport Transport, reg prometheus.Registerer, opts ...Option) (*Dispatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir == nil || transport == nil {
		return nil, ErrInvalidInput
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	d := &Dispatcher{
		log:       log,
		dir:       dir,
		transport: transport,
		timeout:   defaultDeliverTimeout,
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ember", Subsystem: "notify", Name: "delivered_total",
			Help: "Notifications handed to the transport successfully.",
		}, []string{"type"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ember", Subsystem: "notify", Name: "failed_total",
			Help: "Notifications the transport could not deliver.",
		}, []string{"type"}),
		offline: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ember", Subsystem: "notify", Name: "offline_total",
			Help: "Notifications skipped because the user has no channel.",
		}, []string{"type"}),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	for _, c := range []*prometheus.CounterVec{d.delivered, d.failed, d.offline} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// NotifyNewMessage implements message.Notifier.
func (d *Dispatcher) NotifyNewMessage(ctx context.Context, userID int64, msg message.Message) error {
	return d.dispatch(ctx, userID, eventNewMessage, msg)
}

// NotifyMessageDeleted implements message.Notifier.
func (d *Dispatcher) NotifyMessageDeleted(ctx context.Context, userID int64, msg message.Message) error {
	return d.dispatch(ctx, userID, eventMessageDeleted, msg)
}

func (d *Dispatcher) dispatch(ctx context.Context, userID int64, event string, msg message.Message) error {
	address, online, err := d.dir.ChannelOf(ctx, userID)
	if err != nil {
		return err
	}
	if !online {
		d.offline.WithLabelValues(event).Inc()
		d.log.Debug("notify.skip.offline", "user_id", userID, "type", event)
		return nil
	}

	id, err := ids.NewULID(time.Now())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope{
		ID:   id,
		Type: event,
		Message: wireMessage{
			ID:             msg.ID,
			ChatID:         msg.ChatID,
			OwnerID:        msg.OwnerID,
			Text:           msg.Text,
			ForwardedChats: msg.ForwardedChats,
			CreatedAt:      msg.CreatedAt,
		},
	})
	if err != nil {
		return err
	}

	deliverCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.transport.Deliver(deliverCtx, address, payload); err != nil {
		d.failed.WithLabelValues(event).Inc()
		d.log.Warn("notify.deliver.fail", "user_id", userID, "type", event, "message_id", msg.ID, "err", err)
		return nil
	}

	d.delivered.WithLabelValues(event).Inc()
	d.log.Debug("notify.delivered", "user_id", userID, "type", event, "message_id", msg.ID)
	return nil
}
