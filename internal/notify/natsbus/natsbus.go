// Package natsbus publishes live updates onto NATS subjects so that services other
// than the gateway can observe message status changes.
package natsbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"wagate/internal/notify"
)

// Connect dials NATS with reconnects enabled forever; publishes while disconnected
// are buffered by the client up to its reconnect buffer and dropped after that.
func Connect(url, name string, log *slog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("nats connection closed")
		}),
	)
}

// Publisher is the part of *nats.Conn used here.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Broadcaster publishes each event to "<prefix>.<event>".
type Broadcaster struct {
	Conn   Publisher
	Prefix string
}

func New(conn Publisher, prefix string) *Broadcaster {
	if prefix == "" {
		prefix = "wagate.events"
	}
	return &Broadcaster{Conn: conn, Prefix: prefix}
}

func (b *Broadcaster) Subject(event string) string { return b.Prefix + "." + event }

func (b *Broadcaster) Broadcast(_ context.Context, event string, payload any) error {
	data, err := json.Marshal(notify.NewEnvelope(event, payload))
	if err != nil {
		return err
	}
	return b.Conn.Publish(b.Subject(event), data)
}

var _ notify.Broadcaster = (*Broadcaster)(nil)
