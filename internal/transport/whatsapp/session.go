// Package whatsapp implements transport.Session on a whatsmeow multi-device client.
package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"wagate/internal/domain"
	"wagate/internal/transport"
)

type Config struct {
	// StoreDialect is "sqlite3" or "postgres".
	StoreDialect         string
	StoreDSN             string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	// PrintQR renders pairing codes on stdout.
	PrintQR bool
}

type Session struct {
	transport.Base

	cfg    Config
	log    *slog.Logger
	db     *sql.DB
	client *whatsmeow.Client

	reconnecting atomic.Bool
	ctx          context.Context
}

// Open loads (or creates) the device session from the session store. It does not
// connect; call Start.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Session, error) {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	waLogger := NewLogger(log.With("component", "whatsmeow"))

	driver := cfg.StoreDialect
	if driver == "postgres" {
		driver = "pgx"
	}
	db, err := sql.Open(driver, cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	container := sqlstore.NewWithDB(db, cfg.StoreDialect, waLogger.Sub("Database"))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("upgrade session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLogger.Sub("Client"))
	client.EnableAutoReconnect = false

	s := &Session{cfg: cfg, log: log, db: db, client: client, ctx: ctx}
	client.AddEventHandler(s.handleEvent)
	return s, nil
}

// Start connects, going through QR pairing when the device has never been linked.
func (s *Session) Start(ctx context.Context) error {
	s.ctx = ctx
	if s.client.Store.ID == nil {
		qrChan, err := s.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		if err := s.Transition(transport.StatePairing); err != nil {
			return err
		}
		if err := s.client.Connect(); err != nil {
			_ = s.Transition(transport.StateDisconnected)
			return fmt.Errorf("connect: %w", err)
		}
		go s.consumeQR(qrChan)
		return nil
	}
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (s *Session) Close() {
	s.client.Disconnect()
	_ = s.Transition(transport.StateDisconnected)
	if err := s.db.Close(); err != nil {
		s.log.Warn("close session store", "err", err)
	}
}

func (s *Session) Send(ctx context.Context, destination, body string) (string, error) {
	if err := s.NotReady(); err != nil {
		return "", err
	}
	if !s.client.IsConnected() {
		return "", &domain.NotReadyError{State: string(transport.StateDisconnected)}
	}
	jid, err := ToJID(destination)
	if err != nil {
		return "", err
	}
	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	if err != nil {
		return "", fmt.Errorf("whatsapp send: %w", err)
	}

	// SendMessage returns once the server acknowledged the message.
	src := sourceAddress(jid)
	ts := resp.Timestamp.Unix()
	s.EmitAck(domain.AckEvent{
		TransportMessageID: resp.ID,
		AckLevel:           levelServerAck,
		SourceAddress:      &src,
		EventTimestamp:     &ts,
	})
	return resp.ID, nil
}

func (s *Session) consumeQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			s.SetQR(item.Code)
			s.log.Info("pairing code available", "expires_in", item.Timeout.String())
			if s.cfg.PrintQR {
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stdout)
			}
		case "success":
			s.SetQR("")
			s.log.Info("device paired")
		case "timeout":
			s.SetQR("")
			_ = s.Transition(transport.StateDisconnected)
			s.log.Warn("pairing timed out")
		default:
			s.log.Warn("pairing event", "event", item.Event, "err", item.Error)
		}
	}
}

func (s *Session) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		s.log.Info("whatsapp connected")
		if err := s.Transition(transport.StateConnected); err != nil {
			s.log.Warn("state change", "err", err)
		}
	case *events.Disconnected:
		s.log.Warn("whatsapp disconnected")
		_ = s.Transition(transport.StateDisconnected)
		go s.reconnect()
	case *events.LoggedOut:
		s.log.Warn("whatsapp logged out", "reason", v.Reason.String())
		s.SetQR("")
		_ = s.Transition(transport.StateDisconnected)
	case *events.StreamReplaced:
		s.log.Warn("whatsapp stream replaced by another client")
		_ = s.Transition(transport.StateDisconnected)
	case *events.Receipt:
		for _, ack := range acksFromReceipt(v) {
			s.EmitAck(ack)
		}
	case *events.Message:
		if m, ok := inboundFromMessage(v); ok {
			s.EmitInbound(m)
		}
	}
}

// reconnect retries a bounded number of times; after that the session stays
// disconnected until the process is restarted.
func (s *Session) reconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer s.reconnecting.Store(false)

	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
		if s.client.IsConnected() {
			return
		}
		err := s.client.Connect()
		if err == nil {
			return
		}
		s.log.Warn("reconnect failed", "attempt", attempt, "max", s.cfg.MaxReconnectAttempts, "err", err)
	}
	s.log.Error("giving up reconnecting", "attempts", s.cfg.MaxReconnectAttempts)
}

var _ transport.Session = (*Session)(nil)
