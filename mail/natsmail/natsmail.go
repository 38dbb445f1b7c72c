// Package natsmail hands composed calendar messages to a mail gateway over NATS.
package natsmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cyp0633/caldora-sched/mail"
	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject outbound messages are published on.
const DefaultSubject = "caldora.mail.outbound"

// ErrNotReady is returned when the connection cannot publish.
var ErrNotReady = errors.New("nats connection is not ready")

// Conn is the part of *nats.Conn the sender uses.
type Conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	IsDraining() bool
}

// Config holds the NATS connection settings.
type Config struct {
	URL           string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	Subject       string        `env:"NATS_MAIL_SUBJECT" envDefault:"caldora.mail.outbound"`
	Timeout       time.Duration `env:"NATS_TIMEOUT" envDefault:"10s"`
	MaxReconnect  int           `env:"NATS_MAX_RECONNECT" envDefault:"3"`
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`
}

// Envelope is the JSON document published for each recipient.
type Envelope struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	Method    string        `json:"method"`
	UID       string        `json:"uid,omitempty"`
	From      mail.Address  `json:"from"`
	Sender    *mail.Address `json:"sender,omitempty"`
	To        mail.Address  `json:"to"`
	Subject   string        `json:"subject"`
	Text      string        `json:"text,omitempty"`
	HTML      string        `json:"html,omitempty"`
	Calendar  string        `json:"calendar,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Sender publishes one envelope per recipient.
type Sender struct {
	conn    Conn
	subject string
}

// NewSender creates a sender. An empty subject means DefaultSubject.
func NewSender(conn Conn, subject string) *Sender {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Sender{conn: conn, subject: subject}
}

// Connect dials NATS with reconnect handling and logging.
func Connect(ctx context.Context, config Config) (*nats.Conn, error) {
	if config.URL == "" {
		return nil, errors.New("NATS URL is required")
	}
	slog.InfoContext(ctx, "connecting to NATS", "url", config.URL)

	opts := []nats.Option{
		nats.Name("caldora-sched"),
		nats.Timeout(config.Timeout),
		nats.MaxReconnects(config.MaxReconnect),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.WarnContext(ctx, "NATS disconnected",
				"error", err,
				"url", nc.ConnectedUrl(),
			)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.InfoContext(ctx, "NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.InfoContext(ctx, "NATS connection closed", "url", nc.ConnectedUrl())
		}),
	}
	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to NATS", "error", err, "url", config.URL)
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

func (s *Sender) ready(ctx context.Context) error {
	if s.conn == nil {
		slog.ErrorContext(ctx, "NATS connection is not initialized")
		return ErrNotReady
	}
	if !s.conn.IsConnected() || s.conn.IsDraining() {
		slog.ErrorContext(ctx, "NATS connection is not ready",
			"connected", s.conn.IsConnected(),
			"draining", s.conn.IsDraining(),
		)
		return ErrNotReady
	}
	return nil
}

func (s *Sender) Send(ctx context.Context, msg *mail.Message) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if len(msg.To) == 0 {
		return mail.ErrNoRecipients
	}

	var errs []error
	for _, to := range msg.To {
		data, err := json.Marshal(envelopeFor(msg, to))
		if err != nil {
			slog.ErrorContext(ctx, "failed to marshal calendar message",
				"error", err,
				"message_id", msg.ID,
			)
			return fmt.Errorf("marshal message %s: %w", msg.ID, err)
		}
		if err := s.conn.Publish(s.subject, data); err != nil {
			slog.ErrorContext(ctx, "failed to publish calendar message",
				"error", err,
				"subject", s.subject,
				"message_id", msg.ID,
				"to", to.Email,
			)
			errs = append(errs, fmt.Errorf("publish to %s: %w", to.Email, err))
			continue
		}
		slog.DebugContext(ctx, "calendar message published",
			"subject", s.subject,
			"message_id", msg.ID,
			"to", to.Email,
			"message_size", len(data),
		)
	}
	return errors.Join(errs...)
}

func envelopeFor(msg *mail.Message, to mail.Address) Envelope {
	env := Envelope{
		ID:        msg.ID,
		Kind:      msg.Kind.String(),
		Method:    msg.Method.String(),
		UID:       msg.UID,
		From:      msg.From,
		To:        to,
		Subject:   msg.Subject,
		Text:      msg.Text,
		HTML:      msg.HTML,
		CreatedAt: msg.CreatedAt,
	}
	if sender, ok := msg.Sender.Get(); ok {
		env.Sender = &sender
	}
	if len(msg.Calendar) > 0 {
		env.Calendar = base64.StdEncoding.EncodeToString(msg.Calendar)
	}
	return env
}
