package mail

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cyp0633/caldora-sched/internal/retry"
)

// LogSender only logs messages. It is the sender used when no transport
// is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, msg *Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "calendar message sent",
		"message_id", msg.ID,
		"kind", msg.Kind.String(),
		"method", msg.Method.String(),
		"uid", msg.UID,
		"from", msg.From.Email,
		"to", msg.Recipients(),
		"subject", msg.Subject,
	)
	return nil
}

// RetrySender retries a failing sender with exponential backoff.
type RetrySender struct {
	Next   Sender
	Config retry.Config
}

// NewRetrySender wraps next.
func NewRetrySender(next Sender, config retry.Config) *RetrySender {
	return &RetrySender{Next: next, Config: config}
}

func (s *RetrySender) Send(ctx context.Context, msg *Message) error {
	return retry.WithExponentialBackoff(ctx, s.Config, func() error {
		err := s.Next.Send(ctx, msg)
		if errors.Is(err, ErrNoRecipients) {
			return retry.Permanent(err)
		}
		return err
	})
}

// Outbox records sent messages in memory.
type Outbox struct {
	mu   sync.Mutex
	msgs []*Message
}

func (o *Outbox) Send(_ context.Context, msg *Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

// Messages returns the recorded messages in send order.
func (o *Outbox) Messages() []*Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Message(nil), o.msgs...)
}

// Reset forgets recorded messages.
func (o *Outbox) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = nil
}
