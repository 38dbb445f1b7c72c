package mail

import (
	"context"
	"log/slog"
)

// SendQueue collects messages during a request and sends them at the end.
// A failed send is logged and does not stop the others.
type SendQueue struct {
	sender Sender
	logger *slog.Logger
	msgs   []*Message
}

// NewSendQueue creates an empty queue.
func NewSendQueue(sender Sender, logger *slog.Logger) *SendQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendQueue{sender: sender, logger: logger}
}

// Add queues msg. Nil messages are ignored.
func (q *SendQueue) Add(msg *Message) {
	if msg != nil {
		q.msgs = append(q.msgs, msg)
	}
}

// Len returns the number of queued messages.
func (q *SendQueue) Len() int {
	return len(q.msgs)
}

// Flush sends every queued message and empties the queue. It returns the
// number of messages that were sent.
func (q *SendQueue) Flush(ctx context.Context) int {
	msgs := q.msgs
	q.msgs = nil
	sent := 0
	for _, msg := range msgs {
		if err := q.sender.Send(ctx, msg); err != nil {
			q.logger.WarnContext(ctx, "ignoring error while sending calendar message",
				"message_id", msg.ID,
				"kind", msg.Kind.String(),
				"uid", msg.UID,
				"error", err,
			)
			continue
		}
		sent++
	}
	return sent
}
