package mail

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/cyp0633/caldora-sched/internal/retry"
	"github.com/cyp0633/caldora-sched/itip"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestDefaultComposer_Compose(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := &DefaultComposer{Now: func() time.Time { return now }}
	inv := itip.Invite{
		UID:       "U1",
		Summary:   "Planning",
		DTStamp:   now,
		Organizer: mo.Some(itip.Organizer{Address: "org@x"}),
		Start:     now,
	}

	msg, err := c.Compose(context.Background(), Draft{
		Kind:     KindCancel,
		From:     Address{Email: "org@x"},
		To:       Addresses("a@x"),
		Method:   itip.MethodCancel,
		Invite:   inv,
		Calendar: itip.NewCalendar(itip.MethodCancel, inv),
	})
	require.NoError(t, err)
	assert.Equal(t, "Cancelled: Planning", msg.Subject)
	assert.Equal(t, []string{"a@x"}, msg.Recipients())
	assert.Contains(t, string(msg.Calendar), "METHOD:CANCEL")
	assert.Contains(t, msg.Text, "Organizer: org@x")
	assert.Equal(t, now, msg.CreatedAt)
	assert.NotEmpty(t, msg.ID)

	_, err = c.Compose(context.Background(), Draft{Kind: KindInvite})
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestDefaultComposer_Template(t *testing.T) {
	c := NewComposer()
	msg, err := c.Compose(context.Background(), Draft{
		Kind:     KindForward,
		To:       Addresses("f@x"),
		Notes:    "see below",
		Template: mo.Some(&Message{Subject: "Fwd: Planning", Text: "FYI"}),
	})
	require.NoError(t, err)
	assert.Equal(t, "Fwd: Planning", msg.Subject)
	assert.Equal(t, "FYI\n\nsee below", msg.Text)
}

func TestCancelSubject(t *testing.T) {
	assert.Equal(t, "Cancelled: Lunch", CancelSubject("Lunch"))
	assert.Equal(t, "Cancelled: Lunch", CancelSubject("Cancelled: Lunch"))
}

func TestSendQueue_PartialSend(t *testing.T) {
	sender := new(MockSender)
	first := &Message{ID: "1"}
	second := &Message{ID: "2"}
	third := &Message{ID: "3"}
	sender.On("Send", mock.Anything, first).Return(nil).Once()
	sender.On("Send", mock.Anything, second).Return(errors.New("smtp down")).Once()
	sender.On("Send", mock.Anything, third).Return(nil).Once()

	q := NewSendQueue(sender, testLogger())
	q.Add(first)
	q.Add(nil)
	q.Add(second)
	q.Add(third)
	assert.Equal(t, 3, q.Len())

	assert.Equal(t, 2, q.Flush(context.Background()))
	assert.Equal(t, 0, q.Len())
	sender.AssertExpectations(t)
}

func TestRetrySender(t *testing.T) {
	next := new(MockSender)
	msg := &Message{ID: "1"}
	next.On("Send", mock.Anything, msg).Return(errors.New("temporary")).Once()
	next.On("Send", mock.Anything, msg).Return(nil).Once()

	s := NewRetrySender(next, retry.NewConfig(3, time.Millisecond, time.Millisecond))
	require.NoError(t, s.Send(context.Background(), msg))
	next.AssertExpectations(t)

	permanent := new(MockSender)
	permanent.On("Send", mock.Anything, msg).Return(ErrNoRecipients).Once()
	err := NewRetrySender(permanent, retry.NewConfig(3, time.Millisecond, time.Millisecond)).Send(context.Background(), msg)
	assert.ErrorIs(t, err, ErrNoRecipients)
	permanent.AssertExpectations(t)
}

func TestOutbox(t *testing.T) {
	var o Outbox
	require.NoError(t, o.Send(context.Background(), &Message{ID: "1"}))
	require.NoError(t, LogSender{Logger: testLogger()}.Send(context.Background(), &Message{ID: "2"}))
	assert.Len(t, o.Messages(), 1)
	o.Reset()
	assert.Empty(t, o.Messages())
}
