package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/cyp0633/caldora-sched/mail"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forwardFixture gives a a copy of a daily series that started two days
// ago, with a past exception, a moved one and a cancelled one.
func forwardFixture(t *testing.T) (*fixture, string) {
	t.Helper()
	f := newFixture(t)
	start := testNow.AddDate(0, 0, -2)
	series := meeting("F1", "a@example.com", "b@example.com")
	series.Start = start
	series.End = start.Add(time.Hour)
	series.Recurrence = mo.Some(itip.Recurrence{Rules: []string{"FREQ=DAILY;COUNT=6"}})
	res := receive(t, f, aIdentity.ID, series)

	day := func(n int) itip.RecurID { return itip.NewRecurID(start.AddDate(0, 0, n), false) }
	past := MakeInstanceInvite(series, day(1))
	past.LocalOnly = false
	past.Summary = "Past"
	receive(t, f, aIdentity.ID, past)

	moved := MakeInstanceInvite(series, day(3))
	moved.LocalOnly = false
	moved.Summary = "Moved"
	receive(t, f, aIdentity.ID, moved)

	cancelled := MakeInstanceInvite(series, day(4))
	cancelled.LocalOnly = false
	cancelled.Status = itip.StatusCancelled
	receive(t, f, aIdentity.ID, cancelled)
	return f, res.CalendarItemID
}

func TestForward_Series(t *testing.T) {
	f, itemID := forwardFixture(t)
	before := f.item(t, aIdentity.ID, "F1")

	err := f.engine.Forward(context.Background(), ForwardRequest{
		Actor:          owner(aIdentity),
		CalendarItemID: itemID,
		To:             []string{"c@example.com"},
		Text:           Text{Notes: "FYI"},
	})
	require.NoError(t, err)

	msgs := f.sender.messages()
	require.Len(t, msgs, 4)
	kinds := []mail.Kind{msgs[0].Kind, msgs[1].Kind, msgs[2].Kind, msgs[3].Kind}
	assert.Equal(t, []mail.Kind{mail.KindForward, mail.KindForwardNotify, mail.KindForward, mail.KindForwardNotify}, kinds)

	first := msgs[0]
	assert.Equal(t, []string{"c@example.com"}, first.Recipients())
	assert.Equal(t, orgIdentity.Address, first.From.Email)
	assert.Equal(t, aIdentity.Address, first.Sender.MustGet().Email)
	assert.Equal(t, "Fwd: Planning", first.Subject)
	method, invites := decode(t, first)
	assert.Equal(t, itip.MethodRequest, method)
	require.Len(t, invites, 2)
	assert.True(t, invites[0].IsRecurrence())
	assert.Equal(t, "FYI", invites[0].Description)
	assert.Equal(t, itip.StatusCancelled, invites[1].Status)
	for _, inv := range invites {
		assert.Equal(t, []string{"c@example.com"}, inv.AttendeeAddresses())
		assert.Equal(t, itip.PartStatNeedsAction, inv.Attendees[0].PartStat)
		assert.True(t, inv.Attendees[0].RSVP)
		assert.Equal(t, aIdentity.Address, inv.Organizer.MustGet().SentBy)
		sender, ok := inv.ExtraProp(propOlkSender)
		require.True(t, ok)
		assert.Equal(t, "mailto:a@example.com", sender.Value)
	}

	_, invites = decode(t, msgs[2])
	require.Len(t, invites, 1)
	assert.Equal(t, "Moved", invites[0].Summary)
	assert.Empty(t, invites[0].Description)

	notice := msgs[1]
	assert.Equal(t, []string{orgIdentity.Address}, notice.Recipients())
	assert.Empty(t, notice.Calendar)
	assert.Contains(t, notice.Text, "c@example.com")

	after := f.item(t, aIdentity.ID, "F1")
	assert.Equal(t, before.ModifiedSequence, after.ModifiedSequence)
	assert.Equal(t, before.Versions, after.Versions)
}

func TestForward_Instance(t *testing.T) {
	f, itemID := forwardFixture(t)
	rid := itip.NewRecurID(testNow.AddDate(0, 0, 3), false)

	err := f.engine.Forward(context.Background(), ForwardRequest{
		Actor:          owner(aIdentity),
		CalendarItemID: itemID,
		RecurID:        mo.Some(rid),
		To:             []string{"c@example.com", "C@example.com", "a@example.com"},
	})
	require.NoError(t, err)

	msgs := f.sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"c@example.com"}, msgs[0].Recipients())
	_, invites := decode(t, msgs[0])
	require.Len(t, invites, 1)
	assert.True(t, invites[0].RecurID.MustGet().Equal(rid))
	assert.True(t, testNow.Equal(invites[0].DTStamp))
}

func TestForward_OrganizerForwardingSkipsNotice(t *testing.T) {
	f := newFixture(t)
	res := create(t, f, owner(orgIdentity), meeting("F2", "a@example.com"))
	f.sender.reset()

	err := f.engine.Forward(context.Background(), ForwardRequest{
		Actor:          owner(orgIdentity),
		CalendarItemID: res.CalendarItemID,
		To:             []string{"c@example.com"},
	})
	require.NoError(t, err)
	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, mail.KindForward, msgs[0].Kind)
}

func TestForward_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := create(t, f, owner(orgIdentity), meeting("F3", "a@example.com"))

	for name, req := range map[string]ForwardRequest{
		"no forwardees":   {Actor: owner(orgIdentity), CalendarItemID: res.CalendarItemID},
		"only self":       {Actor: owner(orgIdentity), CalendarItemID: res.CalendarItemID, To: []string{"boss@example.com"}},
		"instance single": {Actor: owner(orgIdentity), CalendarItemID: res.CalendarItemID, To: []string{"c@example.com"}, RecurID: mo.Some(occurrence(0))},
	} {
		t.Run(name, func(t *testing.T) {
			err := f.engine.Forward(ctx, req)
			var invalid itip.InvalidRequest
			assert.ErrorAs(t, err, &invalid)
		})
	}
}
