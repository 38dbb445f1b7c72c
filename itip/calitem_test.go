package itip

import (
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarItem_Current(t *testing.T) {
	rid1 := NewRecurID(time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC), false)
	rid2 := NewRecurID(time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC), false)

	item := &CalendarItem{
		UID: "U1",
		Versions: []Invite{
			{ID: 1, UID: "U1", Sequence: 0},
			{ID: 2, UID: "U1", Sequence: 1, RecurID: mo.Some(rid1)},
			{ID: 3, UID: "U1", Sequence: 1},
			{ID: 4, UID: "U1", Sequence: 2, RecurID: mo.Some(rid1)},
		},
	}

	cur := item.Current()
	require.Len(t, cur, 2)
	assert.Equal(t, 3, cur[0].ID)
	assert.Equal(t, 4, cur[1].ID)

	series, ok := item.Series().Get()
	require.True(t, ok)
	assert.Equal(t, 1, series.Sequence)
	assert.True(t, item.Invite(mo.Some(rid2)).IsAbsent())
	assert.Len(t, item.Exceptions(), 1)
	assert.Equal(t, 2, item.InviteByID(2).MustGet().ID)
}

func TestCalendarItem_CurrentSkipsDiscardedGeneration(t *testing.T) {
	rid := NewRecurID(time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC), false)
	item := &CalendarItem{
		Generation: 1,
		Versions: []Invite{
			{ID: 1},
			{ID: 2, RecurID: mo.Some(rid)},
			{ID: 3, Generation: 1},
		},
	}

	cur := item.Current()
	require.Len(t, cur, 1)
	assert.Equal(t, 3, cur[0].ID)
	assert.Empty(t, item.Exceptions())
	assert.True(t, item.InviteByID(2).IsPresent(), "history is kept")
}

func TestCalendarItem_ApplyReply(t *testing.T) {
	stamp := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	item := &CalendarItem{}

	assert.True(t, item.ApplyReply(ReplyRecord{Address: "a@x", PartStat: PartStatAccepted, Sequence: 2, DTStamp: stamp}))
	assert.False(t, item.ApplyReply(ReplyRecord{Address: "A@x", PartStat: PartStatDeclined, Sequence: 1, DTStamp: stamp}),
		"older sequence must not replace")
	assert.True(t, item.ApplyReply(ReplyRecord{Address: "a@x", PartStat: PartStatTentative, Sequence: 2, DTStamp: stamp}),
		"equal version replaces")

	rec, ok := item.ReplyFor(mo.None[RecurID](), "mailto:a@x").Get()
	require.True(t, ok)
	assert.Equal(t, PartStatTentative, rec.PartStat)
	assert.Len(t, item.Replies, 1)

	rid := NewRecurID(stamp, false)
	assert.True(t, item.ApplyReply(ReplyRecord{RecurID: mo.Some(rid), Address: "a@x", PartStat: PartStatAccepted}))
	assert.Len(t, item.Replies, 2)
}
