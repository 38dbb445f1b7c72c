package scheduling

import (
	"testing"
	"time"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeInstanceInvite(t *testing.T) {
	series := dailySeries("U1", "a@example.com")
	series.ID = 7
	rid := occurrence(2)
	rid.Range = itip.RangeThisAndFuture

	inv := MakeInstanceInvite(series, rid)
	assert.True(t, inv.LocalOnly)
	assert.True(t, inv.IsException())
	assert.False(t, inv.IsRecurrence())
	assert.Zero(t, inv.ID)
	assert.Equal(t, itip.RangeNone, inv.RecurID.MustGet().Range)
	assert.Equal(t, rid.Time, inv.Start)
	assert.Equal(t, rid.Time.Add(time.Hour), inv.End)
	assert.True(t, series.IsRecurrence(), "series must not change")

	t.Run("defaults without end", func(t *testing.T) {
		timed := series.Clone()
		timed.End = time.Time{}
		assert.Equal(t, rid.Time.Add(time.Second), MakeInstanceInvite(timed, rid).End)

		allDay := timed.Clone()
		allDay.AllDay = true
		day := itip.NewRecurID(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), true)
		assert.Equal(t, day.Time.Add(24*time.Hour), MakeInstanceInvite(allDay, day).End)
	})
}

func TestResolveTarget(t *testing.T) {
	series := dailySeries("U1", "a@example.com")
	exc := MakeInstanceInvite(series, occurrence(1))
	exc.LocalOnly = false
	exc.Summary = "Moved"
	item := &itip.CalendarItem{ID: "item", UID: "U1", Versions: []itip.Invite{series, exc}}

	target, err := ResolveTarget(item, mo.None[itip.RecurID]())
	require.NoError(t, err)
	assert.True(t, target.Invite.IsRecurrence())
	assert.False(t, target.Synthesized)

	target, err = ResolveTarget(item, mo.Some(occurrence(1)))
	require.NoError(t, err)
	assert.Equal(t, "Moved", target.Invite.Summary)
	assert.False(t, target.Synthesized)

	target, err = ResolveTarget(item, mo.Some(occurrence(3)))
	require.NoError(t, err)
	assert.True(t, target.Synthesized)
	assert.True(t, target.Invite.LocalOnly)

	single := &itip.CalendarItem{ID: "single", UID: "U2", Versions: []itip.Invite{meeting("U2")}}
	_, err = ResolveTarget(single, mo.Some(occurrence(0)))
	var invalid itip.InvalidRequest
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "Instance specified but no recurrence series found")

	empty := &itip.CalendarItem{ID: "empty"}
	_, err = ResolveTarget(empty, mo.None[itip.RecurID]())
	var missing itip.NoSuchCalendarItem
	assert.ErrorAs(t, err, &missing)
}
