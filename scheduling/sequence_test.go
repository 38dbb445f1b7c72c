package scheduling

import (
	"testing"
	"time"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrganizerSequence(t *testing.T) {
	cur := itip.Invite{Sequence: 3}
	tests := []struct {
		name      string
		requested int
		current   mo.Option[itip.Invite]
		seriesSeq mo.Option[int]
		want      int
	}{
		{"new invite keeps requested", 0, mo.None[itip.Invite](), mo.None[int](), 0},
		{"bumps above current", 0, mo.Some(cur), mo.None[int](), 4},
		{"caller may jump ahead", 9, mo.Some(cur), mo.None[int](), 9},
		{"exception follows series", 0, mo.Some(cur), mo.Some(7), 7},
		{"exception above series", 0, mo.Some(itip.Invite{Sequence: 8}), mo.Some(7), 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OrganizerSequence(tt.requested, tt.current, tt.seriesSeq))
		})
	}
}

func TestExceptionFloor(t *testing.T) {
	series := itip.Invite{Sequence: 4}
	assert.Equal(t, 5, ExceptionFloor(0, series))
	assert.Equal(t, 5, ExceptionFloor(5, series))
	assert.Equal(t, 6, ExceptionFloor(6, series))
}

func TestAssignVersion(t *testing.T) {
	earlier := testNow.Add(-time.Hour)
	prev := itip.Invite{Sequence: 2, DTStamp: earlier, IsOrganizer: true}

	t.Run("organizer moves forward", func(t *testing.T) {
		next := assignVersion(itip.Invite{IsOrganizer: true}, mo.Some(prev), mo.None[int](), 0, testNow)
		assert.Equal(t, 3, next.Sequence)
		assert.Equal(t, testNow, next.DTStamp)
	})

	t.Run("removed attendees take one more", func(t *testing.T) {
		next := assignVersion(itip.Invite{IsOrganizer: true}, mo.Some(prev), mo.None[int](), 1, testNow)
		assert.Equal(t, 4, next.Sequence)
	})

	t.Run("attendee edit keeps version", func(t *testing.T) {
		next := assignVersion(itip.Invite{Sequence: 10, DTStamp: testNow}, mo.Some(prev), mo.None[int](), 0, testNow)
		assert.Equal(t, 2, next.Sequence)
		assert.Equal(t, earlier, next.DTStamp)
	})

	t.Run("new exception starts at series", func(t *testing.T) {
		next := assignVersion(itip.Invite{IsOrganizer: true}, mo.None[itip.Invite](), mo.Some(5), 0, testNow)
		assert.Equal(t, 5, next.Sequence)
	})
}

func TestCancelVersion(t *testing.T) {
	inv := itip.Invite{UID: "U1", Sequence: 2, Method: itip.MethodRequest, DTStamp: testNow.Add(-time.Hour)}

	org := cancelVersion(inv, true, testNow)
	assert.Equal(t, 3, org.Sequence)
	assert.Equal(t, itip.MethodCancel, org.Method)
	assert.Equal(t, itip.StatusCancelled, org.Status)
	assert.Equal(t, testNow, org.DTStamp)

	att := cancelVersion(inv, false, testNow)
	assert.Equal(t, 2, att.Sequence)
	assert.True(t, att.IsCancel())

	assert.Equal(t, itip.MethodRequest, inv.Method, "input must not change")
}

func TestCheckCanNotify(t *testing.T) {
	require.NoError(t, CheckCanNotify(itip.Invite{IsOrganizer: true}, []string{"a@example.com"}))
	require.NoError(t, CheckCanNotify(itip.Invite{}, nil))

	err := CheckCanNotify(itip.Invite{UID: "U1"}, []string{"a@example.com"})
	var target itip.MustBeOrganizer
	assert.ErrorAs(t, err, &target)
}

func TestNextNeverSent(t *testing.T) {
	withAttendees := itip.Invite{Attendees: []itip.Attendee{attendee("a@example.com")}}
	personal := itip.Invite{}
	sentPrev := withAttendees
	sentPrev.NeverSent = itip.NeverSentSent

	tests := []struct {
		name          string
		prev          mo.Option[itip.Invite]
		next          itip.Invite
		hasRecipients bool
		want          itip.NeverSent
	}{
		{"no attendees", mo.Some(sentPrev), personal, false, itip.NeverSentPersonal},
		{"sent", mo.None[itip.Invite](), withAttendees, true, itip.NeverSentSent},
		{"new draft", mo.None[itip.Invite](), withAttendees, false, itip.NeverSentPending},
		{"personal becomes draft", mo.Some(personal), withAttendees, false, itip.NeverSentPending},
		{"sent stays sent", mo.Some(sentPrev), withAttendees, false, itip.NeverSentSent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextNeverSent(tt.prev, tt.next, tt.hasRecipients))
		})
	}
}

func TestLastFullSequence(t *testing.T) {
	prev := itip.Invite{LastFullSequence: 2}
	next := itip.Invite{Sequence: 5}
	assert.Equal(t, 5, lastFullSequence(mo.Some(prev), next, true))
	assert.Equal(t, 2, lastFullSequence(mo.Some(prev), next, false))
	assert.Equal(t, 0, lastFullSequence(mo.None[itip.Invite](), next, false))
}
