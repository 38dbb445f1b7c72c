package scheduling

import (
	"context"
	"errors"
	"testing"

	"github.com/cyp0633/caldora-sched/directory"
	"github.com/cyp0633/caldora-sched/itip"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func attendees(addrs ...string) []itip.Attendee {
	out := make([]itip.Attendee, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, attendee(a))
	}
	return out
}

func TestReconciler_DiffSymmetry(t *testing.T) {
	r := NewReconciler(directory.NewStatic(), testLogger())
	ctx := context.Background()
	old := attendees("a@example.com", "b@example.com")
	updated := attendees("A@Example.com", "c@example.com")

	removed, err := r.RemovedAttendees(ctx, old, updated, false)
	require.NoError(t, err)
	added, err := r.AddedAttendees(ctx, old, updated)
	require.NoError(t, err)
	assert.Equal(t, []string{"b@example.com"}, attendeeAddresses(removed))
	assert.Equal(t, []string{"c@example.com"}, attendeeAddresses(added))

	swapped, err := r.RemovedAttendees(ctx, updated, old, false)
	require.NoError(t, err)
	assert.Equal(t, attendeeAddresses(added), attendeeAddresses(swapped))
}

func TestReconciler_Aliases(t *testing.T) {
	dir := directory.NewStatic()
	dir.AddIdentity(orgIdentity)
	r := NewReconciler(dir, testLogger())

	removed, err := r.RemovedAttendees(context.Background(),
		attendees("org@example.com"), attendees("boss@example.com"), false)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestReconciler_DistributionLists(t *testing.T) {
	dir := directory.NewStatic()
	dir.AddIdentity(aIdentity)
	dir.AddList("team@example.com", "sub@example.com", "remote@partner.com")
	dir.AddList("sub@example.com", "a@example.com", "far@partner.com")
	r := NewReconciler(dir, testLogger())
	ctx := context.Background()

	old := attendees("a@example.com", "remote@partner.com", "far@partner.com", "gone@partner.com")
	updated := attendees("team@example.com")

	removed, err := r.RemovedAttendees(ctx, old, updated, true)
	require.NoError(t, err)
	// local members count through nested lists, remote ones only directly
	assert.ElementsMatch(t, []string{"far@partner.com", "gone@partner.com"}, attendeeAddresses(removed))

	removed, err = r.RemovedAttendees(ctx, old, updated, false)
	require.NoError(t, err)
	assert.Len(t, removed, 4)
}

func TestReconciler_DirectoryError(t *testing.T) {
	dir := new(directory.MockDirectory)
	dir.On("ResolveIdentity", mock.Anything, "a@example.com").
		Return(mo.None[directory.Identity](), directory.ErrUnavailable)
	r := NewReconciler(dir, testLogger())

	_, err := r.RemovedAttendees(context.Background(), attendees("a@example.com"), nil, true)
	assert.True(t, errors.Is(err, directory.ErrUnavailable))
	dir.AssertExpectations(t)
}

func TestIsFullBroadcast(t *testing.T) {
	added := attendees("c@example.com")
	assert.True(t, IsFullBroadcast([]string{"a@example.com", "c@example.com"}, added))
	assert.False(t, IsFullBroadcast([]string{"C@example.com"}, added))
	assert.False(t, IsFullBroadcast(nil, added))
}
