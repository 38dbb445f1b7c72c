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

func TestCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orig := meeting("CO1", "a@example.com")
	orig.Location = "Room 1"
	stored := receive(t, f, aIdentity.ID, orig)

	proposal := meeting("CO1")
	proposal.Start = orig.Start.Add(2 * time.Hour)
	proposal.End = orig.End.Add(2 * time.Hour)
	res, err := f.engine.Counter(ctx, CounterRequest{Actor: owner(aIdentity), Invite: proposal})
	require.NoError(t, err)
	assert.Equal(t, stored.CalendarItemID, res.CalendarItemID)
	assert.Equal(t, 1, res.Sent)

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, mail.KindCounter, msgs[0].Kind)
	assert.Equal(t, []string{orgIdentity.Address}, msgs[0].Recipients())
	assert.Equal(t, "New Time Proposed: Planning", msgs[0].Subject)
	method, invites := decode(t, msgs[0])
	assert.Equal(t, itip.MethodCounter, method)
	require.Len(t, invites, 1)
	inv := invites[0]
	assert.Equal(t, "Room 1", inv.Location)
	assert.True(t, inv.Start.Equal(proposal.Start))
	p, ok := inv.ExtraProp(propOriginalStart)
	require.True(t, ok)
	assert.Equal(t, itip.FormatTime(orig.Start, false), p.Value)
	p, ok = inv.ExtraProp(propOriginalEnd)
	require.True(t, ok)
	assert.Equal(t, itip.FormatTime(orig.End, false), p.Value)
	require.Len(t, inv.Attendees, 1)
	assert.Equal(t, "a@example.com", inv.Attendees[0].Address)
	assert.Equal(t, itip.PartStatTentative, inv.Attendees[0].PartStat)

	after := f.item(t, aIdentity.ID, "CO1")
	assert.Len(t, after.Versions, 1)
}

func TestCounter_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noUID := meeting("")
	noOrg := meeting("CO2")
	noOrg.Organizer = mo.None[itip.Organizer]()
	noStart := meeting("CO3")
	noStart.Start = time.Time{}

	for name, inv := range map[string]itip.Invite{"uid": noUID, "organizer": noOrg, "start": noStart} {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.Counter(ctx, CounterRequest{Actor: owner(aIdentity), Invite: inv})
			var invalid itip.InvalidRequest
			assert.ErrorAs(t, err, &invalid)
		})
	}
	assert.Empty(t, f.sender.messages())
}

func TestDeclineCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	create(t, f, owner(orgIdentity), meeting("DC1", "a@example.com", "b@example.com"))
	f.sender.reset()

	res, err := f.engine.DeclineCounter(ctx, DeclineCounterRequest{
		Actor:      owner(orgIdentity),
		Invite:     meeting("DC1", "a@example.com", "b@example.com"),
		Recipients: mo.Some([]string{"a@example.com"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, mail.KindDeclineCounter, msgs[0].Kind)
	assert.Equal(t, []string{"a@example.com"}, msgs[0].Recipients())
	method, _ := decode(t, msgs[0])
	assert.Equal(t, itip.MethodDeclineCounter, method)

	assert.Len(t, f.item(t, orgIdentity.ID, "DC1").Versions, 1)

	_, err = f.engine.DeclineCounter(ctx, DeclineCounterRequest{
		Actor:      owner(aIdentity),
		Invite:     meeting("DC1", "a@example.com", "b@example.com"),
		Recipients: mo.Some([]string{"b@example.com"}),
	})
	var mustBe itip.MustBeOrganizer
	assert.ErrorAs(t, err, &mustBe)
}
