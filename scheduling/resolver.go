package scheduling

import (
	"time"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/samber/mo"
)

// MakeInstanceInvite builds the exception for one occurrence of series.
// The copy is local only; start and end follow the occurrence.
func MakeInstanceInvite(series itip.Invite, rid itip.RecurID) itip.Invite {
	inv := series.Clone()
	inv.ID = 0
	inv.Generation = 0
	inv.Recurrence = mo.None[itip.Recurrence]()
	rid.Range = itip.RangeNone
	inv.RecurID = mo.Some(rid)
	inv.LocalOnly = true
	inv.Start = rid.Time
	inv.End = time.Time{}
	if d, ok := series.EffectiveDuration().Get(); ok {
		inv.End = rid.Time.Add(d)
	}
	inv.Duration = mo.None[time.Duration]()
	return inv
}

// Target is the invite a request acts on.
type Target struct {
	Invite itip.Invite
	// Synthesized is set when Invite was built from the series and is not
	// stored yet.
	Synthesized bool
	Series      mo.Option[itip.Invite]
}

// ResolveTarget picks the invite for rid: the stored exception, else one
// synthesized from the series, else the series or single invite when rid
// is absent.
func ResolveTarget(item *itip.CalendarItem, rid mo.Option[itip.RecurID]) (Target, error) {
	series := item.Series()
	r, ok := rid.Get()
	if !ok {
		inv, found := item.DefaultInvite().Get()
		if !found {
			return Target{}, itip.NewNoSuchCalendarItem("calendar item " + item.ID + " has no invites")
		}
		return Target{Invite: inv, Series: series}, nil
	}
	if exc, found := item.Invite(rid).Get(); found {
		return Target{Invite: exc, Series: series}, nil
	}
	s, found := series.Get()
	if !found || !s.IsRecurrence() {
		return Target{}, itip.NewInvalidRequest("Instance specified but no recurrence series found")
	}
	return Target{Invite: MakeInstanceInvite(s, r), Synthesized: true, Series: series}, nil
}
