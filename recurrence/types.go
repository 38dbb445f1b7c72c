package recurrence

import (
	"time"

	"github.com/cyp0633/caldora-sched/itip"
)

// Info describes when a series occurs.
type Info struct {
	Start   time.Time   // DTSTART of the series
	AllDay  bool        // DTSTART is a DATE value
	Rules   []string    // RRULE values without the "RRULE:" prefix
	RDates  []time.Time // Additional recurrence dates
	ExDates []time.Time // Excluded occurrences
}

// IsRecurring reports whether the info describes more than a single instance.
func (i Info) IsRecurring() bool {
	return len(i.Rules) > 0 || len(i.RDates) > 0
}

// InfoFromInvite extracts recurrence information from a series invite.
func InfoFromInvite(inv itip.Invite) Info {
	info := Info{Start: inv.Start, AllDay: inv.AllDay}
	if r, ok := inv.Recurrence.Get(); ok {
		info.Rules = r.Rules
		info.RDates = r.RDates
		info.ExDates = r.ExDates
	}
	return info
}
