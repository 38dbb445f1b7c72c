package scheduling

import (
	"time"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/samber/mo"
)

// OrganizerSequence is the sequence of an organizer edit: above the
// current version, never below what the caller asked for and, for an
// exception, never below the series.
func OrganizerSequence(requested int, current mo.Option[itip.Invite], seriesSeq mo.Option[int]) int {
	seq := requested
	if cur, ok := current.Get(); ok {
		seq = max(seq, cur.Sequence+1)
	}
	if s, ok := seriesSeq.Get(); ok {
		seq = max(seq, s)
	}
	return seq
}

// ExceptionFloor raises the sequence of a new exception above its series.
func ExceptionFloor(seq int, series itip.Invite) int {
	return max(seq, series.Sequence+1)
}

// assignVersion sets sequence and DTSTAMP of next. Organizer edits move
// forward. Attendee edits keep the values of the previous version.
func assignVersion(next itip.Invite, prev mo.Option[itip.Invite], seriesSeq mo.Option[int], extraBump int, now time.Time) itip.Invite {
	if !next.IsOrganizer {
		if p, ok := prev.Get(); ok {
			next.Sequence = p.Sequence
			next.DTStamp = p.DTStamp
		} else if next.DTStamp.IsZero() {
			next.DTStamp = now
		}
		return next
	}
	if prev.IsPresent() {
		next.Sequence = OrganizerSequence(next.Sequence, prev, seriesSeq) + extraBump
	} else if s, ok := seriesSeq.Get(); ok {
		next.Sequence = max(next.Sequence, s)
	}
	next.DTStamp = now
	return next
}

// cancelVersion turns inv into its cancelled version. Only the organizer
// moves the sequence forward.
func cancelVersion(inv itip.Invite, isOrganizer bool, now time.Time) itip.Invite {
	out := inv.Clone()
	if isOrganizer {
		out.Sequence++
	}
	out.Method = itip.MethodCancel
	out.Status = itip.StatusCancelled
	out.DTStamp = now
	return out
}

// CheckCanNotify rejects notifications sent by somebody other than the
// organizer.
func CheckCanNotify(inv itip.Invite, recipients []string) error {
	if !inv.IsOrganizer && len(recipients) > 0 {
		return itip.NewMustBeOrganizer("only the organizer can send notifications for " + inv.UID)
	}
	return nil
}

// NextNeverSent maps an organizer save to its NeverSent state.
func NextNeverSent(prev mo.Option[itip.Invite], next itip.Invite, hasRecipients bool) itip.NeverSent {
	switch {
	case len(next.Attendees) == 0:
		return itip.NeverSentPersonal
	case hasRecipients:
		return itip.NeverSentSent
	}
	p, ok := prev.Get()
	if !ok || len(p.Attendees) == 0 {
		return itip.NeverSentPending
	}
	return p.NeverSent
}

// lastFullSequence is the sequence of the last version every attendee
// was told about.
func lastFullSequence(prev mo.Option[itip.Invite], next itip.Invite, full bool) int {
	if full {
		return next.Sequence
	}
	if p, ok := prev.Get(); ok {
		return p.LastFullSequence
	}
	return 0
}
