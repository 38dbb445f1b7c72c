package itip

import (
	"time"

	"github.com/samber/mo"
)

// ReplyRecord is the participation status of one attendee for one
// occurrence, or for the whole series when RecurID is absent.
type ReplyRecord struct {
	RecurID    mo.Option[RecurID]
	Address    string
	CommonName string
	Role       Role
	PartStat   PartStat
	Sequence   int
	DTStamp    time.Time
}

// olderThan reports whether r is strictly older than o by (sequence, dtstamp).
func (r ReplyRecord) olderThan(o ReplyRecord) bool {
	if r.Sequence != o.Sequence {
		return r.Sequence < o.Sequence
	}
	return r.DTStamp.Before(o.DTStamp)
}

func (r ReplyRecord) sameTarget(o ReplyRecord) bool {
	return sameRecurID(r.RecurID, o.RecurID) && SameAddress(r.Address, o.Address)
}

// CalendarItem is the aggregate root for one UID within a mailbox. Versions
// is append-only; the current invite of a lineage is its latest version.
type CalendarItem struct {
	ID        string
	MailboxID string
	UID       string
	FolderID  string

	Versions []Invite
	Replies  []ReplyRecord

	ModifiedSequence int64
	Revision         int64
	// Generation is bumped when a series change discards its exceptions.
	// Versions of older generations are history only.
	Generation int
}

// Clone returns a copy that shares no slices with c.
func (c *CalendarItem) Clone() *CalendarItem {
	out := *c
	out.Versions = make([]Invite, len(c.Versions))
	for i, v := range c.Versions {
		out.Versions[i] = v.Clone()
	}
	out.Replies = append([]ReplyRecord(nil), c.Replies...)
	return &out
}

// Current returns the latest version of every lineage in the live
// generation, in order of first appearance. The series comes first when
// present.
func (c *CalendarItem) Current() []Invite {
	var (
		order  []string
		latest = make(map[string]Invite)
	)
	for _, v := range c.Versions {
		if v.Generation != c.Generation {
			continue
		}
		key := LineageKey(v.RecurID)
		if _, ok := latest[key]; !ok {
			order = append(order, key)
		}
		latest[key] = v
	}
	out := make([]Invite, 0, len(order))
	if s, ok := latest[""]; ok {
		out = append(out, s)
	}
	for _, k := range order {
		if k == "" {
			continue
		}
		out = append(out, latest[k])
	}
	return out
}

// Series returns the current series invite, or the single invite of a
// non-recurring item.
func (c *CalendarItem) Series() mo.Option[Invite] {
	return c.Invite(mo.None[RecurID]())
}

// IsRecurring reports whether the current series invite carries a recurrence.
func (c *CalendarItem) IsRecurring() bool {
	s, ok := c.Series().Get()
	return ok && s.IsRecurrence()
}

// Invite returns the current invite of the lineage identified by rid.
func (c *CalendarItem) Invite(rid mo.Option[RecurID]) mo.Option[Invite] {
	key := LineageKey(rid)
	for i := len(c.Versions) - 1; i >= 0; i-- {
		v := c.Versions[i]
		if v.Generation == c.Generation && LineageKey(v.RecurID) == key {
			return mo.Some(v)
		}
	}
	return mo.None[Invite]()
}

// Exceptions returns the current exception invites.
func (c *CalendarItem) Exceptions() []Invite {
	var out []Invite
	for _, inv := range c.Current() {
		if inv.IsException() {
			out = append(out, inv)
		}
	}
	return out
}

// InviteByID returns the version with the given id from any generation.
func (c *CalendarItem) InviteByID(id int) mo.Option[Invite] {
	for _, v := range c.Versions {
		if v.ID == id {
			return mo.Some(v)
		}
	}
	return mo.None[Invite]()
}

// DefaultInvite returns the series, or the first current invite when the
// item only holds exceptions.
func (c *CalendarItem) DefaultInvite() mo.Option[Invite] {
	if s, ok := c.Series().Get(); ok {
		return mo.Some(s)
	}
	cur := c.Current()
	if len(cur) == 0 {
		return mo.None[Invite]()
	}
	return mo.Some(cur[0])
}

// IsPublic reports whether the default invite is public.
func (c *CalendarItem) IsPublic() bool {
	inv, ok := c.DefaultInvite().Get()
	return !ok || inv.IsPublic()
}

// ReplyFor returns the participation record for an occurrence and address.
func (c *CalendarItem) ReplyFor(rid mo.Option[RecurID], address string) mo.Option[ReplyRecord] {
	want := ReplyRecord{RecurID: rid, Address: address}
	for _, r := range c.Replies {
		if r.sameTarget(want) {
			return mo.Some(r)
		}
	}
	return mo.None[ReplyRecord]()
}

// ApplyReply stores rec unless a newer record for the same occurrence and
// address exists. It reports whether the record was stored.
func (c *CalendarItem) ApplyReply(rec ReplyRecord) bool {
	for i, r := range c.Replies {
		if !r.sameTarget(rec) {
			continue
		}
		if rec.olderThan(r) {
			return false
		}
		c.Replies[i] = rec
		return true
	}
	c.Replies = append(c.Replies, rec)
	return true
}

// LineageKey identifies a lineage within an item. The series uses "".
func LineageKey(rid mo.Option[RecurID]) string {
	r, ok := rid.Get()
	if !ok {
		return ""
	}
	return r.Time.UTC().Format(time.RFC3339Nano)
}

func sameRecurID(a, b mo.Option[RecurID]) bool {
	return LineageKey(a) == LineageKey(b)
}
