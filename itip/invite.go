package itip

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// Kind is the calendar component an invite describes.
type Kind int

const (
	KindEvent Kind = iota
	KindTodo
)

// ComponentName returns the iCalendar component name for the kind.
func (k Kind) ComponentName() string {
	if k == KindTodo {
		return ical.CompToDo
	}
	return ical.CompEvent
}

// PartStat is an attendee participation status.
type PartStat string

const (
	PartStatNeedsAction PartStat = "NEEDS-ACTION"
	PartStatAccepted    PartStat = "ACCEPTED"
	PartStatDeclined    PartStat = "DECLINED"
	PartStatTentative   PartStat = "TENTATIVE"
	PartStatDelegated   PartStat = "DELEGATED"
)

// Role is an attendee role.
type Role string

const (
	RoleChair          Role = "CHAIR"
	RoleRequired       Role = "REQ-PARTICIPANT"
	RoleOptional       Role = "OPT-PARTICIPANT"
	RoleNonParticipant Role = "NON-PARTICIPANT"
)

// Status is the STATUS property of a component.
type Status string

const (
	StatusTentative   Status = "TENTATIVE"
	StatusConfirmed   Status = "CONFIRMED"
	StatusCancelled   Status = "CANCELLED"
	StatusNeedsAction Status = "NEEDS-ACTION"
	StatusCompleted   Status = "COMPLETED"
	StatusInProcess   Status = "IN-PROCESS"
)

// Class is the access classification of a component.
type Class string

const (
	ClassPublic       Class = "PUBLIC"
	ClassPrivate      Class = "PRIVATE"
	ClassConfidential Class = "CONFIDENTIAL"
)

// NeverSent tracks whether the attendees of an invite have been notified.
type NeverSent uint8

const (
	// NeverSentPersonal marks an item without attendees; there is nobody to notify.
	NeverSentPersonal NeverSent = iota
	// NeverSentSent marks an invite that was delivered to its attendees.
	NeverSentSent
	// NeverSentPending marks an invite saved with attendees that were not notified yet.
	NeverSentPending
)

func (n NeverSent) String() string {
	switch n {
	case NeverSentSent:
		return "sent"
	case NeverSentPending:
		return "pending"
	default:
		return "personal"
	}
}

// RecurRange is the RANGE parameter of a RECURRENCE-ID.
type RecurRange int

const (
	RangeNone RecurRange = iota
	RangeThisAndFuture
)

// RecurID identifies one occurrence of a recurring series.
type RecurID struct {
	Time   time.Time
	AllDay bool
	Range  RecurRange
}

// NewRecurID returns a RecurID with range none.
func NewRecurID(t time.Time, allDay bool) RecurID {
	return RecurID{Time: t, AllDay: allDay, Range: RangeNone}
}

// Equal reports whether both identify the same occurrence. Only the
// effective start time is compared.
func (r RecurID) Equal(o RecurID) bool {
	return r.Time.Equal(o.Time)
}

func (r RecurID) String() string {
	if r.AllDay {
		return r.Time.Format("20060102")
	}
	return r.Time.UTC().Format("20060102T150405Z")
}

// Recurrence holds the recurrence definition of a series.
type Recurrence struct {
	Rules   []string // RRULE values without the "RRULE:" prefix
	RDates  []time.Time
	ExDates []time.Time
}

// Clone returns a deep copy.
func (r Recurrence) Clone() Recurrence {
	return Recurrence{
		Rules:   append([]string(nil), r.Rules...),
		RDates:  append([]time.Time(nil), r.RDates...),
		ExDates: append([]time.Time(nil), r.ExDates...),
	}
}

// Equal compares rules and date lists.
func (r Recurrence) Equal(o Recurrence) bool {
	if len(r.Rules) != len(o.Rules) || len(r.RDates) != len(o.RDates) || len(r.ExDates) != len(o.ExDates) {
		return false
	}
	for i := range r.Rules {
		if !strings.EqualFold(r.Rules[i], o.Rules[i]) {
			return false
		}
	}
	for i := range r.RDates {
		if !r.RDates[i].Equal(o.RDates[i]) {
			return false
		}
	}
	for i := range r.ExDates {
		if !r.ExDates[i].Equal(o.ExDates[i]) {
			return false
		}
	}
	return true
}

// Organizer is the ORGANIZER of an invite.
type Organizer struct {
	Address    string
	CommonName string
	SentBy     string
}

// Attendee is one ATTENDEE of an invite. Address is unique within an invite.
type Attendee struct {
	Address    string
	CommonName string
	SentBy     string
	Role       Role
	PartStat   PartStat
	RSVP       bool
	CUType     string
}

// Invite is one immutable version of a calendar component. Edits produce a
// new value through Clone; stored versions are never changed in place.
type Invite struct {
	// ID is the version id assigned by the store. Zero for unsaved invites.
	ID int
	// Generation is the series generation this version belongs to, assigned
	// by the store.
	Generation int

	Method    Method
	Kind      Kind
	UID       string
	RecurID   mo.Option[RecurID]
	Sequence  int
	DTStamp   time.Time
	Organizer mo.Option[Organizer]
	Attendees []Attendee

	Start    time.Time
	End      time.Time
	Duration mo.Option[time.Duration]
	AllDay   bool

	Status          Status
	Class           Class
	Summary         string
	Location        string
	Description     string
	DescriptionHTML string
	Comments        []string
	Recurrence      mo.Option[Recurrence]
	RSVP            mo.Option[bool]

	IsOrganizer      bool
	LocalOnly        bool
	NeverSent        NeverSent
	LastFullSequence int
	Changes          string

	// Extra carries properties the model does not interpret, such as
	// Outlook X- properties.
	Extra []ical.Prop
}

// Clone returns a deep copy of the invite.
func (inv Invite) Clone() Invite {
	out := inv
	out.Attendees = append([]Attendee(nil), inv.Attendees...)
	out.Comments = append([]string(nil), inv.Comments...)
	if r, ok := inv.Recurrence.Get(); ok {
		out.Recurrence = mo.Some(r.Clone())
	}
	if inv.Extra != nil {
		out.Extra = make([]ical.Prop, len(inv.Extra))
		for i, p := range inv.Extra {
			out.Extra[i] = cloneProp(p)
		}
	}
	return out
}

func cloneProp(p ical.Prop) ical.Prop {
	out := ical.Prop{Name: p.Name, Value: p.Value}
	if p.Params != nil {
		out.Params = make(ical.Params, len(p.Params))
		for k, v := range p.Params {
			out.Params[k] = append([]string(nil), v...)
		}
	}
	return out
}

// IsException reports whether the invite overrides or cancels one occurrence.
func (inv Invite) IsException() bool {
	return inv.RecurID.IsPresent()
}

// IsRecurrence reports whether the invite defines a recurring series.
func (inv Invite) IsRecurrence() bool {
	return inv.Recurrence.IsPresent() && inv.RecurID.IsAbsent()
}

// IsCancel reports whether the invite cancels its component.
func (inv Invite) IsCancel() bool {
	return inv.Method == MethodCancel || inv.Status == StatusCancelled
}

// IsPublic reports whether the component may be shown to anyone.
func (inv Invite) IsPublic() bool {
	return inv.Class == "" || inv.Class == ClassPublic
}

// HasOrganizer reports whether an ORGANIZER is set.
func (inv Invite) HasOrganizer() bool {
	return inv.Organizer.IsPresent()
}

// OrganizerAddress returns the organizer address or "".
func (inv Invite) OrganizerAddress() string {
	if org, ok := inv.Organizer.Get(); ok {
		return org.Address
	}
	return ""
}

// EffectiveDuration returns DURATION if set, else DTEND minus DTSTART. When
// neither is present the default is one day for all-day invites, one
// second for timed events and none for todos.
func (inv Invite) EffectiveDuration() mo.Option[time.Duration] {
	if d, ok := inv.Duration.Get(); ok {
		return mo.Some(d)
	}
	if inv.Start.IsZero() {
		return mo.None[time.Duration]()
	}
	if !inv.End.IsZero() {
		return mo.Some(inv.End.Sub(inv.Start))
	}
	if inv.Kind == KindTodo {
		return mo.None[time.Duration]()
	}
	if inv.AllDay {
		return mo.Some(24 * time.Hour)
	}
	return mo.Some(time.Second)
}

// EffectiveEnd returns the end derived from the effective duration, or the
// zero time.
func (inv Invite) EffectiveEnd() time.Time {
	if !inv.End.IsZero() {
		return inv.End
	}
	if d, ok := inv.EffectiveDuration().Get(); ok && !inv.Start.IsZero() {
		return inv.Start.Add(d)
	}
	return time.Time{}
}

// IsSameOrNewerVersion reports whether inv is at least as new as other.
func (inv Invite) IsSameOrNewerVersion(other Invite) bool {
	return inv.Sequence >= other.Sequence
}

// MatchingAttendee returns the first attendee whose address equals one of
// the given addresses, ignoring case.
func (inv Invite) MatchingAttendee(addresses ...string) (Attendee, bool) {
	for _, at := range inv.Attendees {
		for _, addr := range addresses {
			if SameAddress(at.Address, addr) {
				return at, true
			}
		}
	}
	return Attendee{}, false
}

// HasOtherAttendees reports whether the invite has attendees besides the organizer.
func (inv Invite) HasOtherAttendees() bool {
	org := inv.OrganizerAddress()
	for _, at := range inv.Attendees {
		if !SameAddress(at.Address, org) {
			return true
		}
	}
	return false
}

// AttendeeAddresses returns the attendee addresses in order.
func (inv Invite) AttendeeAddresses() []string {
	out := make([]string, 0, len(inv.Attendees))
	for _, at := range inv.Attendees {
		if at.Address != "" {
			out = append(out, at.Address)
		}
	}
	return out
}

// SameAddress compares two calendar user addresses, ignoring case and a
// leading "mailto:".
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b) && a != "" && b != ""
}

// NormalizeAddress lowercases an address and strips a "mailto:" prefix.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if len(addr) >= 7 && strings.EqualFold(addr[:7], "mailto:") {
		addr = addr[7:]
	}
	return strings.ToLower(addr)
}

// ExtraProp returns the first extra property with the given name.
func (inv Invite) ExtraProp(name string) (ical.Prop, bool) {
	for _, p := range inv.Extra {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ical.Prop{}, false
}

// SetExtra replaces every extra property named like p with p.
func (inv *Invite) SetExtra(p ical.Prop) {
	inv.RemoveExtra(p.Name)
	inv.Extra = append(inv.Extra, p)
}

// RemoveExtra drops the extra properties with the given name.
func (inv *Invite) RemoveExtra(name string) {
	var out []ical.Prop
	for _, p := range inv.Extra {
		if !strings.EqualFold(p.Name, name) {
			out = append(out, p)
		}
	}
	inv.Extra = out
}

// NewExtraProp builds an extra property with a raw value.
func NewExtraProp(name, value string) ical.Prop {
	return ical.Prop{Name: strings.ToUpper(name), Value: value, Params: make(ical.Params)}
}

// NewExtraTimeProp builds an extra DATE or DATE-TIME property.
func NewExtraTimeProp(name string, t time.Time, allDay bool) ical.Prop {
	return *timeProp(strings.ToUpper(name), t, allDay)
}
