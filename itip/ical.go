package itip

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// ProductID is written to every calendar this package encodes.
const ProductID = "-//Caldora//Go Calendar//EN"

const (
	propRecurrenceID = "RECURRENCE-ID"
	propMethod       = "METHOD"
	propComment      = "COMMENT"
	propAltDesc      = "X-ALT-DESC"

	localPrefix     = "X-CALDORA-"
	propLocalOnly   = "X-CALDORA-LOCAL-ONLY"
	propNeverSent   = "X-CALDORA-NEVER-SENT"
	propIsOrganizer = "X-CALDORA-IS-ORGANIZER"
	propLastFullSeq = "X-CALDORA-LAST-FULL-SEQUENCE"
	propChanges     = "X-CALDORA-CHANGES"
	propVersionID   = "X-CALDORA-VERSION-ID"
	propGeneration  = "X-CALDORA-GENERATION"
	propInvMethod   = "X-CALDORA-METHOD"
	propRSVP        = "X-CALDORA-RSVP"

	paramCN       = "CN"
	paramSentBy   = "SENT-BY"
	paramRole     = "ROLE"
	paramPartStat = "PARTSTAT"
	paramRSVP     = "RSVP"
	paramCUType   = "CUTYPE"
	paramRange    = "RANGE"
	paramFmtType  = "FMTTYPE"
	paramTZID     = "TZID"
)

const (
	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405Z"
	localLayout    = "20060102T150405"
)

// known lists the properties FromComponent maps to Invite fields. Anything
// else is kept in Invite.Extra.
var known = map[string]bool{
	ical.PropUID: true, ical.PropSequence: true, ical.PropDateTimeStamp: true,
	ical.PropDateTimeStart: true, ical.PropDateTimeEnd: true, ical.PropDue: true,
	ical.PropDuration: true, ical.PropOrganizer: true, ical.PropAttendee: true,
	ical.PropStatus: true, ical.PropClass: true, ical.PropSummary: true,
	ical.PropLocation: true, ical.PropDescription: true, ical.PropRecurrenceRule: true,
	ical.PropRecurrenceDates: true, ical.PropExceptionDates: true,
	propRecurrenceID: true, propComment: true, propAltDesc: true,
	propLocalOnly: true, propNeverSent: true, propIsOrganizer: true,
	propLastFullSeq: true, propChanges: true, propVersionID: true,
	propGeneration: true, propInvMethod: true, propRSVP: true,
}

// ToComponent renders an invite as a VEVENT or VTODO.
func ToComponent(inv Invite) *ical.Component {
	comp := ical.NewComponent(inv.Kind.ComponentName())
	props := comp.Props

	props.SetText(ical.PropUID, inv.UID)
	setRaw(props, ical.PropSequence, strconv.Itoa(inv.Sequence))
	if !inv.DTStamp.IsZero() {
		setRaw(props, ical.PropDateTimeStamp, inv.DTStamp.UTC().Format(dateTimeLayout))
	}
	if !inv.Start.IsZero() {
		props.Set(timeProp(ical.PropDateTimeStart, inv.Start, inv.AllDay))
	}
	if !inv.End.IsZero() {
		name := ical.PropDateTimeEnd
		if inv.Kind == KindTodo {
			name = ical.PropDue
		}
		props.Set(timeProp(name, inv.End, inv.AllDay))
	} else if d, ok := inv.Duration.Get(); ok {
		setRaw(props, ical.PropDuration, FormatDuration(d))
	}
	if rid, ok := inv.RecurID.Get(); ok {
		p := timeProp(propRecurrenceID, rid.Time, rid.AllDay)
		if rid.Range == RangeThisAndFuture {
			p.Params.Set(paramRange, "THISANDFUTURE")
		}
		props.Set(p)
	}
	if org, ok := inv.Organizer.Get(); ok {
		p := ical.NewProp(ical.PropOrganizer)
		p.Value = mailto(org.Address)
		if org.CommonName != "" {
			p.Params.Set(paramCN, org.CommonName)
		}
		if org.SentBy != "" {
			p.Params.Set(paramSentBy, mailto(org.SentBy))
		}
		props.Set(p)
	}
	for _, at := range inv.Attendees {
		props.Add(attendeeProp(at))
	}
	if inv.Status != "" {
		setRaw(props, ical.PropStatus, string(inv.Status))
	}
	if inv.Class != "" {
		setRaw(props, ical.PropClass, string(inv.Class))
	}
	if inv.Summary != "" {
		props.SetText(ical.PropSummary, inv.Summary)
	}
	if inv.Location != "" {
		props.SetText(ical.PropLocation, inv.Location)
	}
	if inv.Description != "" {
		props.SetText(ical.PropDescription, inv.Description)
	}
	if inv.DescriptionHTML != "" {
		p := ical.NewProp(propAltDesc)
		p.SetText(inv.DescriptionHTML)
		p.Params.Set(paramFmtType, "text/html")
		props.Set(p)
	}
	for _, c := range inv.Comments {
		p := ical.NewProp(propComment)
		p.SetText(c)
		props.Add(p)
	}
	if r, ok := inv.Recurrence.Get(); ok {
		for _, rule := range r.Rules {
			p := ical.NewProp(ical.PropRecurrenceRule)
			p.Value = rule
			props.Add(p)
		}
		for _, d := range r.RDates {
			props.Add(timeProp(ical.PropRecurrenceDates, d, inv.AllDay))
		}
		for _, d := range r.ExDates {
			props.Add(timeProp(ical.PropExceptionDates, d, inv.AllDay))
		}
	}

	setRaw(props, propInvMethod, inv.Method.String())
	if inv.LocalOnly {
		setRaw(props, propLocalOnly, "TRUE")
	}
	if inv.IsOrganizer {
		setRaw(props, propIsOrganizer, "TRUE")
	}
	setRaw(props, propNeverSent, strconv.Itoa(int(inv.NeverSent)))
	if inv.LastFullSequence != 0 {
		setRaw(props, propLastFullSeq, strconv.Itoa(inv.LastFullSequence))
	}
	if inv.Changes != "" {
		props.SetText(propChanges, inv.Changes)
	}
	if inv.ID != 0 {
		setRaw(props, propVersionID, strconv.Itoa(inv.ID))
	}
	if inv.Generation != 0 {
		setRaw(props, propGeneration, strconv.Itoa(inv.Generation))
	}
	if rsvp, ok := inv.RSVP.Get(); ok {
		setRaw(props, propRSVP, boolValue(rsvp))
	}
	for _, p := range inv.Extra {
		cp := cloneProp(p)
		props.Add(&cp)
	}
	return comp
}

// FromComponent reads an invite from a VEVENT or VTODO. The method is left
// at its zero value unless the component carries local bookkeeping.
func FromComponent(comp *ical.Component) (Invite, error) {
	var inv Invite
	switch comp.Name {
	case ical.CompEvent:
		inv.Kind = KindEvent
	case ical.CompToDo:
		inv.Kind = KindTodo
	default:
		return inv, fmt.Errorf("unsupported component %s", comp.Name)
	}
	props := comp.Props

	if p := props.Get(ical.PropUID); p != nil {
		inv.UID, _ = p.Text()
	}
	if p := props.Get(ical.PropSequence); p != nil {
		seq, err := strconv.Atoi(strings.TrimSpace(p.Value))
		if err != nil {
			return inv, fmt.Errorf("invalid SEQUENCE %q: %w", p.Value, err)
		}
		inv.Sequence = seq
	}
	if p := props.Get(ical.PropDateTimeStamp); p != nil {
		t, _, err := ParseTimeProp(p)
		if err != nil {
			return inv, fmt.Errorf("invalid DTSTAMP: %w", err)
		}
		inv.DTStamp = t
	}
	if p := props.Get(ical.PropDateTimeStart); p != nil {
		t, allDay, err := ParseTimeProp(p)
		if err != nil {
			return inv, fmt.Errorf("invalid DTSTART: %w", err)
		}
		inv.Start, inv.AllDay = t, allDay
	}
	endName := ical.PropDateTimeEnd
	if inv.Kind == KindTodo {
		endName = ical.PropDue
	}
	if p := props.Get(endName); p != nil {
		t, _, err := ParseTimeProp(p)
		if err != nil {
			return inv, fmt.Errorf("invalid %s: %w", endName, err)
		}
		inv.End = t
	}
	if p := props.Get(ical.PropDuration); p != nil {
		d, err := ParseDuration(p.Value)
		if err != nil {
			return inv, fmt.Errorf("invalid DURATION: %w", err)
		}
		inv.Duration = mo.Some(d)
	}
	if p := props.Get(propRecurrenceID); p != nil {
		t, allDay, err := ParseTimeProp(p)
		if err != nil {
			return inv, fmt.Errorf("invalid RECURRENCE-ID: %w", err)
		}
		rid := NewRecurID(t, allDay)
		if strings.EqualFold(p.Params.Get(paramRange), "THISANDFUTURE") {
			rid.Range = RangeThisAndFuture
		}
		inv.RecurID = mo.Some(rid)
	}
	if p := props.Get(ical.PropOrganizer); p != nil {
		inv.Organizer = mo.Some(Organizer{
			Address:    stripMailto(p.Value),
			CommonName: p.Params.Get(paramCN),
			SentBy:     stripMailto(p.Params.Get(paramSentBy)),
		})
	}
	for _, p := range props.Values(ical.PropAttendee) {
		inv.Attendees = append(inv.Attendees, Attendee{
			Address:    stripMailto(p.Value),
			CommonName: p.Params.Get(paramCN),
			SentBy:     stripMailto(p.Params.Get(paramSentBy)),
			Role:       Role(strings.ToUpper(p.Params.Get(paramRole))),
			PartStat:   PartStat(strings.ToUpper(p.Params.Get(paramPartStat))),
			RSVP:       strings.EqualFold(p.Params.Get(paramRSVP), "TRUE"),
			CUType:     strings.ToUpper(p.Params.Get(paramCUType)),
		})
	}
	if p := props.Get(ical.PropStatus); p != nil {
		inv.Status = Status(strings.ToUpper(p.Value))
	}
	if p := props.Get(ical.PropClass); p != nil {
		inv.Class = Class(strings.ToUpper(p.Value))
	}
	inv.Summary = text(props, ical.PropSummary)
	inv.Location = text(props, ical.PropLocation)
	inv.Description = text(props, ical.PropDescription)
	inv.DescriptionHTML = text(props, propAltDesc)
	for _, p := range props.Values(propComment) {
		if c, err := p.Text(); err == nil {
			inv.Comments = append(inv.Comments, c)
		}
	}

	rules := props.Values(ical.PropRecurrenceRule)
	rdates := props.Values(ical.PropRecurrenceDates)
	exdates := props.Values(ical.PropExceptionDates)
	if len(rules) > 0 || len(rdates) > 0 || len(exdates) > 0 {
		var r Recurrence
		for _, p := range rules {
			r.Rules = append(r.Rules, p.Value)
		}
		for i := range rdates {
			ts, err := parseTimeList(&rdates[i])
			if err != nil {
				return inv, fmt.Errorf("invalid RDATE: %w", err)
			}
			r.RDates = append(r.RDates, ts...)
		}
		for i := range exdates {
			ts, err := parseTimeList(&exdates[i])
			if err != nil {
				return inv, fmt.Errorf("invalid EXDATE: %w", err)
			}
			r.ExDates = append(r.ExDates, ts...)
		}
		inv.Recurrence = mo.Some(r)
	}

	if p := props.Get(propInvMethod); p != nil {
		m, err := ParseMethod(p.Value)
		if err != nil {
			return inv, err
		}
		inv.Method = m
	}
	inv.LocalOnly = boolProp(props, propLocalOnly)
	inv.IsOrganizer = boolProp(props, propIsOrganizer)
	inv.NeverSent = NeverSent(intProp(props, propNeverSent))
	inv.LastFullSequence = intProp(props, propLastFullSeq)
	inv.Changes = text(props, propChanges)
	inv.ID = intProp(props, propVersionID)
	inv.Generation = intProp(props, propGeneration)
	if p := props.Get(propRSVP); p != nil {
		inv.RSVP = mo.Some(strings.EqualFold(p.Value, "TRUE"))
	}

	for name, values := range props {
		if known[name] {
			continue
		}
		for _, p := range values {
			inv.Extra = append(inv.Extra, cloneProp(p))
		}
	}
	return inv, nil
}

// NewCalendar wraps invites in a VCALENDAR carrying the given method.
func NewCalendar(method Method, invites ...Invite) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	setRaw(cal.Props, propMethod, method.String())
	for _, inv := range invites {
		cal.Children = append(cal.Children, ToComponent(inv))
	}
	return cal
}

// NewOutboundCalendar is NewCalendar without the local X-CALDORA-*
// bookkeeping, for calendars that leave the mailbox. Components without a
// DTSTAMP are stamped with the current time.
func NewOutboundCalendar(method Method, invites ...Invite) *ical.Calendar {
	var now time.Time
	stamped := make([]Invite, len(invites))
	for i, inv := range invites {
		if inv.DTStamp.IsZero() {
			if now.IsZero() {
				now = time.Now().UTC().Truncate(time.Second)
			}
			inv.DTStamp = now
		}
		stamped[i] = inv
	}
	cal := NewCalendar(method, stamped...)
	for _, child := range cal.Children {
		for name := range child.Props {
			if strings.HasPrefix(name, localPrefix) {
				delete(child.Props, name)
			}
		}
	}
	return cal
}

// Encode serializes a calendar to iCalendar text.
func Encode(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses iCalendar text and returns its METHOD and invites. Invites
// without their own method bookkeeping take the calendar METHOD.
func Decode(data []byte) (Method, []Invite, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to decode calendar: %w", err)
	}
	method := MethodPublish
	if p := cal.Props.Get(propMethod); p != nil {
		if method, err = ParseMethod(p.Value); err != nil {
			return 0, nil, err
		}
	}
	var invites []Invite
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent && child.Name != ical.CompToDo {
			continue
		}
		inv, err := FromComponent(child)
		if err != nil {
			return 0, nil, err
		}
		if child.Props.Get(propInvMethod) == nil {
			inv.Method = method
		}
		invites = append(invites, inv)
	}
	return method, invites, nil
}

// ParseTimeProp parses a DATE or DATE-TIME property value. It reports
// whether the value was a DATE.
func ParseTimeProp(p *ical.Prop) (time.Time, bool, error) {
	return parseTimeValue(p.Value, p.Params)
}

func parseTimeValue(value string, params ical.Params) (time.Time, bool, error) {
	value = strings.TrimSpace(value)
	if strings.EqualFold(params.Get(ical.ParamValue), "DATE") || len(value) == len(dateLayout) {
		t, err := time.ParseInLocation(dateLayout, value, time.UTC)
		return t, true, err
	}
	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse(dateTimeLayout, value)
		return t, false, err
	}
	loc := time.UTC
	if tzid := params.Get(paramTZID); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(localLayout, value, loc)
	return t, false, err
}

func parseTimeList(p *ical.Prop) ([]time.Time, error) {
	var out []time.Time
	for _, v := range strings.Split(p.Value, ",") {
		if strings.TrimSpace(v) == "" {
			continue
		}
		t, _, err := parseTimeValue(v, p.Params)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// FormatTime renders t as an iCalendar DATE or UTC DATE-TIME value.
func FormatTime(t time.Time, allDay bool) string {
	if allDay {
		return t.Format(dateLayout)
	}
	return t.UTC().Format(dateTimeLayout)
}

func timeProp(name string, t time.Time, allDay bool) *ical.Prop {
	p := ical.NewProp(name)
	p.Value = FormatTime(t, allDay)
	if allDay {
		p.Params.Set(ical.ParamValue, "DATE")
	}
	return p
}

func attendeeProp(at Attendee) *ical.Prop {
	p := ical.NewProp(ical.PropAttendee)
	p.Value = mailto(at.Address)
	if at.CommonName != "" {
		p.Params.Set(paramCN, at.CommonName)
	}
	if at.SentBy != "" {
		p.Params.Set(paramSentBy, mailto(at.SentBy))
	}
	if at.Role != "" {
		p.Params.Set(paramRole, string(at.Role))
	}
	if at.PartStat != "" {
		p.Params.Set(paramPartStat, string(at.PartStat))
	}
	if at.RSVP {
		p.Params.Set(paramRSVP, "TRUE")
	}
	if at.CUType != "" {
		p.Params.Set(paramCUType, at.CUType)
	}
	return p
}

// FormatDuration renders d as an RFC 5545 duration.
func FormatDuration(d time.Duration) string {
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	b.WriteByte('P')
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if d == 0 && days > 0 {
		return b.String()
	}
	b.WriteByte('T')
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		fmt.Fprintf(&b, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	if s > 0 || (h == 0 && m == 0) {
		fmt.Fprintf(&b, "%dS", s)
	}
	return b.String()
}

// ParseDuration parses an RFC 5545 duration such as "PT1H30M" or "-P1W".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg, s = true, s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 2 {
		return 0, fmt.Errorf("malformed duration %q", s)
	}
	s = s[1:]
	var (
		d      time.Duration
		inTime bool
		num    int
		digits bool
	)
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			num = num*10 + int(c-'0')
			digits = true
			continue
		case c == 'T':
			inTime = true
			continue
		}
		if !digits {
			return 0, fmt.Errorf("malformed duration %q", s)
		}
		n := time.Duration(num)
		switch {
		case c == 'W' && !inTime:
			d += n * 7 * 24 * time.Hour
		case c == 'D' && !inTime:
			d += n * 24 * time.Hour
		case c == 'H' && inTime:
			d += n * time.Hour
		case c == 'M' && inTime:
			d += n * time.Minute
		case c == 'S' && inTime:
			d += n * time.Second
		default:
			return 0, fmt.Errorf("malformed duration %q", s)
		}
		num, digits = 0, false
	}
	if digits {
		return 0, fmt.Errorf("malformed duration %q", s)
	}
	if neg {
		d = -d
	}
	return d, nil
}

func setRaw(props ical.Props, name, value string) {
	p := ical.NewProp(name)
	p.Value = value
	props.Set(p)
}

func text(props ical.Props, name string) string {
	p := props.Get(name)
	if p == nil {
		return ""
	}
	s, err := p.Text()
	if err != nil {
		return p.Value
	}
	return s
}

func boolProp(props ical.Props, name string) bool {
	p := props.Get(name)
	return p != nil && strings.EqualFold(p.Value, "TRUE")
}

func intProp(props ical.Props, name string) int {
	p := props.Get(name)
	if p == nil {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimSpace(p.Value))
	return n
}

func boolValue(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func mailto(addr string) string {
	if addr == "" || strings.Contains(addr, ":") {
		return addr
	}
	return "mailto:" + addr
}

func stripMailto(v string) string {
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		return v[7:]
	}
	return v
}
