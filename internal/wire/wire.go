// Package wire parses the XML invite element used by request documents.
//
//	<inv method="REQUEST" uid="..." seq="1" stamp="20240301T090000Z" name="..." loc="...">
//	  <or a="org@x" d="Organizer"/>
//	  <at a="a@x" d="A" role="REQ-PARTICIPANT" ptst="NEEDS-ACTION" rsvp="1"/>
//	  <s d="20240301T100000" tz="Europe/Berlin"/>
//	  <e d="20240301T110000" tz="Europe/Berlin"/>
//	  <recur><rule>FREQ=WEEKLY</rule><exdate d="20240308T100000Z"/></recur>
//	  <desc>text</desc>
//	</inv>
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/cyp0633/caldora-sched/itip"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// Element and attribute names
const (
	TagInvite    = "inv"
	TagOrganizer = "or"
	TagAttendee  = "at"
	TagStart     = "s"
	TagEnd       = "e"
	TagDuration  = "dur"
	TagExceptID  = "exceptId"
	TagRecur     = "recur"
	TagRule      = "rule"
	TagRDate     = "rdate"
	TagExDate    = "exdate"
	TagDesc      = "desc"
	TagDescHTML  = "descHtml"
	TagComment   = "comment"
	TagXProp     = "xprop"

	AttrAddress = "a"
	AttrName    = "d"
	AttrDate    = "d"
	AttrTZ      = "tz"
)

// ErrEmptyDocument is returned when there is no invite element to parse.
var ErrEmptyDocument = errors.New("empty document")

// Context supplies defaults for values the element does not carry.
type Context struct {
	Method itip.Method
	Kind   itip.Kind
	// Location is used for times without a tz attribute.
	Location *time.Location
}

// ParseString parses an XML document whose root is an <inv> element.
func ParseString(s string, pc Context) (itip.Invite, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(s); err != nil {
		return itip.Invite{}, fmt.Errorf("failed to parse XML: %w", err)
	}
	if doc.Root() == nil {
		return itip.Invite{}, ErrEmptyDocument
	}
	return Parse(doc.Root(), pc)
}

// Parse converts an <inv> element into an invite. UID, sequence and
// DTSTAMP are set only when the element carries them.
func Parse(elem *etree.Element, pc Context) (itip.Invite, error) {
	if elem == nil {
		return itip.Invite{}, ErrEmptyDocument
	}
	if elem.Tag != TagInvite {
		return itip.Invite{}, fmt.Errorf("invalid root tag: %s", elem.Tag)
	}

	inv := itip.Invite{
		Method: pc.Method,
		Kind:   pc.Kind,
	}

	if v := elem.SelectAttrValue("method", ""); v != "" {
		m, err := itip.ParseMethod(v)
		if err != nil {
			return itip.Invite{}, err
		}
		inv.Method = m
	}
	switch strings.ToLower(elem.SelectAttrValue("type", "")) {
	case "task", "todo":
		inv.Kind = itip.KindTodo
	case "event", "appt":
		inv.Kind = itip.KindEvent
	}

	inv.UID = elem.SelectAttrValue("uid", "")
	if v := elem.SelectAttrValue("seq", ""); v != "" {
		seq, err := strconv.Atoi(v)
		if err != nil || seq < 0 {
			return itip.Invite{}, itip.NewInvalidRequest("invalid sequence " + v)
		}
		inv.Sequence = seq
	}
	if v := elem.SelectAttrValue("stamp", ""); v != "" {
		t, _, err := parseTime(v, "", pc.Location)
		if err != nil {
			return itip.Invite{}, itip.NewInvalidRequest("invalid dtstamp "+v, err)
		}
		inv.DTStamp = t
	}

	inv.Summary = elem.SelectAttrValue("name", "")
	inv.Location = elem.SelectAttrValue("loc", "")
	inv.Status = itip.Status(strings.ToUpper(elem.SelectAttrValue("status", "")))
	inv.Class = itip.Class(strings.ToUpper(elem.SelectAttrValue("class", "")))
	if v := elem.SelectAttrValue("rsvp", ""); v != "" {
		inv.RSVP = mo.Some(parseBool(v))
	}

	if or := elem.SelectElement(TagOrganizer); or != nil {
		addr := or.SelectAttrValue(AttrAddress, "")
		if addr == "" {
			return itip.Invite{}, itip.NewInvalidRequest("organizer without address")
		}
		inv.Organizer = mo.Some(itip.Organizer{
			Address:    addr,
			CommonName: or.SelectAttrValue(AttrName, ""),
			SentBy:     or.SelectAttrValue("sentBy", ""),
		})
	}

	seen := make(map[string]bool)
	for _, at := range elem.SelectElements(TagAttendee) {
		addr := at.SelectAttrValue(AttrAddress, "")
		if addr == "" {
			return itip.Invite{}, itip.NewInvalidRequest("attendee without address")
		}
		key := itip.NormalizeAddress(addr)
		if seen[key] {
			continue
		}
		seen[key] = true
		inv.Attendees = append(inv.Attendees, itip.Attendee{
			Address:    addr,
			CommonName: at.SelectAttrValue(AttrName, ""),
			SentBy:     at.SelectAttrValue("sentBy", ""),
			Role:       itip.Role(strings.ToUpper(at.SelectAttrValue("role", string(itip.RoleRequired)))),
			PartStat:   itip.PartStat(strings.ToUpper(at.SelectAttrValue("ptst", string(itip.PartStatNeedsAction)))),
			RSVP:       parseBool(at.SelectAttrValue("rsvp", "0")),
			CUType:     strings.ToUpper(at.SelectAttrValue("cutype", "")),
		})
	}

	if s := elem.SelectElement(TagStart); s != nil {
		t, allDay, err := parseTimeElement(s, pc.Location)
		if err != nil {
			return itip.Invite{}, itip.NewInvalidRequest("invalid start", err)
		}
		inv.Start, inv.AllDay = t, allDay
	}
	if e := elem.SelectElement(TagEnd); e != nil {
		t, _, err := parseTimeElement(e, pc.Location)
		if err != nil {
			return itip.Invite{}, itip.NewInvalidRequest("invalid end", err)
		}
		inv.End = t
	}
	if d := elem.SelectElement(TagDuration); d != nil {
		dur, err := itip.ParseDuration(d.SelectAttrValue(AttrDate, d.Text()))
		if err != nil {
			return itip.Invite{}, itip.NewInvalidRequest("invalid duration", err)
		}
		inv.Duration = mo.Some(dur)
	}
	if !inv.End.IsZero() && inv.End.Before(inv.Start) {
		return itip.Invite{}, itip.NewInvalidRequest("end is before start")
	}

	if ex := elem.SelectElement(TagExceptID); ex != nil {
		t, allDay, err := parseTimeElement(ex, pc.Location)
		if err != nil {
			return itip.Invite{}, itip.NewInvalidRequest("invalid recurrence id", err)
		}
		rid := itip.NewRecurID(t, allDay)
		if strings.EqualFold(ex.SelectAttrValue("range", ""), "THISANDFUTURE") {
			rid.Range = itip.RangeThisAndFuture
		}
		inv.RecurID = mo.Some(rid)
	}

	if recur := elem.SelectElement(TagRecur); recur != nil {
		r, err := parseRecurrence(recur, pc.Location)
		if err != nil {
			return itip.Invite{}, err
		}
		inv.Recurrence = mo.Some(r)
	}

	if d := elem.SelectElement(TagDesc); d != nil {
		inv.Description = d.Text()
	}
	if d := elem.SelectElement(TagDescHTML); d != nil {
		inv.DescriptionHTML = d.Text()
	}
	for _, c := range elem.SelectElements(TagComment) {
		inv.Comments = append(inv.Comments, c.Text())
	}
	for _, x := range elem.SelectElements(TagXProp) {
		name := strings.ToUpper(x.SelectAttrValue("name", ""))
		if !strings.HasPrefix(name, "X-") {
			return itip.Invite{}, itip.NewInvalidRequest("invalid x-prop name " + name)
		}
		p := ical.NewProp(name)
		p.Value = x.SelectAttrValue("value", x.Text())
		inv.Extra = append(inv.Extra, *p)
	}

	return inv, nil
}

func parseRecurrence(elem *etree.Element, loc *time.Location) (itip.Recurrence, error) {
	var r itip.Recurrence
	for _, rule := range elem.SelectElements(TagRule) {
		v := strings.TrimSpace(rule.Text())
		v = strings.TrimPrefix(v, "RRULE:")
		if !strings.Contains(strings.ToUpper(v), "FREQ=") {
			return r, itip.NewInvalidRequest("invalid recurrence rule " + v)
		}
		r.Rules = append(r.Rules, v)
	}
	for _, d := range elem.SelectElements(TagRDate) {
		t, _, err := parseTimeElement(d, loc)
		if err != nil {
			return r, itip.NewInvalidRequest("invalid rdate", err)
		}
		r.RDates = append(r.RDates, t)
	}
	for _, d := range elem.SelectElements(TagExDate) {
		t, _, err := parseTimeElement(d, loc)
		if err != nil {
			return r, itip.NewInvalidRequest("invalid exdate", err)
		}
		r.ExDates = append(r.ExDates, t)
	}
	if len(r.Rules) == 0 && len(r.RDates) == 0 {
		return r, itip.NewInvalidRequest("recurrence without rule or rdate")
	}
	return r, nil
}

func parseTimeElement(elem *etree.Element, loc *time.Location) (time.Time, bool, error) {
	return parseTime(elem.SelectAttrValue(AttrDate, ""), elem.SelectAttrValue(AttrTZ, ""), loc)
}

func parseTime(value, tz string, loc *time.Location) (time.Time, bool, error) {
	if value == "" {
		return time.Time{}, false, errors.New("missing date")
	}
	p := ical.NewProp(ical.PropDateTimeStart)
	p.Value = value
	if tz != "" {
		p.Params.Set("TZID", tz)
	}
	t, allDay, err := itip.ParseTimeProp(p)
	if err != nil {
		return time.Time{}, false, err
	}
	// floating times without a tz attribute are taken in the context location
	if tz == "" && loc != nil && !allDay && !strings.HasSuffix(value, "Z") {
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
	}
	return t, allDay, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
