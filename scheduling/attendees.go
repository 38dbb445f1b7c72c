package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/cyp0633/caldora-sched/mail"
	"github.com/cyp0633/caldora-sched/recurrence"
	"github.com/cyp0633/caldora-sched/storage"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

const removedFromAttendeeList = "You have been removed from the attendee list by the organizer."

// outbound is a calendar message before composition.
type outbound struct {
	kind      mail.Kind
	method    itip.Method
	to        []string
	subject   string
	notes     string
	notesHTML string
	// invites become the calendar components; the first is the primary one.
	invites  []itip.Invite
	from     mo.Option[mail.Address]
	sender   mo.Option[mail.Address]
	template mo.Option[*mail.Message]
	// bare messages carry no calendar.
	bare bool
}

func identityAddress(addr, name string) mail.Address {
	return mail.Address{Email: addr, Name: name}
}

// compose builds the message. The mailbox owner is the sender unless the
// message says otherwise; a delegate shows up as Sender.
func (e *Engine) compose(ctx context.Context, actor Actor, out outbound) (*mail.Message, error) {
	from := out.from.OrElse(identityAddress(actor.Account.Address, actor.Account.DisplayName))
	sender := out.sender
	if sender.IsAbsent() && actor.OnBehalfOf() {
		req := actor.Requester()
		sender = mo.Some(identityAddress(req.Address, req.DisplayName))
	}
	var cal *ical.Calendar
	if !out.bare {
		cal = itip.NewOutboundCalendar(out.method, out.invites...)
	}
	msg, err := e.composer.Compose(ctx, mail.Draft{
		Kind:      out.kind,
		From:      from,
		Sender:    sender,
		To:        mail.Addresses(out.to...),
		Subject:   out.subject,
		Notes:     out.notes,
		NotesHTML: out.notesHTML,
		Method:    out.method,
		Invite:    out.invites[0],
		Calendar:  cal,
		Template:  out.template,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compose %s message: %w", out.kind, err)
	}
	return msg, nil
}

// adjustRecipients removes duplicates. A delegate may copy the owner in;
// otherwise the owner's own addresses are dropped.
func (e *Engine) adjustRecipients(actor Actor, rcpts []string) []string {
	var out []string
	for _, r := range rcpts {
		if strings.TrimSpace(r) == "" || containsAddress(out, r) {
			continue
		}
		if !actor.OnBehalfOf() && actor.Account.Matches(r) {
			continue
		}
		out = append(out, r)
	}
	if actor.OnBehalfOf() && e.config.NotifyOwnerOnDelegatedChange && actor.Account.Address != "" &&
		!containsAddress(out, actor.Account.Address) {
		out = append(out, actor.Account.Address)
	}
	return out
}

// recipientsFor returns the explicit recipients. Without them the
// organizer notifies every attendee and anybody else notifies nobody.
func recipientsFor(explicit mo.Option[[]string], inv itip.Invite) []string {
	if r, ok := explicit.Get(); ok {
		return r
	}
	if !inv.IsOrganizer {
		return nil
	}
	return inv.AttendeeAddresses()
}

// cancelInvite builds the CANCEL sent for inv. forAttendees narrows the
// attendee list; rid picks an occurrence when inv is the series.
func (e *Engine) cancelInvite(actor Actor, inv itip.Invite, forAttendees []itip.Attendee,
	rid mo.Option[itip.RecurID], text string, now time.Time) itip.Invite {
	c := itip.Invite{
		Method:      itip.MethodCancel,
		Kind:        inv.Kind,
		UID:         inv.UID,
		Sequence:    inv.Sequence,
		DTStamp:     now,
		Status:      itip.StatusCancelled,
		Class:       inv.Class,
		Location:    inv.Location,
		IsOrganizer: inv.IsOrganizer,
		AllDay:      inv.AllDay,
	}
	if inv.IsOrganizer {
		c.Sequence++
	}
	if org, ok := inv.Organizer.Get(); ok {
		if actor.OnBehalfOf() {
			org.SentBy = actor.Requester().Address
		}
		c.Organizer = mo.Some(org)
	}
	if len(forAttendees) > 0 {
		c.Attendees = append([]itip.Attendee(nil), forAttendees...)
	} else {
		c.Attendees = append([]itip.Attendee(nil), inv.Attendees...)
	}

	name := inv.Summary
	if !inv.IsPublic() {
		name = e.config.PrivateSubject
	}
	c.Summary = mail.CancelSubject(name)
	if text != "" {
		c.Comments = []string{text}
	}

	if r, ok := inv.RecurID.Get(); ok {
		c.RecurID = mo.Some(r)
	} else if r, ok := rid.Get(); ok {
		c.RecurID = mo.Some(r)
	}
	c.Start = inv.Start
	if r, ok := c.RecurID.Get(); ok {
		c.Start = r.Time
	}
	if d, ok := inv.EffectiveDuration().Get(); ok && !c.Start.IsZero() {
		c.End = c.Start.Add(d)
	}
	return c
}

// notifyRemovedAttendees tells removed attendees right away, before the
// caller stores anything. Failures are only logged.
func (e *Engine) notifyRemovedAttendees(ctx context.Context, actor Actor, inv itip.Invite, removed []itip.Attendee, now time.Time) {
	if len(removed) == 0 {
		return
	}
	logger := e.logger.With("uid", inv.UID, "removed", attendeeAddresses(removed))
	if !inv.IsRecurrence() && !recurrence.InviteIsAfterTime(inv, now) {
		logger.DebugContext(ctx, "not cancelling past invite for removed attendees")
		return
	}
	cancel := e.cancelInvite(actor, inv, removed, mo.None[itip.RecurID](), removedFromAttendeeList, now)
	rcpts := attendeeAddresses(removed)
	if err := CheckCanNotify(cancel, rcpts); err != nil {
		logger.DebugContext(ctx, "could not inform attendees that they were removed", "error", err)
		return
	}
	msg, err := e.compose(ctx, actor, outbound{
		kind:    mail.KindCancel,
		method:  itip.MethodCancel,
		to:      rcpts,
		subject: cancel.Summary,
		notes:   removedFromAttendeeList,
		invites: []itip.Invite{cancel},
	})
	if err == nil {
		err = e.sender.Send(ctx, msg)
	}
	if err != nil {
		logger.DebugContext(ctx, "could not inform attendees that they were removed", "error", err)
		return
	}
	logger.InfoContext(ctx, "sent cancellation to removed attendees")
}

// notifyOrphanedAttendees cancels the orphaned exceptions for attendees
// the new series does not have.
func (e *Engine) notifyOrphanedAttendees(ctx context.Context, q *mail.SendQueue, actor Actor,
	series itip.Invite, orphaned []itip.Invite, now time.Time) error {
	for _, exc := range orphaned {
		if exc.IsCancel() || !recurrence.InviteIsAfterTime(exc, now) {
			continue
		}
		var only []itip.Attendee
		for _, at := range exc.Attendees {
			if _, ok := series.MatchingAttendee(at.Address); !ok && !actor.Account.Matches(at.Address) {
				only = append(only, at)
			}
		}
		if len(only) == 0 {
			continue
		}
		cancel := e.cancelInvite(actor, exc, only, mo.None[itip.RecurID](), "", now)
		rcpts := attendeeAddresses(only)
		if err := CheckCanNotify(cancel, rcpts); err != nil {
			return err
		}
		msg, err := e.compose(ctx, actor, outbound{
			kind:    mail.KindCancel,
			method:  itip.MethodCancel,
			to:      rcpts,
			subject: cancel.Summary,
			invites: []itip.Invite{cancel},
		})
		if err != nil {
			return err
		}
		q.Add(msg)
	}
	return nil
}

// addRemoveAttendeesInExceptions carries an attendee change of the series
// into the exceptions. Past exceptions and lineages in skip are left
// alone unless carry is set, in which case they are stored again as they
// are so they survive a new generation.
func (e *Engine) addRemoveAttendeesInExceptions(ctx context.Context, actor Actor, item *itip.CalendarItem,
	exceptions []itip.Invite, added, removed []itip.Attendee, seriesSeq int, carry bool,
	skip map[string]bool, now time.Time) error {
	for _, exc := range exceptions {
		key := itip.LineageKey(exc.RecurID)
		if skip[key] {
			continue
		}
		future := recurrence.InviteIsAfterTime(exc, now)
		modified := false
		next := exc.Clone()
		if future {
			next.Attendees, modified = applyAttendeeDelta(next.Attendees, added, removed)
		}
		if !modified && !carry {
			continue
		}
		if modified {
			if !next.IsCancel() {
				next.Method = itip.MethodRequest
			}
			if next.IsOrganizer {
				next.Sequence = OrganizerSequence(next.Sequence, mo.Some(exc), mo.Some(seriesSeq))
			}
			next.DTStamp = now
		}
		if _, err := e.store.AddInvite(ctx, actor.MailboxID(), item.FolderID, next, storage.AddInviteOptions{}); err != nil {
			return fmt.Errorf("failed to update exception %s: %w", key, err)
		}
		skip[key] = true
	}
	return nil
}

// applyAttendeeDelta removes and adds attendees, matching addresses
// without regard to case.
func applyAttendeeDelta(ats, added, removed []itip.Attendee) ([]itip.Attendee, bool) {
	modified := false
	out := make([]itip.Attendee, 0, len(ats)+len(added))
	for _, at := range ats {
		drop := false
		for _, r := range removed {
			if strings.EqualFold(at.Address, r.Address) {
				drop = true
				break
			}
		}
		if drop {
			modified = true
			continue
		}
		out = append(out, at)
	}
	for _, a := range added {
		exists := false
		for _, at := range out {
			if strings.EqualFold(at.Address, a.Address) {
				exists = true
				break
			}
		}
		if !exists {
			out = append(out, a)
			modified = true
		}
	}
	return out, modified
}

// notifyCalendarItem queues the update of a recurring item: the series
// with cancelled exceptions folded in as EXDATE and the others appended as
// extra components. Past exceptions are left out.
func (e *Engine) notifyCalendarItem(ctx context.Context, q *mail.SendQueue, actor Actor, item *itip.CalendarItem,
	rcpts []string, notifyAll bool, added []itip.Attendee, text Text, now time.Time) error {
	series, ok := item.Series().Get()
	if !ok {
		return nil
	}
	payload := []itip.Invite{series.Clone()}
	for _, exc := range item.Exceptions() {
		if !recurrence.InviteIsAfterTime(exc, now) {
			continue
		}
		if exc.IsCancel() {
			rid := exc.RecurID.MustGet()
			r := payload[0].Recurrence.OrEmpty()
			r.ExDates = append(r.ExDates, rid.Time)
			payload[0].Recurrence = mo.Some(r)
			continue
		}
		payload = append(payload, exc)
	}

	to := rcpts
	if !notifyAll {
		to = nil
		for _, at := range added {
			if containsAddress(rcpts, at.Address) {
				to = append(to, at.Address)
			}
		}
	}
	if len(to) == 0 {
		return nil
	}
	msg, err := e.compose(ctx, actor, outbound{
		kind:      mail.KindInvite,
		method:    itip.MethodRequest,
		to:        to,
		subject:   text.subjectOr(series.Summary),
		notes:     text.Notes,
		notesHTML: text.NotesHTML,
		invites:   payload,
	})
	if err != nil {
		return err
	}
	q.Add(msg)
	return nil
}

// Text is the user supplied text of a request.
type Text struct {
	Subject   string
	Notes     string
	NotesHTML string
}

func (m Text) subjectOr(fallback string) string {
	if m.Subject != "" {
		return m.Subject
	}
	return fallback
}
