package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/cyp0633/caldora-sched/mail"
	"github.com/cyp0633/caldora-sched/recurrence"
	"github.com/samber/mo"
)

const propOlkSender = "X-MS-OLK-SENDER"

// ForwardRequest forwards an item, or one occurrence of it, to people
// who are not attendees.
type ForwardRequest struct {
	Actor          Actor
	CalendarItemID string
	UID            string
	RecurID        mo.Option[itip.RecurID]
	// To lists the forwardees.
	To       []string
	Text     Text
	Template mo.Option[*mail.Message]
}

// Forward sends the item to the forwardees on behalf of its organizer.
// The stored item is not changed.
func (e *Engine) Forward(ctx context.Context, req ForwardRequest) error {
	if len(req.To) == 0 {
		return itip.NewInvalidRequest("Missing forwardees")
	}
	ctx, unlock, err := e.lock(ctx, req.Actor)
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.checkRights(ctx, req.Actor, RightRead, "forward appointments"); err != nil {
		return err
	}
	item, err := e.loadItem(ctx, req.Actor.MailboxID(), req.CalendarItemID, req.UID)
	if err != nil {
		return err
	}
	if err := e.checkPrivate(ctx, req.Actor, item); err != nil {
		return err
	}

	now := e.now()
	batches, err := forwardBatches(item, req.RecurID, now)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		return itip.NewInvalidRequest("nothing to forward in calendar item " + item.ID)
	}

	forwarder := req.Actor.Requester()
	forwardees := e.adjustRecipients(Actor{Account: forwarder}, req.To)
	if len(forwardees) == 0 {
		return itip.NewInvalidRequest("Missing forwardees")
	}

	q := e.newQueue()
	for i, batch := range batches {
		for j := range batch {
			batch[j] = rewriteForForward(batch[j], forwarder.Address, forwardees)
		}
		if i == 0 {
			if req.Text.Notes != "" {
				batch[0].Description = req.Text.Notes
			}
			if req.Text.NotesHTML != "" {
				batch[0].DescriptionHTML = req.Text.NotesHTML
			}
		}

		primary := batch[0]
		from := identityAddress(forwarder.Address, forwarder.DisplayName)
		if org, ok := primary.Organizer.Get(); ok {
			from = identityAddress(org.Address, org.CommonName)
		}
		msg, err := e.compose(ctx, req.Actor, outbound{
			kind:      mail.KindForward,
			method:    itip.MethodRequest,
			to:        forwardees,
			subject:   req.Text.subjectOr("Fwd: " + primary.Summary),
			notes:     req.Text.Notes,
			notesHTML: req.Text.NotesHTML,
			invites:   batch,
			from:      mo.Some(from),
			sender:    mo.Some(identityAddress(forwarder.Address, forwarder.DisplayName)),
			template:  req.Template,
		})
		if err != nil {
			return err
		}
		q.Add(msg)

		notice, err := e.forwardNotice(ctx, req.Actor, forwarder.Address, primary, forwardees)
		if err != nil {
			return err
		}
		q.Add(notice)
	}

	sent := q.Flush(ctx)
	e.logger.InfoContext(ctx, "calendar item forwarded",
		"mailbox_id", req.Actor.MailboxID(),
		"uid", item.UID,
		"forwardees", forwardees,
		"sent", sent,
	)
	return nil
}

// forwardBatches groups the invites to forward, one message each. A
// series travels with its future cancelled occurrences; every other
// future exception gets its own message.
func forwardBatches(item *itip.CalendarItem, rid mo.Option[itip.RecurID], now time.Time) ([][]itip.Invite, error) {
	if rid.IsPresent() {
		target, err := ResolveTarget(item, rid)
		if err != nil {
			return nil, err
		}
		inv := target.Invite.Clone()
		if target.Synthesized {
			inv.DTStamp = now
		}
		return [][]itip.Invite{{inv}}, nil
	}

	def, ok := item.DefaultInvite().Get()
	if !ok {
		return nil, itip.NewNoSuchCalendarItem("calendar item " + item.ID + " has no invites")
	}
	if !def.IsRecurrence() {
		return [][]itip.Invite{{def.Clone()}}, nil
	}

	series := []itip.Invite{def.Clone()}
	var rest [][]itip.Invite
	for _, exc := range item.Exceptions() {
		if !recurrence.InviteIsAfterTime(exc, now) {
			continue
		}
		if exc.IsCancel() {
			series = append(series, exc.Clone())
			continue
		}
		rest = append(rest, []itip.Invite{exc.Clone()})
	}
	return append([][]itip.Invite{series}, rest...), nil
}

// rewriteForForward makes the forwarder the sender of inv and the
// forwardees its only attendees.
func rewriteForForward(inv itip.Invite, forwarder string, forwardees []string) itip.Invite {
	out := inv.Clone()
	out.Method = itip.MethodRequest
	out.RemoveExtra(propOlkSender)
	if org, ok := out.Organizer.Get(); ok {
		org.SentBy = forwarder
		out.Organizer = mo.Some(org)
	}
	out.SetExtra(itip.NewExtraProp(propOlkSender, "mailto:"+forwarder))
	out.Attendees = make([]itip.Attendee, 0, len(forwardees))
	for _, f := range forwardees {
		out.Attendees = append(out.Attendees, itip.Attendee{
			Address:  f,
			Role:     itip.RoleRequired,
			PartStat: itip.PartStatNeedsAction,
			RSVP:     true,
		})
	}
	out.RSVP = mo.None[bool]()
	return out
}

// forwardNotice tells a local organizer, other than the forwarder, who
// the invite was forwarded to.
func (e *Engine) forwardNotice(ctx context.Context, actor Actor, forwarder string, inv itip.Invite,
	forwardees []string) (*mail.Message, error) {
	org := inv.OrganizerAddress()
	if org == "" || itip.SameAddress(org, forwarder) {
		return nil, nil
	}
	ident, err := e.dir.ResolveIdentity(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve organizer %s: %w", org, err)
	}
	id, ok := ident.Get()
	if !ok || id.Matches(forwarder) {
		return nil, nil
	}
	notes := fmt.Sprintf("Your meeting was forwarded by %s to %s.", forwarder, strings.Join(forwardees, ", "))
	return e.compose(ctx, actor, outbound{
		kind:    mail.KindForwardNotify,
		method:  itip.MethodRequest,
		to:      []string{org},
		subject: "Meeting Forward Notification: " + inv.Summary,
		notes:   notes,
		invites: []itip.Invite{inv},
		from:    mo.Some(identityAddress(forwarder, "")),
		bare:    true,
	})
}
