package scheduling

import (
	"context"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/cyp0633/caldora-sched/mail"
	"github.com/samber/mo"
)

const (
	propOriginalStart = "X-MS-OLK-ORIGINALSTART"
	propOriginalEnd   = "X-MS-OLK-ORIGINALEND"
)

// CounterRequest proposes a change of an invite to its organizer.
type CounterRequest struct {
	Actor Actor
	// Invite is the proposal. It needs UID, organizer and start.
	Invite itip.Invite
	Text   Text
}

// DeclineCounterRequest rejects a counter proposal.
type DeclineCounterRequest struct {
	Actor  Actor
	Invite itip.Invite
	// Recipients are the attendees whose proposal is declined. Absent
	// means every attendee of Invite.
	Recipients mo.Option[[]string]
	Text       Text
}

// Counter sends a COUNTER to the organizer. Nothing is stored.
func (e *Engine) Counter(ctx context.Context, req CounterRequest) (Result, error) {
	inv := req.Invite.Clone()
	if inv.UID == "" {
		return Result{}, itip.NewInvalidRequest("Missing uid in a counter invite")
	}
	if !inv.HasOrganizer() {
		return Result{}, itip.NewInvalidRequest("Missing organizer in a counter invite")
	}
	if inv.Start.IsZero() {
		return Result{}, itip.NewInvalidRequest("Missing DTSTART in a counter invite")
	}

	ctx, unlock, err := e.lock(ctx, req.Actor)
	if err != nil {
		return Result{}, err
	}
	defer unlock()
	if err := e.checkRights(ctx, req.Actor, RightAction, "propose new times"); err != nil {
		return Result{}, err
	}

	item, err := e.findItem(ctx, req.Actor.MailboxID(), inv.UID)
	if err != nil {
		return Result{}, err
	}
	var res Result
	if item != nil {
		res.CalendarItemID = item.ID
		if target, err := ResolveTarget(item, inv.RecurID); err == nil && !target.Invite.Start.IsZero() {
			orig := target.Invite
			inv.SetExtra(itip.NewExtraTimeProp(propOriginalStart, orig.Start, orig.AllDay))
			if end := orig.EffectiveEnd(); !end.IsZero() {
				inv.SetExtra(itip.NewExtraTimeProp(propOriginalEnd, end, orig.AllDay))
			}
			if inv.Location == "" {
				inv.Location = orig.Location
			}
			res.InviteID = orig.ID
		}
	}

	inv.Method = itip.MethodCounter
	inv.IsOrganizer = false
	if !inv.HasOtherAttendees() {
		me := req.Actor.Account
		inv.Attendees = []itip.Attendee{{
			Address:    me.Address,
			CommonName: me.DisplayName,
			Role:       itip.RoleRequired,
			PartStat:   itip.PartStatTentative,
		}}
	}
	if inv.DTStamp.IsZero() {
		inv.DTStamp = e.now()
	}

	msg, err := e.compose(ctx, req.Actor, outbound{
		kind:      mail.KindCounter,
		method:    itip.MethodCounter,
		to:        []string{inv.OrganizerAddress()},
		subject:   req.Text.subjectOr("New Time Proposed: " + inv.Summary),
		notes:     req.Text.Notes,
		notesHTML: req.Text.NotesHTML,
		invites:   []itip.Invite{inv},
	})
	if err != nil {
		return Result{}, err
	}
	q := e.newQueue()
	q.Add(msg)
	res.Sent = q.Flush(ctx)
	e.logger.InfoContext(ctx, "counter proposal sent",
		"mailbox_id", req.Actor.MailboxID(),
		"uid", inv.UID,
		"organizer", inv.OrganizerAddress(),
	)
	return res, nil
}

// DeclineCounter tells attendees their proposal was declined. Nothing is
// stored.
func (e *Engine) DeclineCounter(ctx context.Context, req DeclineCounterRequest) (Result, error) {
	inv := req.Invite.Clone()
	if inv.UID == "" {
		return Result{}, itip.NewInvalidRequest("Missing uid in a decline counter invite")
	}
	if !inv.HasOrganizer() {
		return Result{}, itip.NewInvalidRequest("Missing organizer in a decline counter invite")
	}

	ctx, unlock, err := e.lock(ctx, req.Actor)
	if err != nil {
		return Result{}, err
	}
	defer unlock()
	if err := e.checkRights(ctx, req.Actor, RightAction, "decline proposals"); err != nil {
		return Result{}, err
	}

	inv.Method = itip.MethodDeclineCounter
	inv.IsOrganizer = req.Actor.Account.Matches(inv.OrganizerAddress())
	if inv.DTStamp.IsZero() {
		inv.DTStamp = e.now()
	}
	rcpts := e.adjustRecipients(req.Actor, recipientsFor(req.Recipients, inv))
	if err := CheckCanNotify(inv, rcpts); err != nil {
		return Result{}, err
	}
	if len(rcpts) == 0 {
		return Result{}, nil
	}

	msg, err := e.compose(ctx, req.Actor, outbound{
		kind:      mail.KindDeclineCounter,
		method:    itip.MethodDeclineCounter,
		to:        rcpts,
		subject:   req.Text.subjectOr("New Time Proposal Declined: " + inv.Summary),
		notes:     req.Text.Notes,
		notesHTML: req.Text.NotesHTML,
		invites:   []itip.Invite{inv},
	})
	if err != nil {
		return Result{}, err
	}
	q := e.newQueue()
	q.Add(msg)
	return Result{Sent: q.Flush(ctx)}, nil
}
