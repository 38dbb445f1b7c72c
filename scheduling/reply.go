package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/cyp0633/caldora-sched/mail"
	"github.com/cyp0633/caldora-sched/storage"
	"github.com/samber/mo"
)

// ReplyRequest answers an invitation. The invitation is either a stored
// calendar item (CalendarItemID) or an inbound invite (Invite).
type ReplyRequest struct {
	Actor Actor
	// Verb is ACCEPT, DECLINE or TENTATIVE in any case.
	Verb           string
	CalendarItemID string
	// Sequence is the version the caller replies to. An older one than
	// stored makes the reply stale.
	Sequence mo.Option[int]
	RecurID  mo.Option[itip.RecurID]
	Invite   mo.Option[itip.Invite]
	FolderID string
	// UpdateOrganizer sends the REPLY to the organizer.
	UpdateOrganizer bool
	Text            Text
}

// ReplyResult reports what a reply changed.
type ReplyResult struct {
	CalendarItemID string
	InviteID       int
	PartStat       itip.PartStat
	// Sent is set when the organizer was sent a REPLY.
	Sent bool
}

// Reply records the participation of the mailbox owner and tells the
// organizer about it.
func (e *Engine) Reply(ctx context.Context, req ReplyRequest) (ReplyResult, error) {
	verb, err := itip.ParseVerb(req.Verb)
	if err != nil {
		return ReplyResult{}, err
	}
	ctx, unlock, err := e.lock(ctx, req.Actor)
	if err != nil {
		return ReplyResult{}, err
	}
	defer unlock()

	if err := e.checkRights(ctx, req.Actor, RightAction, "reply to invitations"); err != nil {
		return ReplyResult{}, err
	}

	item, target, err := e.replyTarget(ctx, req, verb)
	if err != nil {
		return ReplyResult{}, err
	}
	if err := e.checkPrivate(ctx, req.Actor, item); err != nil {
		return ReplyResult{}, err
	}

	now := e.now()
	inv := target.Invite
	res := ReplyResult{InviteID: inv.ID, PartStat: verb.PartStat()}
	updateOrganizer := req.UpdateOrganizer && inv.RSVP.OrElse(true) && inv.HasOrganizer() && !inv.IsOrganizer

	at, found := inv.MatchingAttendee(req.Actor.Account.Addresses()...)
	if !found {
		at = itip.Attendee{
			Address:    req.Actor.Account.Address,
			CommonName: req.Actor.Account.DisplayName,
		}
	}
	if at.Role == "" {
		at.Role = itip.RoleOptional
	}
	at.PartStat = verb.PartStat()
	at.RSVP = false
	if req.Actor.OnBehalfOf() {
		at.SentBy = req.Actor.Requester().Address
	}

	if item != nil && target.Synthesized {
		exc := inv.Clone()
		exc.LocalOnly = true
		exc.NeverSent = itip.NeverSentPending
		exc.DTStamp = now
		exc.Attendees = setPartStat(exc.Attendees, at)
		stored, err := e.store.AddInvite(ctx, req.Actor.MailboxID(), item.FolderID, exc, storage.AddInviteOptions{})
		if err != nil {
			return ReplyResult{}, fmt.Errorf("failed to store exception for reply: %w", err)
		}
		res.InviteID = stored.InviteID
		e.logger.DebugContext(ctx, "created local exception for reply",
			"uid", inv.UID,
			"recur_id", exc.RecurID.MustGet().String(),
		)
	}

	q := e.newQueue()
	if updateOrganizer {
		msg, err := e.composeReply(ctx, req, verb, inv, at, now)
		if err != nil {
			return ReplyResult{}, err
		}
		q.Add(msg)
	}

	if item != nil {
		res.CalendarItemID = item.ID
		rec := itip.ReplyRecord{
			RecurID:    inv.RecurID,
			Address:    at.Address,
			CommonName: at.CommonName,
			Role:       at.Role,
			PartStat:   at.PartStat,
			Sequence:   inv.Sequence,
			DTStamp:    inv.DTStamp,
		}
		if err := e.store.RecordParticipation(ctx, req.Actor.MailboxID(), item.ID, rec); err != nil {
			return ReplyResult{}, fmt.Errorf("failed to record participation: %w", err)
		}
	}

	res.Sent = q.Flush(ctx) > 0
	e.logger.InfoContext(ctx, "reply processed",
		"mailbox_id", req.Actor.MailboxID(),
		"uid", inv.UID,
		"verb", verb.String(),
		"update_organizer", updateOrganizer,
		"sent", res.Sent,
	)
	return res, nil
}

// replyTarget finds the invite a reply answers. An inbound invite newer
// than the stored one is added to the calendar first, except for a
// decline of an item that does not exist.
func (e *Engine) replyTarget(ctx context.Context, req ReplyRequest, verb itip.Verb) (*itip.CalendarItem, Target, error) {
	mailboxID := req.Actor.MailboxID()
	inbound, ok := req.Invite.Get()
	if !ok {
		item, err := e.loadItem(ctx, mailboxID, req.CalendarItemID, "")
		if err != nil {
			return nil, Target{}, err
		}
		target, err := ResolveTarget(item, req.RecurID)
		if err != nil {
			return nil, Target{}, err
		}
		if seq, ok := req.Sequence.Get(); ok && seq < target.Invite.Sequence {
			return nil, Target{}, itip.NewInviteOutOfDate(fmt.Sprintf(
				"cannot reply to out of date invite %s: sequence %d, current %d", item.UID, seq, target.Invite.Sequence))
		}
		return item, target, nil
	}

	if inbound.UID == "" {
		return nil, Target{}, itip.NewInvalidRequest("Missing uid in a reply")
	}
	if req.RecurID.IsPresent() && inbound.RecurID.IsAbsent() {
		inbound.RecurID = req.RecurID
	}
	item, err := e.findItem(ctx, mailboxID, inbound.UID)
	if err != nil {
		return nil, Target{}, err
	}

	if item != nil {
		if stored, ok := item.Invite(inbound.RecurID).Get(); ok {
			if !inbound.IsSameOrNewerVersion(stored) {
				return nil, Target{}, itip.NewInviteOutOfDate(fmt.Sprintf(
					"cannot reply to out of date invite %s: sequence %d, current %d", inbound.UID, inbound.Sequence, stored.Sequence))
			}
			if inbound.Sequence == stored.Sequence {
				return item, Target{Invite: stored, Series: item.Series()}, nil
			}
		} else if inbound.IsException() {
			if target, err := ResolveTarget(item, inbound.RecurID); err == nil && inbound.Sequence <= target.Invite.Sequence {
				return item, target, nil
			}
		}
	} else if verb == itip.VerbDecline {
		return nil, Target{Invite: inbound}, nil
	}

	inbound.IsOrganizer = req.Actor.Account.Matches(inbound.OrganizerAddress())
	inbound.LocalOnly = false
	if inbound.DTStamp.IsZero() {
		inbound.DTStamp = e.now()
	}
	if _, err := e.store.AddInvite(ctx, mailboxID, e.folderOr(req.FolderID), inbound, storage.AddInviteOptions{}); err != nil {
		return nil, Target{}, fmt.Errorf("failed to add invite to calendar: %w", err)
	}
	item, err = e.loadItem(ctx, mailboxID, "", inbound.UID)
	if err != nil {
		return nil, Target{}, err
	}
	target, err := ResolveTarget(item, inbound.RecurID)
	if err != nil {
		return nil, Target{}, err
	}
	return item, target, nil
}

// composeReply builds the REPLY to the organizer. It only carries the
// replying attendee and keeps the sequence of the invite.
func (e *Engine) composeReply(ctx context.Context, req ReplyRequest, verb itip.Verb, inv itip.Invite,
	at itip.Attendee, now time.Time) (*mail.Message, error) {
	reply := itip.Invite{
		Method:    itip.MethodReply,
		Kind:      inv.Kind,
		UID:       inv.UID,
		RecurID:   inv.RecurID,
		Sequence:  inv.Sequence,
		DTStamp:   now,
		Organizer: inv.Organizer,
		Attendees: []itip.Attendee{at},
		Start:     inv.Start,
		End:       inv.End,
		Duration:  inv.Duration,
		AllDay:    inv.AllDay,
		Class:     inv.Class,
		Summary:   inv.Summary,
		Location:  inv.Location,
	}
	if inv.DTStamp.After(now) {
		reply.DTStamp = inv.DTStamp
	}
	if req.Text.Notes != "" {
		reply.Comments = []string{req.Text.Notes}
	}

	summary := inv.Summary
	if !inv.IsPublic() {
		summary = e.config.PrivateSubject
	}
	out := outbound{
		kind:      mail.KindReply,
		method:    itip.MethodReply,
		to:        []string{inv.OrganizerAddress()},
		subject:   req.Text.subjectOr(verb.SubjectPrefix() + ": " + summary),
		notes:     req.Text.Notes,
		notesHTML: req.Text.NotesHTML,
		invites:   []itip.Invite{reply},
	}
	if req.Actor.Account.CalendarResource {
		out.kind = mail.KindResourceReply
		out.template = mo.Some(resourceReplyTemplate(req.Actor, verb, summary))
	}
	return e.compose(ctx, req.Actor, out)
}

func resourceReplyTemplate(actor Actor, verb itip.Verb, summary string) *mail.Message {
	name := actor.Account.DisplayName
	if name == "" {
		name = actor.Account.Address
	}
	var text string
	switch verb {
	case itip.VerbAccept:
		text = "Your request for " + name + " has been accepted."
	case itip.VerbDecline:
		text = "Your request for " + name + " has been declined."
	default:
		text = "Your request for " + name + " has been tentatively accepted."
	}
	return &mail.Message{
		Subject: verb.SubjectPrefix() + ": " + summary,
		Text:    text,
	}
}

// setPartStat replaces the attendee matching at, or appends it.
func setPartStat(ats []itip.Attendee, at itip.Attendee) []itip.Attendee {
	out := append([]itip.Attendee(nil), ats...)
	for i := range out {
		if itip.SameAddress(out[i].Address, at.Address) {
			out[i].PartStat = at.PartStat
			return out
		}
	}
	return append(out, at)
}
