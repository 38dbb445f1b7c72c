package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/cyp0633/caldora-sched/mail"
	"github.com/cyp0633/caldora-sched/storage"
	"github.com/google/uuid"
	"github.com/samber/mo"
)

// CreateRequest creates a calendar item, or an exception of an existing
// series when the invite carries a RECURRENCE-ID.
type CreateRequest struct {
	Actor    Actor
	FolderID string
	Invite   itip.Invite
	// Recipients overrides who is notified. Absent means every attendee.
	Recipients mo.Option[[]string]
	Text       Text
}

// ModifyRequest changes the series, an exception or a single invite.
type ModifyRequest struct {
	Actor          Actor
	CalendarItemID string
	Invite         itip.Invite
	// ModifiedSequence and Revision are the counters the caller saw. A
	// request based on older counters is rejected.
	ModifiedSequence mo.Option[int64]
	Revision         mo.Option[int64]
	Recipients       mo.Option[[]string]
	Text             Text
}

// CancelRequest cancels the item or one occurrence of it.
type CancelRequest struct {
	Actor          Actor
	CalendarItemID string
	UID            string
	RecurID        mo.Option[itip.RecurID]
	Recipients     mo.Option[[]string]
	Text           Text
}

// Create stores a new invite and notifies its attendees.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (Result, error) {
	ctx, unlock, err := e.lock(ctx, req.Actor)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	if err := e.checkRights(ctx, req.Actor, RightWrite, "create appointments"); err != nil {
		return Result{}, err
	}

	inv := req.Invite.Clone()
	if inv.UID == "" {
		inv.UID = uuid.NewString()
	}
	existing, err := e.findItem(ctx, req.Actor.MailboxID(), inv.UID)
	if err != nil {
		return Result{}, err
	}

	q := e.newQueue()
	var res Result
	switch {
	case inv.RecurID.IsPresent():
		if existing == nil {
			return Result{}, itip.NewInvalidRequest("Instance specified but no recurrence series found")
		}
		res, err = e.createException(ctx, q, req.Actor, existing, inv, req.Recipients, req.Text)
	case existing != nil:
		return Result{}, itip.NewInvalidRequest("calendar item with uid " + inv.UID + " already exists")
	default:
		res, err = e.createSeries(ctx, q, req.Actor, e.folderOr(req.FolderID), inv, req.Recipients, req.Text)
	}
	if err != nil {
		return Result{}, err
	}
	res.Sent = q.Flush(ctx)
	e.logger.InfoContext(ctx, "calendar item created",
		"mailbox_id", req.Actor.MailboxID(),
		"calendar_item_id", res.CalendarItemID,
		"uid", inv.UID,
		"sent", res.Sent,
	)
	return res, nil
}

func (e *Engine) createSeries(ctx context.Context, q *mail.SendQueue, actor Actor, folderID string,
	inv itip.Invite, explicit mo.Option[[]string], text Text) (Result, error) {
	now := e.now()
	e.prepareOrganizer(&inv, actor)
	if inv.DTStamp.IsZero() {
		inv.DTStamp = now
	}
	defaultMethod(&inv)

	rcpts := e.adjustRecipients(actor, recipientsFor(explicit, inv))
	if err := CheckCanNotify(inv, rcpts); err != nil {
		return Result{}, err
	}
	if inv.IsOrganizer {
		inv.NeverSent = NextNeverSent(mo.None[itip.Invite](), inv, len(rcpts) > 0)
		inv.LastFullSequence = lastFullSequence(mo.None[itip.Invite](), inv, len(rcpts) > 0)
	}
	return e.sendCalendarMessage(ctx, q, actor, folderID, inv, rcpts, mail.KindInvite, text, storage.AddInviteOptions{})
}

// createException stores the first version of an exception. It inherits
// the organizer of the series and its sequence never falls below it.
func (e *Engine) createException(ctx context.Context, q *mail.SendQueue, actor Actor, item *itip.CalendarItem,
	inv itip.Invite, explicit mo.Option[[]string], text Text) (Result, error) {
	series, ok := item.Series().Get()
	if !ok || !series.IsRecurrence() {
		return Result{}, itip.NewInvalidRequest("Instance specified but no recurrence series found")
	}
	rid := inv.RecurID.MustGet()
	instance := MakeInstanceInvite(series, rid)
	now := e.now()

	inv.UID = series.UID
	inv.Kind = series.Kind
	inv.Organizer = series.Organizer
	inv.IsOrganizer = series.IsOrganizer
	inv.Recurrence = mo.None[itip.Recurrence]()
	defaultMethod(&inv)

	rcpts := e.adjustRecipients(actor, recipientsFor(explicit, inv))
	if err := CheckCanNotify(inv, rcpts); err != nil {
		return Result{}, err
	}

	var removed, added []itip.Attendee
	if inv.IsOrganizer {
		var err error
		if removed, err = e.reconciler.RemovedAttendees(ctx, instance.Attendees, inv.Attendees, e.config.CheckDLMembership); err != nil {
			return Result{}, err
		}
		if added, err = e.reconciler.AddedAttendees(ctx, instance.Attendees, inv.Attendees); err != nil {
			return Result{}, err
		}
		inv.Sequence = ExceptionFloor(inv.Sequence, series)
		if len(removed) > 0 {
			inv.Sequence++
		}
		inv.DTStamp = now
		full := len(rcpts) > 0 && IsFullBroadcast(rcpts, added)
		inv.NeverSent = NextNeverSent(mo.Some(series), inv, len(rcpts) > 0)
		inv.LastFullSequence = lastFullSequence(mo.Some(series), inv, full)
	} else {
		inv.Sequence = series.Sequence
		inv.DTStamp = series.DTStamp
		inv.NeverSent = series.NeverSent
	}

	e.notifyRemovedAttendees(ctx, actor, instance, removed, now)
	return e.sendCalendarMessage(ctx, q, actor, item.FolderID, inv, rcpts, mail.KindInvite, text, storage.AddInviteOptions{})
}

// Modify stores a new version of an existing invite and notifies the
// attendees it affects.
func (e *Engine) Modify(ctx context.Context, req ModifyRequest) (Result, error) {
	ctx, unlock, err := e.lock(ctx, req.Actor)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	if err := e.checkRights(ctx, req.Actor, RightWrite, "modify appointments"); err != nil {
		return Result{}, err
	}
	item, err := e.loadItem(ctx, req.Actor.MailboxID(), req.CalendarItemID, req.Invite.UID)
	if err != nil {
		return Result{}, err
	}
	if err := checkConflict(item, req.ModifiedSequence, req.Revision); err != nil {
		return Result{}, err
	}

	inv := req.Invite.Clone()
	if inv.UID != "" && inv.UID != item.UID {
		return Result{}, itip.NewInvalidRequest("uid " + inv.UID + " does not match calendar item " + item.ID)
	}
	inv.UID = item.UID

	q := e.newQueue()
	prev, ok := item.Invite(inv.RecurID).Get()
	if !ok {
		if inv.RecurID.IsAbsent() {
			return Result{}, itip.NewNoSuchCalendarItem("calendar item " + item.ID + " has no series")
		}
		res, err := e.createException(ctx, q, req.Actor, item, inv, req.Recipients, req.Text)
		if err != nil {
			return Result{}, err
		}
		res.Sent = q.Flush(ctx)
		return res, nil
	}

	if err := e.guardOrganizer(item, prev, &inv, req.Actor); err != nil {
		return Result{}, err
	}
	defaultMethod(&inv)
	now := e.now()

	rcpts := e.adjustRecipients(req.Actor, recipientsFor(req.Recipients, inv))
	if err := CheckCanNotify(inv, rcpts); err != nil {
		return Result{}, err
	}

	var removed, added []itip.Attendee
	if inv.IsOrganizer {
		if removed, err = e.reconciler.RemovedAttendees(ctx, prev.Attendees, inv.Attendees, e.config.CheckDLMembership); err != nil {
			return Result{}, err
		}
		if added, err = e.reconciler.AddedAttendees(ctx, prev.Attendees, inv.Attendees); err != nil {
			return Result{}, err
		}
	}

	seriesSeq := mo.None[int]()
	if inv.IsException() {
		if s, ok := item.Series().Get(); ok {
			seriesSeq = mo.Some(s.Sequence)
		}
	}
	bump := 0
	if len(removed) > 0 {
		// the cancel to removed attendees takes prev+1
		bump = 1
	}
	inv = assignVersion(inv, mo.Some(prev), seriesSeq, bump, now)

	notifyAll := IsFullBroadcast(rcpts, added)
	if inv.IsOrganizer {
		inv.NeverSent = NextNeverSent(mo.Some(prev), inv, len(rcpts) > 0)
		inv.LastFullSequence = lastFullSequence(mo.Some(prev), inv, notifyAll)
	} else {
		inv.NeverSent = prev.NeverSent
		inv.LastFullSequence = prev.LastFullSequence
	}

	e.notifyRemovedAttendees(ctx, req.Actor, prev, removed, now)

	var res Result
	if inv.IsOrganizer && !inv.IsException() && (prev.IsRecurrence() || inv.IsRecurrence()) {
		res, err = e.modifySeries(ctx, q, req.Actor, item, prev, inv, rcpts, notifyAll, added, removed, req.Text, now)
	} else {
		res, err = e.sendCalendarMessage(ctx, q, req.Actor, item.FolderID, inv, rcpts, mail.KindInvite, req.Text, storage.AddInviteOptions{})
	}
	if err != nil {
		return Result{}, err
	}
	res.Sent = q.Flush(ctx)
	e.logger.InfoContext(ctx, "calendar item modified",
		"mailbox_id", req.Actor.MailboxID(),
		"calendar_item_id", item.ID,
		"uid", item.UID,
		"sequence", inv.Sequence,
		"removed", len(removed),
		"added", len(added),
		"sent", res.Sent,
	)
	return res, nil
}

// modifySeries stores a changed series and brings the exceptions and the
// attendees in line with it.
func (e *Engine) modifySeries(ctx context.Context, q *mail.SendQueue, actor Actor, item *itip.CalendarItem,
	prev, inv itip.Invite, rcpts []string, notifyAll bool, added, removed []itip.Attendee, text Text, now time.Time) (Result, error) {
	exceptions := item.Exceptions()
	orphaned, err := e.recur.OrphanedExceptions(prev, inv, exceptions, e.config.ExceptionPolicy)
	if err != nil {
		return Result{}, fmt.Errorf("failed to check exceptions of %s: %w", item.UID, err)
	}
	discard := len(orphaned) > 0 && !e.config.KeepExceptionsOnSeriesTimeChange

	stored, err := e.store.AddInvite(ctx, actor.MailboxID(), item.FolderID, inv, storage.AddInviteOptions{DiscardExceptions: discard})
	if err != nil {
		return Result{}, fmt.Errorf("failed to store series: %w", err)
	}

	skip := make(map[string]bool)
	valid := exceptions
	if discard {
		if err := e.notifyOrphanedAttendees(ctx, q, actor, inv, orphaned, now); err != nil {
			return Result{}, err
		}
		valid = nil
		for _, exc := range exceptions {
			if !containsLineage(orphaned, exc) {
				valid = append(valid, exc)
			}
		}
		e.logger.InfoContext(ctx, "series change dropped exceptions",
			"uid", item.UID,
			"dropped", len(orphaned),
			"policy", e.config.ExceptionPolicy.String(),
		)
	}
	if len(added) > 0 || len(removed) > 0 || discard {
		if err := e.addRemoveAttendeesInExceptions(ctx, actor, item, valid, added, removed, inv.Sequence, discard, skip, now); err != nil {
			return Result{}, err
		}
	}

	fresh, err := e.loadItem(ctx, actor.MailboxID(), item.ID, "")
	if err != nil {
		return Result{}, err
	}
	if len(rcpts) > 0 {
		if err := e.notifyCalendarItem(ctx, q, actor, fresh, rcpts, notifyAll, added, text, now); err != nil {
			return Result{}, err
		}
	}
	return Result{
		CalendarItemID:   stored.CalendarItemID,
		InviteID:         stored.InviteID,
		ModifiedSequence: fresh.ModifiedSequence,
		Revision:         fresh.Revision,
	}, nil
}

// Cancel sends the cancellation first and stores the cancelled version
// only once it went out.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (Result, error) {
	if req.CalendarItemID == "" && req.UID == "" {
		return Result{}, itip.NewInvalidRequest("Missing uid in a cancel invite")
	}
	ctx, unlock, err := e.lock(ctx, req.Actor)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	if err := e.checkRights(ctx, req.Actor, RightWrite, "cancel appointments"); err != nil {
		return Result{}, err
	}
	item, err := e.loadItem(ctx, req.Actor.MailboxID(), req.CalendarItemID, req.UID)
	if err != nil {
		return Result{}, err
	}
	if err := e.checkPrivate(ctx, req.Actor, item); err != nil {
		return Result{}, err
	}
	target, err := ResolveTarget(item, req.RecurID)
	if err != nil {
		return Result{}, err
	}
	inv := target.Invite

	rcpts := e.adjustRecipients(req.Actor, recipientsFor(req.Recipients, inv))
	if err := CheckCanNotify(inv, rcpts); err != nil {
		return Result{}, err
	}

	now := e.now()
	sent := 0
	if len(rcpts) > 0 {
		cancel := e.cancelInvite(req.Actor, inv, nil, req.RecurID, req.Text.Notes, now)
		msg, err := e.compose(ctx, req.Actor, outbound{
			kind:      mail.KindCancel,
			method:    itip.MethodCancel,
			to:        rcpts,
			subject:   req.Text.subjectOr(cancel.Summary),
			notes:     req.Text.Notes,
			notesHTML: req.Text.NotesHTML,
			invites:   []itip.Invite{cancel},
		})
		if err != nil {
			return Result{}, err
		}
		if err := e.sender.Send(ctx, msg); err != nil {
			return Result{}, fmt.Errorf("failed to send cancellation, calendar item left unchanged: %w", err)
		}
		sent = 1
	}

	stored := cancelVersion(inv, inv.IsOrganizer, now)
	if inv.IsOrganizer {
		stored.NeverSent = NextNeverSent(mo.Some(inv), stored, len(rcpts) > 0)
		stored.LastFullSequence = lastFullSequence(mo.Some(inv), stored, len(rcpts) > 0 && sameAddresses(rcpts, inv.AttendeeAddresses()))
	}
	if len(rcpts) > 0 {
		stored.LocalOnly = false
	}
	discard := inv.IsRecurrence() && req.RecurID.IsAbsent()
	res, err := e.store.AddInvite(ctx, req.Actor.MailboxID(), item.FolderID, stored, storage.AddInviteOptions{DiscardExceptions: discard})
	if err != nil {
		return Result{}, fmt.Errorf("failed to store cancellation: %w", err)
	}

	e.logger.InfoContext(ctx, "calendar item cancelled",
		"mailbox_id", req.Actor.MailboxID(),
		"calendar_item_id", item.ID,
		"uid", item.UID,
		"instance", req.RecurID.IsPresent(),
		"sent", sent,
	)
	return Result{
		CalendarItemID:   res.CalendarItemID,
		InviteID:         res.InviteID,
		ModifiedSequence: res.ModifiedSequence,
		Revision:         res.Revision,
		Sent:             sent,
	}, nil
}

// sendCalendarMessage composes the message for inv, stores inv and queues
// the message. Our own copy is updated before anything is sent.
func (e *Engine) sendCalendarMessage(ctx context.Context, q *mail.SendQueue, actor Actor, folderID string,
	inv itip.Invite, rcpts []string, kind mail.Kind, text Text, opts storage.AddInviteOptions) (Result, error) {
	var msg *mail.Message
	if len(rcpts) > 0 {
		var err error
		msg, err = e.compose(ctx, actor, outbound{
			kind:      kind,
			method:    inv.Method,
			to:        rcpts,
			subject:   text.subjectOr(inv.Summary),
			notes:     text.Notes,
			notesHTML: text.NotesHTML,
			invites:   []itip.Invite{inv},
		})
		if err != nil {
			return Result{}, err
		}
		opts.Content = msg.Calendar
	}

	stored, err := e.store.AddInvite(ctx, actor.MailboxID(), folderID, inv, opts)
	if err != nil {
		return Result{}, fmt.Errorf("failed to store invite: %w", err)
	}
	q.Add(msg)

	res := Result{CalendarItemID: stored.CalendarItemID, InviteID: stored.InviteID}
	if inv.Method.IsOrganizerMethod() {
		res.ModifiedSequence = stored.ModifiedSequence
		res.Revision = stored.Revision
	}
	return res, nil
}

// prepareOrganizer makes the account organizer of an invite with
// attendees but no organizer, and derives the organizer flag.
func (e *Engine) prepareOrganizer(inv *itip.Invite, actor Actor) {
	if !inv.HasOrganizer() && len(inv.Attendees) > 0 {
		org := itip.Organizer{Address: actor.Account.Address, CommonName: actor.Account.DisplayName}
		if actor.OnBehalfOf() {
			org.SentBy = actor.Requester().Address
		}
		inv.Organizer = mo.Some(org)
	}
	inv.IsOrganizer = !inv.HasOrganizer() || actor.Account.Matches(inv.OrganizerAddress())
}

// guardOrganizer keeps the organizer of an invite fixed. Exceptions
// always use the organizer of the series.
func (e *Engine) guardOrganizer(item *itip.CalendarItem, prev itip.Invite, inv *itip.Invite, actor Actor) error {
	if inv.IsException() {
		if s, ok := item.Series().Get(); ok {
			inv.Organizer = s.Organizer
			inv.IsOrganizer = s.IsOrganizer
			return nil
		}
	}
	if !inv.HasOrganizer() {
		inv.Organizer = prev.Organizer
	}
	if prev.HasOrganizer() && !itip.SameAddress(prev.OrganizerAddress(), inv.OrganizerAddress()) {
		return itip.NewInvalidRequest("changing the organizer of an appointment is not allowed, take it over instead")
	}
	e.prepareOrganizer(inv, actor)
	return nil
}

func checkConflict(item *itip.CalendarItem, modSeq, rev mo.Option[int64]) error {
	if m, ok := modSeq.Get(); ok && m < item.ModifiedSequence {
		return itip.NewInviteOutOfDate(fmt.Sprintf("calendar item %s changed since modified sequence %d", item.ID, m))
	}
	if r, ok := rev.Get(); ok && r < item.Revision {
		return itip.NewInviteOutOfDate(fmt.Sprintf("calendar item %s changed since revision %d", item.ID, r))
	}
	return nil
}

// defaultMethod sends invites with attendees as REQUEST.
func defaultMethod(inv *itip.Invite) {
	if inv.Method == itip.MethodPublish && len(inv.Attendees) > 0 {
		inv.Method = itip.MethodRequest
	}
}

func containsLineage(invites []itip.Invite, inv itip.Invite) bool {
	key := itip.LineageKey(inv.RecurID)
	for _, i := range invites {
		if itip.LineageKey(i.RecurID) == key {
			return true
		}
	}
	return false
}

func sameAddresses(a, b []string) bool {
	for _, x := range b {
		if !containsAddress(a, x) {
			return false
		}
	}
	return true
}
