package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	clog "github.com/cyp0633/caldora-sched/internal/log"
	"github.com/cyp0633/caldora-sched/itip"
	"github.com/cyp0633/caldora-sched/mail"
	"github.com/cyp0633/caldora-sched/storage"
	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"
)

// ErrNotifierClosed is returned by Submit after Close.
var ErrNotifierClosed = errors.New("organizer change notifier closed")

// OrganizerChangeTask asks the notifier to tell the attendees of an item
// about its new organizer.
type OrganizerChangeTask struct {
	Actor          Actor
	CalendarItemID string
}

// Notifier runs organizer-change tasks on a fixed set of workers. Callers
// never wait for a task; errors only end up in the log.
type Notifier struct {
	tasks  chan OrganizerChangeTask
	group  errgroup.Group
	run    func(context.Context, OrganizerChangeTask) error
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewNotifier starts workers goroutines reading from a queue of the given
// size.
func NewNotifier(workers, queue int, logger *slog.Logger, run func(context.Context, OrganizerChangeTask) error) *Notifier {
	if workers < 1 {
		workers = 1
	}
	if queue < 1 {
		queue = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		tasks:  make(chan OrganizerChangeTask, queue),
		run:    run,
		logger: logger,
	}
	for range workers {
		n.group.Go(func() error {
			for task := range n.tasks {
				n.safeRun(task)
			}
			return nil
		})
	}
	return n
}

// Submit queues task. A full queue drops it.
func (n *Notifier) Submit(ctx context.Context, task OrganizerChangeTask) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrNotifierClosed
	}
	select {
	case n.tasks <- task:
		return nil
	default:
		n.logger.WarnContext(ctx, "organizer change queue full, dropping notification",
			"mailbox_id", task.Actor.MailboxID(),
			"calendar_item_id", task.CalendarItemID,
		)
		return nil
	}
}

// Close stops accepting tasks and waits for the queued ones to finish or
// ctx to end.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.tasks)
	}
	n.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- n.group.Wait()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) safeRun(task OrganizerChangeTask) {
	ctx := clog.AppendCtx(context.Background(), slog.String("calendar_item_id", task.CalendarItemID))
	ctx = clog.AppendCtx(ctx, slog.String("mailbox_id", task.Actor.MailboxID()))
	defer func() {
		if r := recover(); r != nil {
			n.logger.ErrorContext(ctx, "organizer change notification panicked",
				"panic", fmt.Sprint(r),
				clog.PriorityCritical(),
			)
		}
	}()
	if err := n.run(ctx, task); err != nil {
		n.logger.WarnContext(ctx, "failed to send organizer change notification", "error", err)
	}
}

// TakeoverRequest makes the actor organizer of an item.
type TakeoverRequest struct {
	Actor          Actor
	CalendarItemID string
	UID            string
}

// TakeOverOrganizer makes the account the organizer of every current
// invite of the item and tells the attendees in the background.
func (e *Engine) TakeOverOrganizer(ctx context.Context, req TakeoverRequest) (Result, error) {
	ctx, unlock, err := e.lock(ctx, req.Actor)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	if err := e.checkRights(ctx, req.Actor, RightWrite, "take over appointments"); err != nil {
		return Result{}, err
	}
	item, err := e.loadItem(ctx, req.Actor.MailboxID(), req.CalendarItemID, req.UID)
	if err != nil {
		return Result{}, err
	}
	if err := e.checkPrivate(ctx, req.Actor, item); err != nil {
		return Result{}, err
	}

	org := itip.Organizer{Address: req.Actor.Account.Address, CommonName: req.Actor.Account.DisplayName}
	if req.Actor.OnBehalfOf() {
		org.SentBy = req.Actor.Requester().Address
	}

	now := e.now()
	res := Result{CalendarItemID: item.ID}
	seriesSeq := mo.None[int]()
	changed := 0
	for _, inv := range item.Current() {
		if inv.IsOrganizer && req.Actor.Account.Matches(inv.OrganizerAddress()) {
			if inv.IsRecurrence() {
				seriesSeq = mo.Some(inv.Sequence)
			}
			continue
		}
		next := inv.Clone()
		next.Organizer = mo.Some(org)
		next.IsOrganizer = true
		var floor mo.Option[int]
		if next.IsException() {
			floor = seriesSeq
		}
		next.Sequence = OrganizerSequence(inv.Sequence, mo.Some(inv), floor)
		next.DTStamp = now
		if next.IsRecurrence() {
			seriesSeq = mo.Some(next.Sequence)
		}
		stored, err := e.store.AddInvite(ctx, req.Actor.MailboxID(), item.FolderID, next, storage.AddInviteOptions{})
		if err != nil {
			return Result{}, fmt.Errorf("failed to store organizer change: %w", err)
		}
		res.InviteID = stored.InviteID
		res.ModifiedSequence = stored.ModifiedSequence
		res.Revision = stored.Revision
		changed++
	}
	if changed == 0 {
		return res, nil
	}

	e.logger.InfoContext(ctx, "organizer taken over",
		"mailbox_id", req.Actor.MailboxID(),
		"calendar_item_id", item.ID,
		"uid", item.UID,
		"organizer", org.Address,
		"invites", changed,
	)
	if err := e.notifier.Submit(ctx, OrganizerChangeTask{Actor: req.Actor, CalendarItemID: item.ID}); err != nil {
		e.logger.WarnContext(ctx, "organizer change not scheduled", "error", err)
	}
	return res, nil
}

// runOrganizerChange sends the organizer-change notice for every invite of
// an item, holding the mailbox lock for one invite at a time.
func (e *Engine) runOrganizerChange(ctx context.Context, task OrganizerChangeTask) error {
	item, err := e.loadItem(ctx, task.Actor.MailboxID(), task.CalendarItemID, "")
	if err != nil {
		return err
	}
	var errs []error
	for _, inv := range item.Current() {
		if err := e.notifyOrganizerChange(ctx, task, inv.RecurID); err != nil {
			e.logger.WarnContext(ctx, "failed to notify attendees about organizer change",
				"uid", inv.UID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) notifyOrganizerChange(ctx context.Context, task OrganizerChangeTask, rid mo.Option[itip.RecurID]) error {
	ctx, unlock, err := e.locks.acquire(ctx, task.Actor.MailboxID())
	if err != nil {
		return err
	}
	defer unlock()

	item, err := e.loadItem(ctx, task.Actor.MailboxID(), task.CalendarItemID, "")
	if err != nil {
		return err
	}
	inv, ok := item.Invite(rid).Get()
	if !ok || inv.IsCancel() || !inv.IsOrganizer {
		return nil
	}
	rcpts := e.adjustRecipients(task.Actor, inv.AttendeeAddresses())
	if len(rcpts) == 0 {
		return nil
	}
	msg, err := e.compose(ctx, task.Actor, outbound{
		kind:    mail.KindOrganizerChange,
		method:  itip.MethodRequest,
		to:      rcpts,
		invites: []itip.Invite{inv},
	})
	if err != nil {
		return err
	}
	return e.sender.Send(ctx, msg)
}
