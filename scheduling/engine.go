// Package scheduling implements the iTIP workflow of a mailbox: creating,
// modifying and cancelling invites, replying to them, forwarding them and
// telling attendees about organizer changes.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cyp0633/caldora-sched/directory"
	"github.com/cyp0633/caldora-sched/internal/retry"
	"github.com/cyp0633/caldora-sched/itip"
	"github.com/cyp0633/caldora-sched/mail"
	"github.com/cyp0633/caldora-sched/recurrence"
	"github.com/cyp0633/caldora-sched/storage"
)

// Engine processes scheduling requests against a mailbox store.
type Engine struct {
	store      storage.Store
	dir        directory.Directory
	composer   mail.Composer
	sender     mail.Sender
	access     Access
	recur      *recurrence.Engine
	ownsRecur  bool
	reconciler *Reconciler
	locks      *mailboxLocks
	notifier   *Notifier
	config     Config
	now        func() time.Time
	logger     *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the mailbox store. It is required.
func WithStore(store storage.Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithDirectory sets the directory used for identities and lists.
func WithDirectory(dir directory.Directory) Option {
	return func(e *Engine) {
		e.dir = dir
	}
}

// WithComposer sets the mail composer.
func WithComposer(composer mail.Composer) Option {
	return func(e *Engine) {
		e.composer = composer
	}
}

// WithSender sets the transport for outbound messages.
func WithSender(sender mail.Sender) Option {
	return func(e *Engine) {
		e.sender = sender
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithConfig sets the engine configuration.
func WithConfig(config Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// WithAccess sets the rights checker.
func WithAccess(access Access) Option {
	return func(e *Engine) {
		e.access = access
	}
}

// WithRecurrenceEngine shares a recurrence engine. The caller keeps
// ownership and closes it.
func WithRecurrenceEngine(recur *recurrence.Engine) Option {
	return func(e *Engine) {
		e.recur = recur
	}
}

// New creates an engine and starts its organizer-change workers.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		config: DefaultConfig(),
		now:    time.Now,
		logger: slog.Default(),
		locks:  newMailboxLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		return nil, errors.New("scheduling engine requires a store")
	}
	if e.dir == nil {
		e.dir = directory.NewStatic()
	}
	if e.composer == nil {
		e.composer = &mail.DefaultComposer{Now: e.now}
	}
	if e.sender == nil {
		e.sender = mail.LogSender{Logger: e.logger}
	}
	if e.config.SendRetries > 0 {
		e.sender = mail.NewRetrySender(e.sender,
			retry.NewConfig(e.config.SendRetries+1, e.config.SendRetryDelay, 10*e.config.SendRetryDelay))
	}
	if e.access == nil {
		e.access = NewStaticAccess()
	}
	if e.recur == nil {
		e.recur = recurrence.NewEngineWithConfig(recurrence.DefaultEngineConfig)
		e.ownsRecur = true
	}
	e.reconciler = NewReconciler(e.dir, e.logger)
	e.notifier = NewNotifier(e.config.NotifierWorkers, e.config.NotifierQueue, e.logger, e.runOrganizerChange)
	return e, nil
}

// Close stops the organizer-change workers after the queued tasks ran.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.closeErr = e.notifier.Close(ctx)
		if e.ownsRecur {
			e.recur.Close()
		}
	})
	return e.closeErr
}

// Result identifies what a request stored. Counters are only reported
// for organizer methods.
type Result struct {
	CalendarItemID   string
	InviteID         int
	ModifiedSequence int64
	Revision         int64
	// Sent counts the messages handed to the sender.
	Sent int
}

// lock takes the mailbox lock of actor for the rest of the request.
func (e *Engine) lock(ctx context.Context, actor Actor) (context.Context, func(), error) {
	if actor.MailboxID() == "" {
		return nil, nil, itip.NewInvalidRequest("missing mailbox")
	}
	return e.locks.acquire(ctx, actor.MailboxID())
}

func (e *Engine) newQueue() *mail.SendQueue {
	return mail.NewSendQueue(e.sender, e.logger)
}

// loadItem finds an item by id, falling back to the uid.
func (e *Engine) loadItem(ctx context.Context, mailboxID, itemID, uid string) (*itip.CalendarItem, error) {
	var (
		item *itip.CalendarItem
		err  error
	)
	switch {
	case itemID != "":
		item, err = e.store.GetCalendarItemByID(ctx, mailboxID, itemID)
	case uid != "":
		item, err = e.store.GetCalendarItemByUID(ctx, mailboxID, uid)
	default:
		return nil, itip.NewInvalidRequest("missing calendar item id or uid")
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, itip.NewNoSuchCalendarItem("no such calendar item "+itemID+uid, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar item: %w", err)
	}
	return item, nil
}

// findItem is loadItem that reports a missing item as nil.
func (e *Engine) findItem(ctx context.Context, mailboxID, uid string) (*itip.CalendarItem, error) {
	item, err := e.store.GetCalendarItemByUID(ctx, mailboxID, uid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar item: %w", err)
	}
	return item, nil
}

func (e *Engine) checkRights(ctx context.Context, actor Actor, rights Right, what string) error {
	ok, err := e.access.HasRights(ctx, actor, rights)
	if err != nil {
		return fmt.Errorf("failed to check rights: %w", err)
	}
	if !ok {
		return itip.NewPermissionDenied(actor.Requester().Address + " does not have sufficient permissions to " + what)
	}
	return nil
}

// checkPrivate rejects access to a private item unless the actor may see
// private items. Calendar resources are exempt.
func (e *Engine) checkPrivate(ctx context.Context, actor Actor, item *itip.CalendarItem) error {
	if item == nil || item.IsPublic() || actor.Account.CalendarResource {
		return nil
	}
	ok, err := e.access.AllowPrivateAccess(ctx, actor)
	if err != nil {
		return fmt.Errorf("failed to check private access: %w", err)
	}
	if !ok {
		return itip.NewPermissionDenied("you do not have permission to access this private appointment")
	}
	return nil
}

func (e *Engine) folderOr(folderID string) string {
	if folderID != "" {
		return folderID
	}
	return e.config.DefaultFolderID
}
