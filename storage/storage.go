package storage

import (
	"context"
	"errors"

	"github.com/cyp0633/caldora-sched/itip"
)

// Store persists calendar items of a mailbox. Implementations return
// snapshots; callers never see later writes through a returned item.
// Please use the error values provided.
type Store interface {
	// GetCalendarItemByUID finds the item with the given UID in a mailbox.
	GetCalendarItemByUID(ctx context.Context, mailboxID, uid string) (*itip.CalendarItem, error)
	// GetCalendarItemByID finds an item by its id.
	GetCalendarItemByID(ctx context.Context, mailboxID, itemID string) (*itip.CalendarItem, error)
	// AddInvite appends a new invite version, creating the item on first use.
	AddInvite(ctx context.Context, mailboxID, folderID string, inv itip.Invite, opts AddInviteOptions) (AddInviteResult, error)
	// RecordParticipation stores a per-occurrence reply record. Older
	// records never replace newer ones.
	RecordParticipation(ctx context.Context, mailboxID, itemID string, rec itip.ReplyRecord) error
}

// AddInviteOptions tunes AddInvite.
type AddInviteOptions struct {
	// DiscardExceptions starts a new generation, so exceptions saved
	// before this invite stop being current.
	DiscardExceptions bool
	// Content is the iCalendar payload the invite arrived in, if any.
	Content []byte
}

// AddInviteResult identifies the stored version and the item counters
// after the write.
type AddInviteResult struct {
	CalendarItemID   string
	InviteID         int
	ModifiedSequence int64
	Revision         int64
}

var (
	// ErrNotFound is returned when a requested item doesn't exist
	ErrNotFound = errors.New("calendar item not found")
	// ErrInvalidInput is returned when the input parameters are invalid
	ErrInvalidInput = errors.New("invalid input parameters")
	// ErrConflict is returned when a write collides with an existing item
	ErrConflict = errors.New("calendar item conflict")
	// ErrStorageUnavailable is returned when the storage backend is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ApplyInvite appends inv to item and bumps its counters. It is the write
// rule shared by Store implementations; item must already be owned by the
// caller.
func ApplyInvite(item *itip.CalendarItem, folderID string, inv itip.Invite, opts AddInviteOptions) AddInviteResult {
	if opts.DiscardExceptions {
		item.Generation++
	}
	if folderID != "" {
		item.FolderID = folderID
	}
	inv = inv.Clone()
	inv.ID = len(item.Versions) + 1
	inv.Generation = item.Generation
	item.Versions = append(item.Versions, inv)
	item.ModifiedSequence++
	item.Revision++
	return AddInviteResult{
		CalendarItemID:   item.ID,
		InviteID:         inv.ID,
		ModifiedSequence: item.ModifiedSequence,
		Revision:         item.Revision,
	}
}

// ApplyParticipation records rec on item and reports whether it changed.
func ApplyParticipation(item *itip.CalendarItem, rec itip.ReplyRecord) bool {
	if !item.ApplyReply(rec) {
		return false
	}
	item.ModifiedSequence++
	return true
}

// ValidateInvite rejects invites that cannot be stored.
func ValidateInvite(mailboxID string, inv itip.Invite) error {
	if mailboxID == "" || inv.UID == "" {
		return ErrInvalidInput
	}
	return nil
}
