// memory based implementation for testing and single-process use
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/cyp0633/caldora-sched/storage"
	"github.com/google/uuid"
)

// Store implements storage.Store using in-memory maps
type Store struct {
	mu    sync.RWMutex
	items map[string]*itip.CalendarItem // key: mailboxID/itemID
	uids  map[string]string             // key: mailboxID/uid, value: itemID
	blobs map[string][]byte             // key: mailboxID/itemID/inviteID
	newID func() string
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		items: make(map[string]*itip.CalendarItem),
		uids:  make(map[string]string),
		blobs: make(map[string][]byte),
		newID: uuid.NewString,
	}
}

func key(mailboxID, id string) string {
	return fmt.Sprintf("%s/%s", mailboxID, id)
}

func (s *Store) GetCalendarItemByUID(_ context.Context, mailboxID, uid string) (*itip.CalendarItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.uids[key(mailboxID, uid)]
	if !ok {
		return nil, fmt.Errorf("uid %s: %w", uid, storage.ErrNotFound)
	}
	return s.items[key(mailboxID, id)].Clone(), nil
}

func (s *Store) GetCalendarItemByID(_ context.Context, mailboxID, itemID string) (*itip.CalendarItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[key(mailboxID, itemID)]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", itemID, storage.ErrNotFound)
	}
	return item.Clone(), nil
}

func (s *Store) AddInvite(_ context.Context, mailboxID, folderID string, inv itip.Invite, opts storage.AddInviteOptions) (storage.AddInviteResult, error) {
	if err := storage.ValidateInvite(mailboxID, inv); err != nil {
		return storage.AddInviteResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var item *itip.CalendarItem
	if id, ok := s.uids[key(mailboxID, inv.UID)]; ok {
		item = s.items[key(mailboxID, id)]
	} else {
		item = &itip.CalendarItem{ID: s.newID(), MailboxID: mailboxID, UID: inv.UID}
		s.items[key(mailboxID, item.ID)] = item
		s.uids[key(mailboxID, inv.UID)] = item.ID
	}

	res := storage.ApplyInvite(item, folderID, inv, opts)
	if len(opts.Content) > 0 {
		s.blobs[fmt.Sprintf("%s/%s/%d", mailboxID, item.ID, res.InviteID)] = append([]byte(nil), opts.Content...)
	}
	return res, nil
}

func (s *Store) RecordParticipation(_ context.Context, mailboxID, itemID string, rec itip.ReplyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key(mailboxID, itemID)]
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, storage.ErrNotFound)
	}
	storage.ApplyParticipation(item, rec)
	return nil
}

// Content returns the raw payload stored with an invite version, if any.
func (s *Store) Content(mailboxID, itemID string, inviteID int) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[fmt.Sprintf("%s/%s/%d", mailboxID, itemID, inviteID)]
	return b, ok
}
