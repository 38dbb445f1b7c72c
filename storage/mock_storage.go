package storage

import (
	"context"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/stretchr/testify/mock"
)

// MockStore implements the Store interface for testing
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetCalendarItemByUID(ctx context.Context, mailboxID, uid string) (*itip.CalendarItem, error) {
	args := m.Called(ctx, mailboxID, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*itip.CalendarItem), args.Error(1)
}

func (m *MockStore) GetCalendarItemByID(ctx context.Context, mailboxID, itemID string) (*itip.CalendarItem, error) {
	args := m.Called(ctx, mailboxID, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*itip.CalendarItem), args.Error(1)
}

func (m *MockStore) AddInvite(ctx context.Context, mailboxID, folderID string, inv itip.Invite, opts AddInviteOptions) (AddInviteResult, error) {
	args := m.Called(ctx, mailboxID, folderID, inv, opts)
	return args.Get(0).(AddInviteResult), args.Error(1)
}

func (m *MockStore) RecordParticipation(ctx context.Context, mailboxID, itemID string, rec itip.ReplyRecord) error {
	args := m.Called(ctx, mailboxID, itemID, rec)
	return args.Error(0)
}
