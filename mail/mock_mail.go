package mail

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockSender implements the Sender interface for testing
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg *Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockComposer implements the Composer interface for testing
type MockComposer struct {
	mock.Mock
}

func (m *MockComposer) Compose(ctx context.Context, d Draft) (*Message, error) {
	args := m.Called(ctx, d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Message), args.Error(1)
}
