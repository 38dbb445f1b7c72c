package directory

import (
	"context"

	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"
)

// MockDirectory implements the Directory interface for testing
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) ResolveIdentity(ctx context.Context, address string) (mo.Option[Identity], error) {
	args := m.Called(ctx, address)
	return args.Get(0).(mo.Option[Identity]), args.Error(1)
}

func (m *MockDirectory) ExpandDistributionList(ctx context.Context, address string) (mo.Option[[]string], error) {
	args := m.Called(ctx, address)
	return args.Get(0).(mo.Option[[]string]), args.Error(1)
}
