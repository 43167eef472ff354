package identity

import (
	"context"

	"github.com/npezzotti/go-attendance/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockLookup struct {
	mock.Mock
}

func (m *MockLookup) Resolve(ctx context.Context, id string) (types.Person, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Person), args.Error(1)
}
func (m *MockLookup) Exists(ctx context.Context, id string) bool {
	args := m.Called(ctx, id)
	return args.Bool(0)
}
