package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dex-analysis/pkg/model"
)

// MockRunRepository is a mock implementation of the RunRepository interface.
type MockRunRepository struct {
	mock.Mock
}

// SaveRun mocks the SaveRun method.
func (m *MockRunRepository) SaveRun(ctx context.Context, run *model.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

// GetRunByUUID mocks the GetRunByUUID method.
func (m *MockRunRepository) GetRunByUUID(ctx context.Context, uuid string) (*model.Run, error) {
	args := m.Called(ctx, uuid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

// ListRuns mocks the ListRuns method.
func (m *MockRunRepository) ListRuns(ctx context.Context, filter model.RunFilter) ([]*model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Run), args.Error(1)
}

// ExpectSaveRun sets up an expectation for SaveRun. The run passed in is
// given id when err is nil.
func (m *MockRunRepository) ExpectSaveRun(id int64, err error) *mock.Call {
	return m.On("SaveRun", mock.Anything, mock.AnythingOfType("*model.Run")).
		Run(func(args mock.Arguments) {
			if err == nil {
				args.Get(1).(*model.Run).ID = id
			}
		}).
		Return(err)
}

// ExpectListRuns sets up an expectation for ListRuns.
func (m *MockRunRepository) ExpectListRuns(filter model.RunFilter, runs []*model.Run, err error) *mock.Call {
	return m.On("ListRuns", mock.Anything, filter).Return(runs, err)
}
