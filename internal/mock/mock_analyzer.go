// Package mock provides mock implementations for testing.
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dex-analysis/internal/analyzer"
)

// MockAnalyzer is a mock implementation of the service's Analyzer interface.
type MockAnalyzer struct {
	mock.Mock
}

// Analyze mocks the Analyze method.
func (m *MockAnalyzer) Analyze(ctx context.Context, path string) (*analyzer.Result, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analyzer.Result), args.Error(1)
}

// ExpectAnalyze sets up an expectation for Analyze.
func (m *MockAnalyzer) ExpectAnalyze(path string, result *analyzer.Result, err error) *mock.Call {
	return m.On("Analyze", mock.Anything, path).Return(result, err)
}
