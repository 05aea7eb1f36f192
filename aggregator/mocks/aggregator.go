package mocks

import (
	"context"

	"github.com/absmach/fedagg/aggregator"
	"github.com/absmach/fedagg/pkg/checkpoint"
	"github.com/absmach/fedagg/pkg/fl"
	"github.com/stretchr/testify/mock"
)

var (
	_ aggregator.Service   = (*MockService)(nil)
	_ aggregator.Publisher = (*MockPublisher)(nil)
	_ aggregator.Notifier  = (*MockNotifier)(nil)
)

// MockService is a mock implementation of the aggregator.Service interface.
type MockService struct {
	mock.Mock
}

func (m *MockService) Aggregate(ctx context.Context, req aggregator.Request) (aggregator.Report, error) {
	args := m.Called(ctx, req)

	return args.Get(0).(aggregator.Report), args.Error(1)
}

func (m *MockService) Inspect(ctx context.Context, outputPath string) (fl.Provenance, error) {
	args := m.Called(ctx, outputPath)

	return args.Get(0).(fl.Provenance), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, saved checkpoint.Saved, prov fl.Provenance) (string, error) {
	args := m.Called(ctx, saved, prov)

	return args.String(0), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, prov fl.Provenance) error {
	args := m.Called(ctx, prov)

	return args.Error(0)
}
