package agent

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// -- Page Mock --

// MockPage mocks the browser session used by nodes.
type MockPage struct {
	mock.Mock
}

func (m *MockPage) Observe(ctx context.Context) (Observation, error) {
	args := m.Called(ctx)
	return args.Get(0).(Observation), args.Error(1)
}

func (m *MockPage) URL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Click(ctx context.Context, x, y float64) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockPage) PressKey(ctx context.Context, key, modifier string) error {
	return m.Called(ctx, key, modifier).Error(0)
}

func (m *MockPage) TypeText(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *MockPage) Wheel(ctx context.Context, x, y, deltaY float64) error {
	return m.Called(ctx, x, y, deltaY).Error(0)
}

func (m *MockPage) ScrollWindow(ctx context.Context, deltaY float64, smooth bool) error {
	return m.Called(ctx, deltaY, smooth).Error(0)
}

func (m *MockPage) WaitNetworkIdle(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockPage) GoBack(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

// methods returns the names of the recorded calls in order.
func (m *MockPage) methods() []string {
	names := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		names = append(names, c.Method)
	}
	return names
}

// -- Reasoner Mock --

// MockReasoner mocks the language model.
type MockReasoner struct {
	mock.Mock
}

func (m *MockReasoner) Plan(ctx context.Context, task string, screenshot []byte) ([]string, error) {
	args := m.Called(ctx, task, screenshot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockReasoner) Decide(ctx context.Context, in DecideInput) (string, error) {
	args := m.Called(ctx, in)
	return args.String(0), args.Error(1)
}

func (m *MockReasoner) Answer(ctx context.Context, task string, notes []string) (string, error) {
	args := m.Called(ctx, task, notes)
	return args.String(0), args.Error(1)
}
