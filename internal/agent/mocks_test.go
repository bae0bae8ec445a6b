package agent

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/browserpilot/api/schemas"
	"github.com/xkilldash9x/browserpilot/internal/config"
	"github.com/xkilldash9x/browserpilot/internal/search"
)

// -- Browser Mock --

type MockBrowser struct {
	mock.Mock
}

func (m *MockBrowser) Navigate(ctx context.Context, url string) (string, error) {
	args := m.Called(ctx, url)
	return args.String(0), args.Error(1)
}

func (m *MockBrowser) Click(ctx context.Context, x, y float64) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockBrowser) Type(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *MockBrowser) PressKey(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockBrowser) Scroll(ctx context.Context, direction string, amount int) error {
	return m.Called(ctx, direction, amount).Error(0)
}

func (m *MockBrowser) GoBack(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// -- Oracle Mocks --

type MockDecider struct {
	mock.Mock
}

func (m *MockDecider) Decide(ctx context.Context, screenshot []byte, task, history string) Action {
	return m.Called(ctx, screenshot, task, history).Get(0).(Action)
}

func (m *MockDecider) Verify(ctx context.Context, screenshot []byte, question, expected string) (string, error) {
	args := m.Called(ctx, screenshot, question, expected)
	return args.String(0), args.Error(1)
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, query string) SearchOutcome {
	return m.Called(ctx, query).Get(0).(SearchOutcome)
}

// -- Collaborator Mocks --

type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Enabled() bool {
	return m.Called().Bool(0)
}

func (m *MockSearcher) Search(ctx context.Context, query string) ([]search.Result, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]search.Result), args.Error(1)
}

// -- Fixtures --

var fakePNG = []byte{0x89, 'P', 'N', 'G'}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxIterations:        20,
		HistoryWindow:        5,
		HistoryCap:           20,
		MaxConsecutiveVerify: 2,
		MaxWait:              30 * time.Second,
		TaskTimeout:          time.Minute,
		FastPathSettle:       3 * time.Second,
		Settle: config.SettleConfig{
			Navigate: 2 * time.Second,
			Click:    time.Second,
			Type:     500 * time.Millisecond,
			Key:      time.Second,
			Scroll:   0,
		},
	}
}
