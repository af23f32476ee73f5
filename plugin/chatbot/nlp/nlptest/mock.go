// Package nlptest provides test doubles for the nlp package.
package nlptest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/hrygo/construkt/plugin/chatbot/nlp"
)

// MockClient is a testify mock of nlp.Client.
type MockClient struct {
	mock.Mock
}

var _ nlp.Client = (*MockClient)(nil)

func (m *MockClient) SendMessage(ctx context.Context, req nlp.Request) (*nlp.Reply, error) {
	args := m.Called(ctx, req)
	reply, _ := args.Get(0).(*nlp.Reply)
	return reply, args.Error(1)
}

func (m *MockClient) ClearContext(ctx context.Context, ownerID string) (bool, error) {
	args := m.Called(ctx, ownerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockClient) Health(ctx context.Context) (map[string]any, error) {
	args := m.Called(ctx)
	payload, _ := args.Get(0).(map[string]any)
	return payload, args.Error(1)
}

func (m *MockClient) UpdateProductIntents(ctx context.Context, product map[string]any, action string) (bool, error) {
	args := m.Called(ctx, product, action)
	return args.Bool(0), args.Error(1)
}
