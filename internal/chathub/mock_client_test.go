package chathub_test

import (
	"studentsupport/backend/internal/chathub"
)

type MockClient struct {
	userID      string
	RecvChannel chan chathub.Event
}

func newMockClient(userID string, buffer int) *MockClient {
	return &MockClient{
		userID:      userID,
		RecvChannel: make(chan chathub.Event, buffer),
	}
}

func (c *MockClient) GetUserID() string {
	return c.userID
}

func (c *MockClient) GetSendChannel() chan<- chathub.Event {
	return c.RecvChannel
}

func (c *MockClient) Close() {
	// Not needed for testing
}

func (c *MockClient) Run() {
	// Not needed for testing
}
