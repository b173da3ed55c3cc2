package messaging

import (
	"context"
	"sync"
)

// SentMessage records one Reply or Push made through MockClient. To is the
// reply token for replies and the user ID for pushes.
type SentMessage struct {
	To       string
	Messages []Message
}

// MockClient records outbound calls instead of sending them. It is safe for
// concurrent use so background jobs can push through it.
type MockClient struct {
	mu       sync.Mutex
	replies  []SentMessage
	pushes   []SentMessage
	ReplyErr error
	PushErr  error
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates a MockClient with no recorded calls.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Reply records the call and returns ReplyErr.
func (m *MockClient) Reply(ctx context.Context, replyToken string, messages ...Message) error {
	if err := checkBatch(messages); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReplyErr != nil {
		return m.ReplyErr
	}
	m.replies = append(m.replies, SentMessage{To: replyToken, Messages: messages})
	return nil
}

// Push records the call and returns PushErr.
func (m *MockClient) Push(ctx context.Context, userID string, messages ...Message) error {
	if err := checkBatch(messages); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PushErr != nil {
		return m.PushErr
	}
	m.pushes = append(m.pushes, SentMessage{To: userID, Messages: messages})
	return nil
}

// Replies returns a copy of the recorded replies.
func (m *MockClient) Replies() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.replies...)
}

// Pushes returns a copy of the recorded pushes.
func (m *MockClient) Pushes() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.pushes...)
}

// SetPushErr changes the error returned by Push while jobs may be running.
func (m *MockClient) SetPushErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PushErr = err
}
