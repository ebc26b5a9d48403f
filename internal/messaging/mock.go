package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// SentText records one message passed to MockService.
type SentText struct {
	To   string
	Text string
}

// MockService is an in-memory Service for tests. Err, when set, is returned
// by SendText; FailFor fails only sends to the listed chats.
type MockService struct {
	mu      sync.Mutex
	Sent    []SentText
	Err     error
	FailFor map[string]error
	queue   *inboundQueue
}

var _ Service = (*MockService)(nil)

// NewMockService creates an empty MockService.
func NewMockService() *MockService {
	return &MockService{queue: newInboundQueue("MockService")}
}

func (m *MockService) Name() string                    { return "mock" }
func (m *MockService) Start(ctx context.Context) error { return nil }
func (m *MockService) Stop() error {
	m.queue.stop()
	return nil
}
func (m *MockService) Inbound() <-chan models.InboundMessage { return m.queue.ch }

// Push delivers msg on the inbound channel as a transport would.
func (m *MockService) Push(msg models.InboundMessage) bool {
	return m.queue.emit(msg)
}

func (m *MockService) SendText(ctx context.Context, to string, text string) (*models.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if err, ok := m.FailFor[to]; ok {
		return nil, err
	}
	m.Sent = append(m.Sent, SentText{To: to, Text: text})
	return &models.SendResult{ID: fmt.Sprintf("mock-%d", len(m.Sent)), To: to, Status: "sent"}, nil
}

// Messages returns a copy of the recorded sends.
func (m *MockService) Messages() []SentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentText, len(m.Sent))
	copy(out, m.Sent)
	return out
}
