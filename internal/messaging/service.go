// Package messaging abstracts the outbound WhatsApp transport used to deliver
// assistant replies, and the inbound event stream some transports provide.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// Constants for service channel configuration
const (
	// DefaultChannelBufferSize defines the buffer size of the inbound channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound event waits for a reader
	DefaultChannelTimeout = 1 * time.Second
)

// Transport names accepted by the TRANSPORT setting.
const (
	TransportGateway   = "gateway"
	TransportTwilio    = "twilio"
	TransportWhatsmeow = "whatsmeow"
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// Sender delivers a text message to a chat. A transport without credentials
// logs and returns nil, nil.
type Sender interface {
	SendText(ctx context.Context, to string, text string) (*models.SendResult, error)
}

// Service is a pluggable message transport.
type Service interface {
	Sender

	// Name returns the transport name used in logs.
	Name() string

	// Start begins any background processing (e.g., event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the inbound channel.
	Stop() error

	// Inbound returns messages received directly by the transport. Transports
	// fed by HTTP webhooks never emit on it.
	Inbound() <-chan models.InboundMessage
}

// inboundQueue is the stop-aware inbound channel shared by the services.
type inboundQueue struct {
	name    string
	ch      chan models.InboundMessage
	mu      sync.RWMutex
	stopped bool
}

func newInboundQueue(name string) *inboundQueue {
	return &inboundQueue{name: name, ch: make(chan models.InboundMessage, DefaultChannelBufferSize)}
}

func (q *inboundQueue) isStopped() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stopped
}

// emit forwards msg unless the queue is stopped or stays full for
// DefaultChannelTimeout, in which case the message is dropped.
func (q *inboundQueue) emit(msg models.InboundMessage) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return false
	}
	select {
	case q.ch <- msg:
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(q.name+": inbound channel blocked, dropping message", "chat_id", msg.ChatID, "timeout", DefaultChannelTimeout)
		return false
	}
}

func (q *inboundQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	close(q.ch)
}
