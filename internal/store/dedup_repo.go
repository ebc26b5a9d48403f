package store

import (
	"context"
	"time"
)

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	MessageID     string     `json:"message_id"`
	ParticipantID string     `json:"participant_id"`
	ReceivedAt    time.Time  `json:"received_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound message deduplication.
// Webhook providers redeliver on timeouts; the repo makes each item id
// produce at most one reply.
type DedupRepo interface {
	// IsDuplicate checks if a message ID has already been recorded.
	IsDuplicate(ctx context.Context, messageID string) (bool, error)

	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded (duplicate).
	RecordInbound(ctx context.Context, messageID, participantID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error

	// ForgetInbound removes a record so a failed item can be retried on
	// redelivery.
	ForgetInbound(ctx context.Context, messageID string) error

	// PruneInbound deletes records received before cutoff and returns how
	// many were removed.
	PruneInbound(ctx context.Context, cutoff time.Time) (int64, error)
}
