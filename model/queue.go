package model

import "time"

type QueueItemStatus string

const (
	QueueItemQueued     QueueItemStatus = "queued"
	QueueItemProcessing QueueItemStatus = "processing"
	QueueItemCompleted  QueueItemStatus = "completed"
	QueueItemFailed     QueueItemStatus = "failed"
)

// QueueItem defers a disbursement that could not be funded when it arrived.
type QueueItem struct {
	QueueItemID    string          `json:"queue_item_id"`
	DisbursementID string          `json:"disbursement_id"`
	PartnerID      string          `json:"partner_id"`
	Priority       int             `json:"priority"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	NextRetryAt    time.Time       `json:"next_retry_at"`
	Status         QueueItemStatus `json:"status"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Exhausted reports whether the item used up all its retries.
func (q QueueItem) Exhausted() bool {
	return q.RetryCount >= q.MaxRetries
}
