package domain

import (
	"context"
	"time"
)

// Status is the lifecycle state of a CompilationRequest.
// Transitions are monotonic: PENDING -> PROCESSING -> COMPLETED | FAILED.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CompilationRequest is a tracked unit of queued work.
type CompilationRequest struct {
	ID        string             `json:"id"`
	Language  string             `json:"language"`
	Code      string             `json:"code"`
	Status    Status             `json:"status"`
	Result    *CompilationResult `json:"result,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Event is a lifecycle transition of a CompilationRequest.
type Event struct {
	RequestID string             `json:"requestId"`
	Status    Status             `json:"status"`
	Result    *CompilationResult `json:"result,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// EventBroker fans lifecycle events out to interested listeners.
// It decouples the queue from the transport (in-process channels, Redis Pub/Sub, etc.).
type EventBroker interface {
	// Publish broadcasts an event to every current subscriber.
	Publish(ctx context.Context, ev Event) error

	// Subscribe returns a channel that streams every event published after the call.
	// The channel is closed when ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan Event, error)
}
