package event

import (
	"time"

	"upload-lab/domain"

	"github.com/google/uuid"
)

// Type discriminates the notifications produced by the coordinator.
type Type int

const (
	BatchStarted Type = iota
	BatchCompleted
	BatchCancelled
	BatchFailed
	FileProgress
	FileStageChange
	FileCompleted
	FileFailed
	FileCancelled
	FileSkipped
)

func (t Type) String() string {
	switch t {
	case BatchStarted:
		return "batch-started"
	case BatchCompleted:
		return "batch-completed"
	case BatchCancelled:
		return "batch-cancelled"
	case BatchFailed:
		return "batch-failed"
	case FileProgress:
		return "file-progress"
	case FileStageChange:
		return "file-stage-change"
	case FileCompleted:
		return "file-completed"
	case FileFailed:
		return "file-failed"
	case FileCancelled:
		return "file-cancelled"
	case FileSkipped:
		return "file-skipped"
	default:
		return "unknown"
	}
}

// Batch reports whether the event concerns the whole batch rather than
// a single record.
func (t Type) Batch() bool {
	switch t {
	case BatchStarted, BatchCompleted, BatchCancelled, BatchFailed:
		return true
	}
	return false
}

// Event is one notification pushed to the caller's listener.
// Record is nil for batch-level events.
type Event struct {
	Type      Type
	BatchID   uuid.UUID
	Record    *domain.RecordSnapshot
	Message   string
	CreatedAt time.Time
}

func ForBatch(t Type, batchID uuid.UUID, message string) Event {
	return Event{Type: t, BatchID: batchID, Message: message, CreatedAt: time.Now().UTC()}
}

func ForRecord(t Type, snapshot domain.RecordSnapshot, message string) Event {
	return Event{
		Type:      t,
		BatchID:   snapshot.BatchID,
		Record:    &snapshot,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}
