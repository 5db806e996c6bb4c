package domain

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage is the position of a file inside the pipeline.
// A record only ever moves forward through this ordering.
type Stage int

const (
	StagePending Stage = iota
	StageUploading
	StageHashing
	StageVerifyingLocal
	StageVerifyingRemote
	StageSaving
)

func (s Stage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageUploading:
		return "uploading"
	case StageHashing:
		return "hashing"
	case StageVerifyingLocal:
		return "verifying-local"
	case StageVerifyingRemote:
		return "verifying-remote"
	case StageSaving:
		return "saving"
	default:
		return "unknown"
	}
}

// Status is the outcome classification of a record.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusCompleted
	StatusFailed
	StatusCancelled
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in-progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

// FileRef is a file handle submitted by the caller for one batch.
type FileRef struct {
	Path        string
	Name        string
	ContentType string
	Size        int64
}

// TransferRecord tracks one file through the whole pipeline.
//
// The worker currently owning the record is the only writer of its stage
// progress; cancellation signals and late progress reports may race with it,
// so every mutation goes through the mutex and terminal statuses are one-way.
type TransferRecord struct {
	mu sync.Mutex

	ID          uuid.UUID
	BatchID     uuid.UUID
	Name        string
	Path        string
	Size        int64
	ContentType string
	Index       int

	stage         Stage
	status        Status
	stageProgress float64
	message       string
	hash          string
	uploadToken   string

	startedAt time.Time
	endedAt   time.Time

	cancel context.CancelFunc
}

func NewTransferRecord(batchID uuid.UUID, index int, ref FileRef) *TransferRecord {
	return &TransferRecord{
		ID:          uuid.New(),
		BatchID:     batchID,
		Name:        ref.Name,
		Path:        ref.Path,
		Size:        ref.Size,
		ContentType: ref.ContentType,
		Index:       index,
		stage:       StagePending,
		status:      StatusPending,
		startedAt:   time.Now().UTC(),
	}
}

// BindCancel attaches the record's individual cancellation handle.
// The context it belongs to must be derived from the batch context so that
// a batch-wide cancellation also reaches this record.
func (r *TransferRecord) BindCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel = cancel
}

// Cancel fires the individual cancellation handle, if any.
// The status transition itself happens when the owning worker observes
// the context error, or through MarkCancelled for idle records.
func (r *TransferRecord) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// AdvanceStage moves the record forward. Backward transitions are refused
// silently: a late signal from a finished stage must not rewind the record.
func (r *TransferRecord) AdvanceStage(stage Stage, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() || stage <= r.stage {
		return false
	}
	r.stage = stage
	r.stageProgress = 0
	r.message = message
	r.status = StatusInProgress
	return true
}

// SetStageProgress updates the progress of the current stage, clamped to [0,100].
func (r *TransferRecord) SetStageProgress(percent float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return false
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	r.stageProgress = percent
	return true
}

func (r *TransferRecord) SetUploadToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploadToken = token
}

func (r *TransferRecord) SetHash(hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hash = hash
}

func (r *TransferRecord) Hash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hash
}

// MarkCompleted closes the record successfully. Returns false if a terminal
// status won the race first.
func (r *TransferRecord) MarkCompleted(message string) bool {
	return r.finish(StatusCompleted, message)
}

func (r *TransferRecord) MarkFailed(message string) bool {
	return r.finish(StatusFailed, message)
}

func (r *TransferRecord) MarkCancelled(message string) bool {
	return r.finish(StatusCancelled, message)
}

func (r *TransferRecord) MarkSkipped(message string) bool {
	return r.finish(StatusSkipped, message)
}

func (r *TransferRecord) finish(status Status, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return false
	}
	r.status = status
	r.message = message
	r.endedAt = time.Now().UTC()
	if status == StatusCompleted {
		r.stageProgress = 100
	}
	return true
}

func (r *TransferRecord) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *TransferRecord) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

func (r *TransferRecord) Terminal() bool {
	return r.Status().Terminal()
}

// RecordSnapshot is an immutable copy handed to event listeners.
type RecordSnapshot struct {
	ID               uuid.UUID
	BatchID          uuid.UUID
	Name             string
	Size             int64
	ContentType      string
	Index            int
	Stage            Stage
	Status           Status
	StageProgress    float64
	LifecyclePercent float64
	Message          string
	Hash             string
	StartedAt        time.Time
	EndedAt          time.Time
}

// Snapshot copies the mutable state under the lock so listeners never
// observe a half-written record.
func (r *TransferRecord) Snapshot(weights ProgressWeights) RecordSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RecordSnapshot{
		ID:               r.ID,
		BatchID:          r.BatchID,
		Name:             r.Name,
		Size:             r.Size,
		ContentType:      r.ContentType,
		Index:            r.Index,
		Stage:            r.stage,
		Status:           r.status,
		StageProgress:    r.stageProgress,
		LifecyclePercent: lifecyclePercent(r.stage, r.status, r.stageProgress, weights),
		Message:          r.message,
		Hash:             r.hash,
		StartedAt:        r.startedAt,
		EndedAt:          r.endedAt,
	}
}

// LifecyclePercent computes the overall progress of the record.
func (r *TransferRecord) LifecyclePercent(weights ProgressWeights) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lifecyclePercent(r.stage, r.status, r.stageProgress, weights)
}
