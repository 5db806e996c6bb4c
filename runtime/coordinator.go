package runtime

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"upload-lab/auth"
	"upload-lab/bridge"
	"upload-lab/contract"
	"upload-lab/domain"
	"upload-lab/domain/event"
	"upload-lab/errors"

	"github.com/google/uuid"
)

const defaultProgressInterval = 350 * time.Millisecond

// Features toggles the optional pipeline stages.
type Features struct {
	LocalDedup  bool
	RemoteDedup bool
	Persist     bool
}

// Config is the coordinator's tuning surface.
type Config struct {
	MaxFilesPerBatch        int
	MaxBytesPerFile         int64
	AllowedTypes            []string
	MaxConcurrentUploads    int
	MaxConcurrentProcessors int
	ProgressInterval        time.Duration
	Features                Features
}

// Hooks are the caller-supplied collaborators for the optional stages.
// A nil hook disables the corresponding stage even when its feature is on.
type Hooks struct {
	RemoteDuplicate contract.RemoteDuplicateChecker
	Completion      contract.CompletionHandler
}

// batchState bundles everything scoped to one in-flight batch. It is
// replaced wholesale on SubmitBatch, never mutated across batches.
type batchState struct {
	batch     *domain.Batch
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	seen      sync.Map // content hash -> first file name
	finalOnce sync.Once
}

// Coordinator drives a batch of files through the two-stage pipeline:
// a bounded group of network producers feeding a bounded group of CPU
// consumers over one hand-off queue. It owns every TransferRecord for the
// duration of its batch.
type Coordinator struct {
	log       *slog.Logger
	cfg       Config
	tokens    *auth.UploadTokenService
	transport contract.Transport
	bridge    *bridge.Bridge
	hooks     Hooks

	userID       string
	sessionToken string
	sealedPolicy string

	events chan event.Event

	mu    sync.Mutex
	state *batchState
}

func NewCoordinator(
	log *slog.Logger,
	cfg Config,
	tokens *auth.UploadTokenService,
	transport contract.Transport,
	br *bridge.Bridge,
	hooks Hooks,
) *Coordinator {
	if cfg.MaxConcurrentUploads <= 0 {
		cfg.MaxConcurrentUploads = 3
	}
	if cfg.MaxConcurrentProcessors <= 0 {
		cfg.MaxConcurrentProcessors = 2
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaultProgressInterval
	}
	return &Coordinator{
		log:       log,
		cfg:       cfg,
		tokens:    tokens,
		transport: transport,
		bridge:    br,
		hooks:     hooks,
		events:    make(chan event.Event, 256),
	}
}

// SetSession installs the identity the next batches upload under.
func (c *Coordinator) SetSession(userID, sessionToken, sealedPolicy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.sessionToken = sessionToken
	c.sealedPolicy = sealedPolicy
}

// Events exposes the notification stream. Emission never blocks the
// pipeline: a listener that stops draining loses events, not uploads.
func (c *Coordinator) Events() <-chan event.Event {
	return c.events
}

// SubmitBatch cancels any in-flight batch, validates every submitted file,
// and launches both stages for the accepted ones. It returns as soon as the
// stages are running; completion is reported through the event stream.
func (c *Coordinator) SubmitBatch(files []domain.FileRef) {
	c.CancelAll()
	c.waitCurrent()

	hashEnabled := c.cfg.Features.LocalDedup || c.cfg.Features.RemoteDedup
	saveEnabled := c.cfg.Features.Persist && c.hooks.Completion != nil
	weights := domain.DeriveWeights(hashEnabled, saveEnabled)

	batch := domain.NewBatch(weights)
	var accepted []*domain.TransferRecord
	for index, ref := range files {
		record := domain.NewTransferRecord(batch.ID, index, ref)
		batch.Add(record)

		if reason, rejected := c.vet(index, ref); rejected {
			record.MarkSkipped(reason)
			c.emitRecord(event.FileSkipped, record, weights, reason)
			continue
		}
		accepted = append(accepted, record)
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &batchState{
		batch:  batch,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	if batch.Done() {
		// Nothing survived validation: the batch completes trivially,
		// no stage is launched.
		cancel()
		close(state.done)
		state.finalOnce.Do(func() {
			c.emitBatch(event.BatchCompleted, batch.ID, "no file accepted")
		})
		return
	}

	c.emitBatch(event.BatchStarted, batch.ID, "")

	// The queue is sized to the accepted count so producers never block on
	// it; for one batch this is an unbounded FIFO. It is closed exactly
	// once, by the producer side, after all upload work finished.
	queue := make(chan handoff, len(accepted))
	go c.runUploadStage(state, accepted, queue)
	go c.runProcessStage(state, queue)
}

// vet applies the per-file admission rules, in the order the user sees them.
func (c *Coordinator) vet(index int, ref domain.FileRef) (string, bool) {
	if c.cfg.MaxFilesPerBatch > 0 && index >= c.cfg.MaxFilesPerBatch {
		return errors.ErrBatchFull.Error(), true
	}
	if c.cfg.MaxBytesPerFile > 0 && ref.Size > c.cfg.MaxBytesPerFile {
		return errors.ErrFileTooLarge.Error(), true
	}
	if len(c.cfg.AllowedTypes) > 0 && !typeAllowed(ref.ContentType, c.cfg.AllowedTypes) {
		return errors.ErrTypeNotAllowed.Error(), true
	}
	return "", false
}

func typeAllowed(declared string, allowList []string) bool {
	for _, allowed := range allowList {
		if strings.EqualFold(declared, allowed) {
			return true
		}
	}
	return false
}

// CancelAll fires the batch-wide cancellation scope. Every non-terminal
// record transitions to Cancelled with its own notification, then one
// BatchCancelled closes the sequence.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == nil {
		return
	}
	state.cancel()
	c.cancelRemaining(state)
}

// CancelOne fires only the individual cancellation handle of one record.
// Sibling files are not disturbed.
func (c *Coordinator) CancelOne(fileID uuid.UUID) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == nil {
		return
	}
	record, found := state.batch.ByID(fileID)
	if !found {
		return
	}
	record.Cancel()
	// A record no worker picked up yet has no live context to observe the
	// signal; close it here.
	if record.Status() == domain.StatusPending && record.MarkCancelled("cancelled before start") {
		c.emitRecord(event.FileCancelled, record, state.batch.Weights, "cancelled before start")
	}
}

// ReportTransferProgress is the externally driven callback from the byte
// transport. Reports for a superseded batch or a terminal record are stale
// and dropped silently.
func (c *Coordinator) ReportTransferProgress(batchID uuid.UUID, fileIndex int, percent float64) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == nil || state.batch.ID != batchID {
		return
	}
	record, found := state.batch.ByIndex(fileIndex)
	if !found || record.Terminal() {
		return
	}
	if record.SetStageProgress(percent) {
		c.emitRecord(event.FileProgress, record, state.batch.Weights, "")
	}
}

// Batch returns a snapshot of every record in the current batch.
func (c *Coordinator) Batch() []domain.RecordSnapshot {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == nil {
		return nil
	}
	snapshots := make([]domain.RecordSnapshot, 0, len(state.batch.Records))
	for _, record := range state.batch.Records {
		snapshots = append(snapshots, record.Snapshot(state.batch.Weights))
	}
	return snapshots
}

// waitCurrent blocks until the in-flight batch, if any, fully drained.
func (c *Coordinator) waitCurrent() {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != nil {
		<-state.done
	}
}

// cancelRemaining closes every non-terminal record as Cancelled. Safe to
// call repeatedly: terminal statuses are one-way, so each record emits at
// most one cancellation event.
func (c *Coordinator) cancelRemaining(state *batchState) {
	for _, record := range state.batch.Pending() {
		if record.MarkCancelled("batch cancelled") {
			c.emitRecord(event.FileCancelled, record, state.batch.Weights, "batch cancelled")
		}
	}
	state.finalOnce.Do(func() {
		c.emitBatch(event.BatchCancelled, state.batch.ID, "")
	})
}

// finishBatch emits the terminal batch event once both stages drained.
func (c *Coordinator) finishBatch(state *batchState) {
	defer close(state.done)

	if state.ctx.Err() != nil {
		c.cancelRemaining(state)
		return
	}

	completed := 0
	for _, record := range state.batch.Records {
		if record.Status() == domain.StatusCompleted {
			completed++
		}
	}
	state.finalOnce.Do(func() {
		if completed == 0 && c.allFailed(state) {
			c.emitBatch(event.BatchFailed, state.batch.ID, "every file failed")
			return
		}
		c.emitBatch(event.BatchCompleted, state.batch.ID, "")
	})
}

func (c *Coordinator) allFailed(state *batchState) bool {
	for _, record := range state.batch.Records {
		if record.Status() != domain.StatusFailed {
			return false
		}
	}
	return len(state.batch.Records) > 0
}

func (c *Coordinator) emitBatch(t event.Type, batchID uuid.UUID, message string) {
	c.emit(event.ForBatch(t, batchID, message))
}

func (c *Coordinator) emitRecord(t event.Type, record *domain.TransferRecord, weights domain.ProgressWeights, message string) {
	c.emit(event.ForRecord(t, record.Snapshot(weights), message))
}

func (c *Coordinator) emit(evt event.Event) {
	select {
	case c.events <- evt:
	default:
		c.log.Debug("Event listener lagging, notification dropped", "type", evt.Type.String())
	}
}
