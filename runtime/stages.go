package runtime

import (
	"context"
	"fmt"
	"os"
	"sync"

	"upload-lab/contract"
	"upload-lab/domain"
	"upload-lab/domain/event"
	"upload-lab/errors"
)

// handoff is one unit crossing from the network stage to the CPU stage.
// It carries the record's effective cancellation scope (batch + individual)
// so stage 2 aborts for the same reasons stage 1 would have.
type handoff struct {
	record     *domain.TransferRecord
	claimToken string
	ctx        context.Context
	cancel     context.CancelFunc
}

// runUploadStage is the producer: a bounded group of workers uploading the
// accepted records. When all of them are done (or the batch is cancelled),
// closing the queue is the sole termination signal for stage 2.
func (c *Coordinator) runUploadStage(state *batchState, accepted []*domain.TransferRecord, queue chan<- handoff) {
	feed := make(chan *domain.TransferRecord)
	go func() {
		defer close(feed)
		for _, record := range accepted {
			select {
			case <-state.ctx.Done():
				return
			case feed <- record:
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.MaxConcurrentUploads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range feed {
				c.uploadOne(state, record, queue)
			}
		}()
	}

	wg.Wait()
	close(queue)
}

// uploadOne pushes one file through the byte transport. On success the
// record advances to Hashing and joins the hand-off queue together with its
// claim token and cancellation scope.
func (c *Coordinator) uploadOne(state *batchState, record *domain.TransferRecord, queue chan<- handoff) {
	if record.Terminal() {
		return
	}

	// The record's own scope derives from the batch scope: either signal
	// firing aborts this file's current operation, without touching siblings.
	recordCtx, cancel := context.WithCancel(state.ctx)
	record.BindCancel(cancel)

	// A CancelOne landing between the first check and BindCancel closed the
	// record without a handle to fire; do not upload for it.
	if record.Terminal() {
		cancel()
		return
	}

	record.AdvanceStage(domain.StageUploading, "uploading")
	c.emitRecord(event.FileStageChange, record, state.batch.Weights, "uploading")

	token := c.tokens.Issue(record.ID.String(), c.userID)
	record.SetUploadToken(token)

	result, err := c.transport.Upload(recordCtx, contract.UploadRequest{
		FilePath:     record.Path,
		FileName:     record.Name,
		DeclaredType: record.ContentType,
		Size:         record.Size,
		UploadToken:  token,
		SealedPolicy: c.sealedPolicy,
		SessionToken: c.sessionToken,
	}, func(percent float64) {
		c.ReportTransferProgress(record.BatchID, record.Index, percent)
	})

	if err != nil {
		// Read the context state before releasing it: cancel() would make
		// every transport error look like a cancellation.
		ctxErr := recordCtx.Err()
		cancel()
		if ctxErr != nil {
			if record.MarkCancelled("cancelled during upload") {
				c.emitRecord(event.FileCancelled, record, state.batch.Weights, "cancelled during upload")
			}
			return
		}
		message := fmt.Sprintf("transport failure: %v", err)
		if record.MarkFailed(message) {
			c.emitRecord(event.FileFailed, record, state.batch.Weights, message)
		}
		return
	}

	record.AdvanceStage(domain.StageHashing, "queued for processing")
	c.emitRecord(event.FileStageChange, record, state.batch.Weights, "queued for processing")

	// The queue is sized for the whole batch; this send never blocks.
	queue <- handoff{record: record, claimToken: result.ClaimToken, ctx: recordCtx, cancel: cancel}
}

// runProcessStage is the consumer group. It drains the queue until the
// producer closed it, then settles the batch.
func (c *Coordinator) runProcessStage(state *batchState, queue <-chan handoff) {
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.MaxConcurrentProcessors; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				c.processOne(state, item)
			}
		}()
	}
	wg.Wait()
	c.finishBatch(state)
}

// processOne claims the artifact and runs the enabled CPU stages. Whatever
// the exit path, the temporary artifact is deleted.
func (c *Coordinator) processOne(state *batchState, item handoff) {
	record := item.record
	defer item.cancel()

	artifactPath, found := c.bridge.Claim(item.claimToken)
	if !found {
		message := errors.ErrArtifactNotFound.Error()
		if record.MarkFailed(message) {
			c.emitRecord(event.FileFailed, record, state.batch.Weights, message)
		}
		return
	}
	defer func() {
		// The artifact may survive as a hard-linked final file, never as
		// a spool entry.
		_ = os.Remove(artifactPath)
	}()

	if record.Terminal() {
		return
	}

	weights := state.batch.Weights
	hashEnabled := c.cfg.Features.LocalDedup || c.cfg.Features.RemoteDedup

	if hashEnabled {
		hash, err := c.hashArtifact(item.ctx, state, record, artifactPath)
		if err != nil {
			c.settleError(state, record, item.ctx, err, "hashing")
			return
		}
		record.SetHash(hash)
	}

	if c.cfg.Features.LocalDedup {
		record.AdvanceStage(domain.StageVerifyingLocal, "checking batch duplicates")
		c.emitRecord(event.FileStageChange, record, weights, "checking batch duplicates")

		// Two workers hashing identical content race for this insert; the
		// loser already paid the hash cost, which is accepted.
		if prior, loaded := state.seen.LoadOrStore(record.Hash(), record.Name); loaded {
			message := fmt.Sprintf("duplicate of %q in this batch", prior)
			if record.MarkSkipped(message) {
				c.emitRecord(event.FileSkipped, record, weights, message)
			}
			return
		}
	}

	if c.cfg.Features.RemoteDedup && c.hooks.RemoteDuplicate != nil {
		record.AdvanceStage(domain.StageVerifyingRemote, "checking stored uploads")
		c.emitRecord(event.FileStageChange, record, weights, "checking stored uploads")

		duplicate, err := c.hooks.RemoteDuplicate.Exists(item.ctx, record.Snapshot(weights))
		if err != nil {
			c.settleError(state, record, item.ctx, err, "duplicate check")
			return
		}
		if duplicate {
			message := "content already stored"
			if record.MarkSkipped(message) {
				c.emitRecord(event.FileSkipped, record, weights, message)
			}
			return
		}
	}

	if c.cfg.Features.Persist && c.hooks.Completion != nil {
		record.AdvanceStage(domain.StageSaving, "saving")
		c.emitRecord(event.FileStageChange, record, weights, "saving")

		if err := c.persist(item.ctx, state, record, artifactPath); err != nil {
			c.settleError(state, record, item.ctx, err, "persistence")
			return
		}
	}

	if record.MarkCompleted("completed") {
		c.emitRecord(event.FileCompleted, record, weights, "")
	}
}

// persist opens the artifact and hands a progress-observing, forward-only
// stream to the completion hook.
func (c *Coordinator) persist(ctx context.Context, state *batchState, record *domain.TransferRecord, artifactPath string) error {
	file, err := os.Open(artifactPath)
	if err != nil {
		return fmt.Errorf("opening artifact: %w", err)
	}
	defer file.Close()

	observed := c.observeProgress(ctx, state, record, file, record.Size)
	return c.hooks.Completion.OnUploadCompleted(ctx, record.Snapshot(state.batch.Weights), observed)
}

// settleError classifies an error as a cancellation or a failure and closes
// the record accordingly. Failures stay contained to their record.
func (c *Coordinator) settleError(state *batchState, record *domain.TransferRecord, ctx context.Context, err error, during string) {
	if ctx.Err() != nil {
		message := fmt.Sprintf("cancelled during %s", during)
		if record.MarkCancelled(message) {
			c.emitRecord(event.FileCancelled, record, state.batch.Weights, message)
		}
		return
	}
	message := fmt.Sprintf("%s failure: %v", during, err)
	if record.MarkFailed(message) {
		c.emitRecord(event.FileFailed, record, state.batch.Weights, message)
	}
}
