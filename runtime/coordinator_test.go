package runtime

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"upload-lab/auth"
	"upload-lab/bridge"
	"upload-lab/contract"
	"upload-lab/domain"
	"upload-lab/domain/event"
	"upload-lab/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) domain.FileRef {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return domain.FileRef{
		Path:        path,
		Name:        name,
		ContentType: "text/plain",
		Size:        int64(len(content)),
	}
}

// fakeServerSide copies the uploaded file into a fresh artifact and
// registers it at the bridge, like the receiving endpoint would.
func fakeServerSide(t *testing.T, br *bridge.Bridge, spoolDir string) func(context.Context, contract.UploadRequest, contract.ProgressFunc) (contract.UploadResult, error) {
	t.Helper()
	return func(_ context.Context, req contract.UploadRequest, onProgress contract.ProgressFunc) (contract.UploadResult, error) {
		content, err := os.ReadFile(req.FilePath)
		if err != nil {
			return contract.UploadResult{}, err
		}
		artifact, err := os.CreateTemp(spoolDir, "upload-*.part")
		if err != nil {
			return contract.UploadResult{}, err
		}
		if _, err := artifact.Write(content); err != nil {
			return contract.UploadResult{}, err
		}
		if err := artifact.Close(); err != nil {
			return contract.UploadResult{}, err
		}
		if onProgress != nil {
			onProgress(100)
		}
		claimToken := uuid.NewString()
		br.Register(claimToken, artifact.Name())
		return contract.UploadResult{ClaimToken: claimToken, Bytes: int64(len(content))}, nil
	}
}

func newTestCoordinator(t *testing.T, cfg Config, transport contract.Transport, br *bridge.Bridge, hooks Hooks) *Coordinator {
	t.Helper()
	tokens, err := auth.NewUploadTokenService([]byte("a-secret-of-proper-length"), time.Minute)
	require.NoError(t, err)

	c := NewCoordinator(silentLogger(), cfg, tokens, transport, br, hooks)
	c.SetSession("alice", "session-token", "sealed-policy")
	return c
}

// drainUntilTerminal collects events until the batch reaches a terminal
// event, which the coordinator emits exactly once per batch.
func drainUntilTerminal(t *testing.T, events <-chan event.Event) []event.Event {
	t.Helper()
	var collected []event.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-events:
			collected = append(collected, evt)
			switch evt.Type {
			case event.BatchCompleted, event.BatchFailed, event.BatchCancelled:
				return collected
			}
		case <-deadline:
			t.Fatal("no terminal batch event")
		}
	}
}

func terminalType(events []event.Event) event.Type {
	return events[len(events)-1].Type
}

func statusByName(t *testing.T, c *Coordinator) map[string]domain.Status {
	t.Helper()
	statuses := make(map[string]domain.Status)
	for _, snapshot := range c.Batch() {
		statuses[snapshot.Name] = snapshot.Status
	}
	return statuses
}

func TestCoordinator_HappyPathAllStages(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	br := bridge.New(silentLogger(), time.Minute, time.Minute)

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(fakeServerSide(t, br, dir)).
		Times(2)

	remote := mocks.NewMockRemoteDuplicateChecker(ctrl)
	remote.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil).Times(2)

	persisted := make(map[string]string)
	completion := mocks.NewMockCompletionHandler(ctrl)
	completion.EXPECT().
		OnUploadCompleted(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, record domain.RecordSnapshot, content io.Reader) error {
			data, err := io.ReadAll(content)
			if err != nil {
				return err
			}
			persisted[record.Name] = string(data)
			return nil
		}).
		Times(2)

	c := newTestCoordinator(t, Config{
		MaxConcurrentUploads:    1,
		MaxConcurrentProcessors: 1,
		Features:                Features{LocalDedup: true, RemoteDedup: true, Persist: true},
	}, transport, br, Hooks{RemoteDuplicate: remote, Completion: completion})

	c.SubmitBatch([]domain.FileRef{
		writeFile(t, dir, "a.txt", "first payload"),
		writeFile(t, dir, "b.txt", "second payload"),
	})

	events := drainUntilTerminal(t, c.Events())
	req.Equal(event.BatchCompleted, terminalType(events))

	statuses := statusByName(t, c)
	req.Equal(domain.StatusCompleted, statuses["a.txt"])
	req.Equal(domain.StatusCompleted, statuses["b.txt"])

	req.Equal("first payload", persisted["a.txt"])
	req.Equal("second payload", persisted["b.txt"])

	// Every artifact was consumed and the hash reached the snapshot
	req.Equal(0, br.Size())
	for _, snapshot := range c.Batch() {
		req.NotEmpty(snapshot.Hash)
		req.InDelta(100, snapshot.LifecyclePercent, 1e-9)
	}
}

func TestCoordinator_OversizedFileIsSkipped(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	br := bridge.New(silentLogger(), time.Minute, time.Minute)

	transport := mocks.NewMockTransport(ctrl)
	// Only the file under the ceiling reaches the transport
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(fakeServerSide(t, br, dir)).
		Times(1)

	c := newTestCoordinator(t, Config{
		MaxBytesPerFile:         10,
		MaxConcurrentUploads:    1,
		MaxConcurrentProcessors: 1,
	}, transport, br, Hooks{})

	c.SubmitBatch([]domain.FileRef{
		writeFile(t, dir, "small.txt", "tiny"),
		writeFile(t, dir, "big.txt", "a payload far beyond the ceiling"),
	})

	events := drainUntilTerminal(t, c.Events())
	req.Equal(event.BatchCompleted, terminalType(events))

	statuses := statusByName(t, c)
	req.Equal(domain.StatusCompleted, statuses["small.txt"])
	req.Equal(domain.StatusSkipped, statuses["big.txt"])
}

func TestCoordinator_RejectedDeclaredType(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	br := bridge.New(silentLogger(), time.Minute, time.Minute)
	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	c := newTestCoordinator(t, Config{
		AllowedTypes:            []string{"image/png"},
		MaxConcurrentUploads:    1,
		MaxConcurrentProcessors: 1,
	}, transport, br, Hooks{})

	c.SubmitBatch([]domain.FileRef{writeFile(t, dir, "notes.txt", "plain text")})

	events := drainUntilTerminal(t, c.Events())
	req.Equal(event.BatchCompleted, terminalType(events))
	req.Equal(domain.StatusSkipped, statusByName(t, c)["notes.txt"])
}

func TestCoordinator_LocalDuplicateIsSkipped(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	br := bridge.New(silentLogger(), time.Minute, time.Minute)

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(fakeServerSide(t, br, dir)).
		Times(2)

	c := newTestCoordinator(t, Config{
		MaxConcurrentUploads:    1,
		MaxConcurrentProcessors: 1,
		Features:                Features{LocalDedup: true},
	}, transport, br, Hooks{})

	c.SubmitBatch([]domain.FileRef{
		writeFile(t, dir, "original.txt", "same bytes"),
		writeFile(t, dir, "copy.txt", "same bytes"),
	})

	events := drainUntilTerminal(t, c.Events())
	req.Equal(event.BatchCompleted, terminalType(events))

	statuses := statusByName(t, c)
	req.Equal(domain.StatusCompleted, statuses["original.txt"])
	req.Equal(domain.StatusSkipped, statuses["copy.txt"])
}

func TestCoordinator_TransportFailureStaysContained(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	br := bridge.New(silentLogger(), time.Minute, time.Minute)

	healthy := writeFile(t, dir, "healthy.txt", "fine")
	doomed := writeFile(t, dir, "doomed.txt", "rejected by the endpoint")

	transport := mocks.NewMockTransport(ctrl)
	serverSide := fakeServerSide(t, br, dir)
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, r contract.UploadRequest, onProgress contract.ProgressFunc) (contract.UploadResult, error) {
			if r.FileName == "doomed.txt" {
				return contract.UploadResult{}, io.ErrUnexpectedEOF
			}
			return serverSide(ctx, r, onProgress)
		}).
		Times(2)

	c := newTestCoordinator(t, Config{
		MaxConcurrentUploads:    1,
		MaxConcurrentProcessors: 1,
	}, transport, br, Hooks{})

	c.SubmitBatch([]domain.FileRef{healthy, doomed})

	events := drainUntilTerminal(t, c.Events())
	// One failure does not fail the batch while a sibling completed
	req.Equal(event.BatchCompleted, terminalType(events))

	statuses := statusByName(t, c)
	req.Equal(domain.StatusCompleted, statuses["healthy.txt"])
	req.Equal(domain.StatusFailed, statuses["doomed.txt"])
}

func TestCoordinator_AllFailedBatchFails(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	br := bridge.New(silentLogger(), time.Minute, time.Minute)

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(contract.UploadResult{}, io.ErrUnexpectedEOF).
		Times(1)

	c := newTestCoordinator(t, Config{
		MaxConcurrentUploads:    1,
		MaxConcurrentProcessors: 1,
	}, transport, br, Hooks{})

	c.SubmitBatch([]domain.FileRef{writeFile(t, dir, "only.txt", "payload")})

	events := drainUntilTerminal(t, c.Events())
	req.Equal(event.BatchFailed, terminalType(events))
	req.Equal(domain.StatusFailed, statusByName(t, c)["only.txt"])

	// A transport error with no cancellation anywhere is a failure, never
	// a cancellation.
	var failed, cancelled int
	for _, evt := range events {
		switch evt.Type {
		case event.FileFailed:
			failed++
		case event.FileCancelled:
			cancelled++
		}
	}
	req.Equal(1, failed)
	req.Zero(cancelled)
}

func TestCoordinator_CancelAllMidFlight(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	br := bridge.New(silentLogger(), time.Minute, time.Minute)

	started := make(chan struct{})
	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ contract.UploadRequest, _ contract.ProgressFunc) (contract.UploadResult, error) {
			close(started)
			<-ctx.Done()
			return contract.UploadResult{}, ctx.Err()
		}).
		Times(1)

	c := newTestCoordinator(t, Config{
		MaxConcurrentUploads:    1,
		MaxConcurrentProcessors: 1,
	}, transport, br, Hooks{})

	c.SubmitBatch([]domain.FileRef{
		writeFile(t, dir, "inflight.txt", "blocked on the wire"),
	})

	<-started
	c.CancelAll()

	events := drainUntilTerminal(t, c.Events())
	req.Equal(event.BatchCancelled, terminalType(events))
	req.Equal(domain.StatusCancelled, statusByName(t, c)["inflight.txt"])
}

func TestCoordinator_CancelOneMidUpload(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	br := bridge.New(silentLogger(), time.Minute, time.Minute)

	started := make(chan struct{})
	transport := mocks.NewMockTransport(ctrl)
	serverSide := fakeServerSide(t, br, dir)
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, r contract.UploadRequest, onProgress contract.ProgressFunc) (contract.UploadResult, error) {
			if r.FileName == "target.txt" {
				close(started)
				<-ctx.Done()
				return contract.UploadResult{}, ctx.Err()
			}
			return serverSide(ctx, r, onProgress)
		}).
		Times(2)

	c := newTestCoordinator(t, Config{
		MaxConcurrentUploads:    2,
		MaxConcurrentProcessors: 1,
	}, transport, br, Hooks{})

	c.SubmitBatch([]domain.FileRef{
		writeFile(t, dir, "sibling.txt", "left alone"),
		writeFile(t, dir, "target.txt", "cancelled on the wire"),
	})

	<-started
	for _, snapshot := range c.Batch() {
		if snapshot.Name == "target.txt" {
			c.CancelOne(snapshot.ID)
		}
	}

	events := drainUntilTerminal(t, c.Events())
	// Cancelling one record leaves the batch outcome to its siblings
	req.Equal(event.BatchCompleted, terminalType(events))

	statuses := statusByName(t, c)
	req.Equal(domain.StatusCompleted, statuses["sibling.txt"])
	req.Equal(domain.StatusCancelled, statuses["target.txt"])
}

func TestCoordinator_CancelOnePendingRecord(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	br := bridge.New(silentLogger(), time.Minute, time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	transport := mocks.NewMockTransport(ctrl)
	serverSide := fakeServerSide(t, br, dir)
	// One worker: the second record stays Pending while the first holds it
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, r contract.UploadRequest, onProgress contract.ProgressFunc) (contract.UploadResult, error) {
			req.Equal("first.txt", r.FileName)
			close(started)
			<-release
			return serverSide(ctx, r, onProgress)
		}).
		Times(1)

	c := newTestCoordinator(t, Config{
		MaxConcurrentUploads:    1,
		MaxConcurrentProcessors: 1,
	}, transport, br, Hooks{})

	c.SubmitBatch([]domain.FileRef{
		writeFile(t, dir, "first.txt", "keeps the worker busy"),
		writeFile(t, dir, "held.txt", "never leaves the queue"),
	})

	<-started
	for _, snapshot := range c.Batch() {
		if snapshot.Name == "held.txt" {
			c.CancelOne(snapshot.ID)
		}
	}
	close(release)

	events := drainUntilTerminal(t, c.Events())
	req.Equal(event.BatchCompleted, terminalType(events))

	statuses := statusByName(t, c)
	req.Equal(domain.StatusCompleted, statuses["first.txt"])
	req.Equal(domain.StatusCancelled, statuses["held.txt"])
}

func TestCoordinator_MissingArtifactFailsRecord(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	br := bridge.New(silentLogger(), time.Minute, time.Minute)

	transport := mocks.NewMockTransport(ctrl)
	// The endpoint answered but the claim token resolves to nothing,
	// as if the reclaimer got there first.
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(contract.UploadResult{ClaimToken: "gone", Bytes: 4}, nil).
		Times(1)

	c := newTestCoordinator(t, Config{
		MaxConcurrentUploads:    1,
		MaxConcurrentProcessors: 1,
	}, transport, br, Hooks{})

	c.SubmitBatch([]domain.FileRef{writeFile(t, dir, "lost.txt", "gone")})

	events := drainUntilTerminal(t, c.Events())
	req.Equal(event.BatchFailed, terminalType(events))
	req.Equal(domain.StatusFailed, statusByName(t, c)["lost.txt"])
}

func TestCoordinator_StaleProgressIsDropped(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	br := bridge.New(silentLogger(), time.Minute, time.Minute)

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(fakeServerSide(t, br, dir)).
		Times(1)

	c := newTestCoordinator(t, Config{
		MaxConcurrentUploads:    1,
		MaxConcurrentProcessors: 1,
	}, transport, br, Hooks{})

	c.SubmitBatch([]domain.FileRef{writeFile(t, dir, "done.txt", "payload")})
	drainUntilTerminal(t, c.Events())

	// A report for a batch that no longer exists is silently dropped
	c.ReportTransferProgress(uuid.New(), 0, 50)
	// And so is one for a terminal record of the current batch
	c.ReportTransferProgress(c.Batch()[0].BatchID, 0, 50)
	req.Equal(domain.StatusCompleted, c.Batch()[0].Status)
}
