//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"io"
	"reflect"

	"upload-lab/domain"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// UploadRequest carries everything the byte transport needs for one file.
type UploadRequest struct {
	FilePath     string
	FileName     string
	DeclaredType string
	Size         int64
	UploadToken  string
	SealedPolicy string
	SessionToken string
}

// UploadResult is the receiving endpoint's answer: the one-time claim token
// to exchange for the temporary artifact, and how many bytes landed.
type UploadResult struct {
	ClaimToken string
	Bytes      int64
}

// ProgressFunc receives transfer progress as a percentage in [0,100].
type ProgressFunc func(percent float64)

// Transport streams a file's bytes to the receiving endpoint. Implementations
// must honor context cancellation and report progress while the body is sent.
type Transport interface {
	Upload(ctx context.Context, req UploadRequest, onProgress ProgressFunc) (UploadResult, error)
}

// RemoteDuplicateChecker is the caller-supplied predicate deciding whether
// an upload with this content hash already exists outside the batch.
type RemoteDuplicateChecker interface {
	Exists(ctx context.Context, record domain.RecordSnapshot) (bool, error)
}

// CompletionHandler receives the verified artifact for final persistence.
// The reader supports forward sequential reads only; progress observation
// is wired by the caller around it.
type CompletionHandler interface {
	OnUploadCompleted(ctx context.Context, record domain.RecordSnapshot, content io.Reader) error
}
