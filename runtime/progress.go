package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"upload-lab/domain"
	"upload-lab/domain/event"
)

const hashChunkSize = 64 * 1024

// Buffers are shared across stage-2 workers and batches.
var hashBufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, hashChunkSize)
		return &b
	},
}

// progressThrottle decides which recomputed percentages reach the listener.
// The bar must always appear at 0 and always land on 100; everything in
// between is rate limited. One throttle serves one stream, single goroutine.
type progressThrottle struct {
	interval time.Duration
	last     time.Time
}

func (t *progressThrottle) forward(percent float64) bool {
	if percent <= 0 || percent >= 100 {
		return true
	}
	now := time.Now()
	if now.Sub(t.last) >= t.interval {
		t.last = now
		return true
	}
	return false
}

// hashArtifact streams the artifact through SHA-256, reporting throttled
// progress on the way. The cursor never seeks: one forward pass.
func (c *Coordinator) hashArtifact(ctx context.Context, state *batchState, record *domain.TransferRecord, artifactPath string) (string, error) {
	file, err := os.Open(artifactPath)
	if err != nil {
		return "", fmt.Errorf("opening artifact: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", err
	}
	total := info.Size()

	bufPtr := hashBufferPool.Get().(*[]byte)
	buf := *bufPtr
	defer hashBufferPool.Put(bufPtr)

	hash := sha256.New()
	throttle := progressThrottle{interval: c.cfg.ProgressInterval}
	var read int64

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := file.Read(buf)
		if n > 0 {
			hash.Write(buf[:n])
			read += int64(n)
			percent := percentOf(read, total)
			if record.SetStageProgress(percent) && throttle.forward(percent) {
				c.emitRecord(event.FileProgress, record, state.batch.Weights, "")
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading artifact: %w", err)
		}
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// observeProgress wraps a forward-only stream so that saving progress flows
// through the same throttle discipline as hashing. Reads fail as soon as the
// record's cancellation scope fires.
func (c *Coordinator) observeProgress(ctx context.Context, state *batchState, record *domain.TransferRecord, reader io.Reader, total int64) io.Reader {
	return &observedReader{
		ctx:         ctx,
		coordinator: c,
		state:       state,
		record:      record,
		reader:      reader,
		total:       total,
		throttle:    progressThrottle{interval: c.cfg.ProgressInterval},
	}
}

type observedReader struct {
	ctx         context.Context
	coordinator *Coordinator
	state       *batchState
	record      *domain.TransferRecord
	reader      io.Reader
	total       int64
	read        int64
	throttle    progressThrottle
}

func (o *observedReader) Read(p []byte) (int, error) {
	if err := o.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := o.reader.Read(p)
	if n > 0 {
		o.read += int64(n)
		percent := percentOf(o.read, o.total)
		if o.record.SetStageProgress(percent) && o.throttle.forward(percent) {
			o.coordinator.emitRecord(event.FileProgress, o.record, o.state.batch.Weights, "")
		}
	}
	return n, err
}

func percentOf(read, total int64) float64 {
	if total <= 0 {
		return 100
	}
	percent := float64(read) / float64(total) * 100
	if percent > 100 {
		percent = 100
	}
	return percent
}
