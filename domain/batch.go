package domain

import (
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Batch groups the records submitted together. All of them share one
// cancellation scope and one set of progress weights; the batch is done when
// every record reached a terminal status.
type Batch struct {
	ID      uuid.UUID
	Records []*TransferRecord
	Weights ProgressWeights
}

func NewBatch(weights ProgressWeights) *Batch {
	return &Batch{ID: uuid.New(), Weights: weights}
}

func (b *Batch) Add(record *TransferRecord) {
	b.Records = append(b.Records, record)
}

// Done reports whether every record is terminal.
func (b *Batch) Done() bool {
	return lo.EveryBy(b.Records, func(r *TransferRecord) bool {
		return r.Terminal()
	})
}

// Pending returns the records still waiting for the network stage.
func (b *Batch) Pending() []*TransferRecord {
	return lo.Filter(b.Records, func(r *TransferRecord, _ int) bool {
		return !r.Terminal()
	})
}

// ByIndex finds a record by its ordinal position in the batch.
func (b *Batch) ByIndex(index int) (*TransferRecord, bool) {
	if index < 0 || index >= len(b.Records) {
		return nil, false
	}
	return b.Records[index], true
}

// ByID finds a record by its identity.
func (b *Batch) ByID(id uuid.UUID) (*TransferRecord, bool) {
	return lo.Find(b.Records, func(r *TransferRecord) bool {
		return r.ID == id
	})
}
