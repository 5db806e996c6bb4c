package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newRecord() *TransferRecord {
	return NewTransferRecord(uuid.New(), 0, FileRef{
		Path:        "/tmp/photo.png",
		Name:        "photo.png",
		ContentType: "image/png",
		Size:        1024,
	})
}

func TestTransferRecord_StageOnlyMovesForward(t *testing.T) {
	req := require.New(t)
	r := newRecord()

	req.True(r.AdvanceStage(StageUploading, ""))
	req.Equal(StatusInProgress, r.Status())

	req.True(r.AdvanceStage(StageHashing, ""))

	// A late signal from a finished stage must not rewind the record
	req.False(r.AdvanceStage(StageUploading, ""))
	req.Equal(StageHashing, r.Stage())

	// Same stage twice is also refused
	req.False(r.AdvanceStage(StageHashing, ""))
}

func TestTransferRecord_TerminalIsOneWay(t *testing.T) {
	req := require.New(t)
	r := newRecord()
	r.AdvanceStage(StageUploading, "")

	req.True(r.MarkCancelled("batch cancelled"))
	req.Equal(StatusCancelled, r.Status())

	// Every later transition loses
	req.False(r.MarkCompleted("too late"))
	req.False(r.MarkFailed("too late"))
	req.False(r.MarkCancelled("again"))
	req.False(r.AdvanceStage(StageHashing, ""))
	req.False(r.SetStageProgress(50))
	req.Equal(StatusCancelled, r.Status())
}

func TestTransferRecord_ProgressIsClamped(t *testing.T) {
	req := require.New(t)
	r := newRecord()
	r.AdvanceStage(StageUploading, "")

	req.True(r.SetStageProgress(-12))
	req.InDelta(0, r.Snapshot(DeriveWeights(false, false)).StageProgress, 1e-9)

	req.True(r.SetStageProgress(140))
	req.InDelta(100, r.Snapshot(DeriveWeights(false, false)).StageProgress, 1e-9)
}

func TestTransferRecord_AdvanceResetsStageProgress(t *testing.T) {
	req := require.New(t)
	r := newRecord()
	r.AdvanceStage(StageUploading, "")
	r.SetStageProgress(80)

	r.AdvanceStage(StageHashing, "")
	req.InDelta(0, r.Snapshot(DeriveWeights(true, false)).StageProgress, 1e-9)
}

func TestBatch_Lookups(t *testing.T) {
	req := require.New(t)
	b := NewBatch(DeriveWeights(true, true))
	first := NewTransferRecord(b.ID, 0, FileRef{Name: "a"})
	second := NewTransferRecord(b.ID, 1, FileRef{Name: "b"})
	b.Add(first)
	b.Add(second)

	got, found := b.ByIndex(1)
	req.True(found)
	req.Equal("b", got.Name)

	got, found = b.ByID(first.ID)
	req.True(found)
	req.Equal("a", got.Name)

	_, found = b.ByID(uuid.New())
	req.False(found)

	req.False(b.Done())
	first.MarkCompleted("")
	second.MarkSkipped("")
	req.True(b.Done())
	req.Empty(b.Pending())
}
