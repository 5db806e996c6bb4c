package domain

// Effort points used to derive the weight of each pipeline phase.
// Uploading dominates because it is the only network-bound phase.
const (
	uploadPoints = 6.0
	hashPoints   = 3.0
	savePoints   = 1.0
)

// ProgressWeights splits the lifecycle bar between the phases enabled for
// a batch. The three weights always sum to 1.0.
type ProgressWeights struct {
	Upload float64
	Hash   float64
	Save   float64
}

// DeriveWeights normalizes the effort points of the enabled phases.
// Hashing only exists when a duplicate check needs the content hash;
// saving only exists when persistence is enabled.
func DeriveWeights(hashEnabled, saveEnabled bool) ProgressWeights {
	total := uploadPoints
	if hashEnabled {
		total += hashPoints
	}
	if saveEnabled {
		total += savePoints
	}

	w := ProgressWeights{Upload: uploadPoints / total}
	if hashEnabled {
		w.Hash = hashPoints / total
	}
	if saveEnabled {
		w.Save = savePoints / total
	}
	return w
}

// lifecyclePercent accumulates the finished phases and applies the weight of
// the phase in flight. The verification stages carry no weight of their own:
// the bar stays frozen at the hashing total while they run.
func lifecyclePercent(stage Stage, status Status, stageProgress float64, w ProgressWeights) float64 {
	if status == StatusCompleted {
		return 100
	}
	switch stage {
	case StagePending:
		return 0
	case StageUploading:
		return w.Upload * stageProgress
	case StageHashing:
		return w.Upload*100 + w.Hash*stageProgress
	case StageVerifyingLocal, StageVerifyingRemote:
		return w.Upload*100 + w.Hash*100
	case StageSaving:
		return w.Upload*100 + w.Hash*100 + w.Save*stageProgress
	default:
		return 0
	}
}
