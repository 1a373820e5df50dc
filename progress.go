package pcapidx

// ProgressEvent reports progress of a long scan.
type ProgressEvent struct {
	// Stage identifies the current phase.
	Stage ProgressStage

	// Packets is the number of capture packets read so far in this stage.
	Packets uint64

	// Records is the number of index records written, during indexing.
	Records uint64

	// Written is the number of packets copied to the output, during
	// extraction.
	Written uint64
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Progress stages.
const (
	// StageIndexing indicates the capture is being scanned to build an index.
	StageIndexing ProgressStage = iota

	// StageSeeking indicates extraction is scanning from an index record to
	// the start of the requested range.
	StageSeeking

	// StageExtracting indicates packets are being copied to the output.
	StageExtracting
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageIndexing:
		return "indexing"
	case StageSeeking:
		return "seeking"
	case StageExtracting:
		return "extracting"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates. It is called from the goroutine
// running the operation.
type ProgressFunc func(ProgressEvent)

// progressInterval is how many packets pass between progress events.
const progressInterval = 10_000

func (s *Session) report(ev ProgressEvent) {
	if s.progress != nil {
		s.progress(ev)
	}
}
