package engine

// State names a phase of a transfer job.
type State string

const (
	// StateExtracting covers reading tracked changes out of the source.
	StateExtracting State = "extracting"
	// StateAligning covers paragraph alignment and insertion translation.
	StateAligning State = "aligning"
	// StateApplying covers writing revisions into the target.
	StateApplying State = "applying"
	// StateDone marks a completed job.
	StateDone State = "done"
	// StateAborted marks a job stopped by a structural error or
	// cancellation.
	StateAborted State = "aborted"
)

// Progress is one progress event. Step and Total are meaningful only in
// phases that iterate; both are zero otherwise.
type Progress struct {
	State   State  `json:"state"`
	Step    int    `json:"step"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// ProgressFunc receives progress events. Calls happen on the job's own
// goroutine; implementations must not block for long.
type ProgressFunc func(Progress)
