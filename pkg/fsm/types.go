package fsm

import "github.com/fly-io/imageuploader/pkg/identity"

// ExportRequest is the FSM input
type ExportRequest struct {
	Tuple  identity.Tuple
	Bucket string
}

// ExportResponse is the FSM output (accumulated across transitions)
type ExportResponse struct {
	// From Select
	Paths []string

	// From Upload
	Uploaded []string
	Skipped  []string

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StateSelect   = "select"
	StateUpload   = "upload"
	StateComplete = "complete"
	StateFailed   = "failed"
)

// Export statuses
const (
	StatusComplete = "complete"
	StatusEmpty    = "empty"
)
