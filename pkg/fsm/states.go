// Package fsm implements the export workflow: copying one identity tuple's
// stored images to an S3 bucket, driven by the superfly/fsm library.
package fsm

import (
	"context"

	"github.com/superfly/fsm"

	"github.com/fly-io/imageuploader/pkg/errors"
)

// Register registers the export FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[ExportRequest, ExportResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[ExportRequest, ExportResponse](manager, "image-export").
		Start(StateSelect, m.handleSelect).
		To(StateUpload, m.handleUpload).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}
