package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/superfly/fsm"

	"github.com/fly-io/imageuploader/pkg/errors"
	"github.com/fly-io/imageuploader/pkg/identity"
	"github.com/fly-io/imageuploader/pkg/storage"
)

// Selector looks up the stored files of a tuple.
type Selector interface {
	Select(ctx context.Context, t identity.Tuple) ([]string, error)
}

// ObjectStore is the destination bucket.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, key, localPath string) (*storage.UploadResult, error)
}

// Machine holds dependencies for FSM transitions
type Machine struct {
	store      Selector
	objects    ObjectStore
	maxRetries int
	onComplete func(ExportRequest, ExportResponse)
}

// NewMachine creates a new FSM machine with dependencies.
// onComplete, if not nil, receives the final response of every finished export.
func NewMachine(store Selector, objects ObjectStore, maxRetries int, onComplete func(ExportRequest, ExportResponse)) *Machine {
	return &Machine{
		store:      store,
		objects:    objects,
		maxRetries: maxRetries,
		onComplete: onComplete,
	}
}

func (m *Machine) checkRetries(ctx context.Context, tuple identity.Tuple) error {
	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "identity", tuple.String(), "max_retries", m.maxRetries)
		return fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}
	return nil
}

// handleSelect asks the store worker for the tuple's files
func (m *Machine) handleSelect(ctx context.Context, req *fsm.Request[ExportRequest, ExportResponse]) (*fsm.Response[ExportResponse], error) {
	slog.Info("fsm_state_select", "identity", req.Msg.Tuple.String())

	if err := m.checkRetries(ctx, req.Msg.Tuple); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &ExportResponse{}
	}

	if err := m.selectPaths(ctx, req.Msg, resp); err != nil {
		return nil, err
	}
	return fsm.NewResponse(resp), nil
}

// handleUpload copies every selected file that is not already in the bucket
func (m *Machine) handleUpload(ctx context.Context, req *fsm.Request[ExportRequest, ExportResponse]) (*fsm.Response[ExportResponse], error) {
	slog.Info("fsm_state_upload", "identity", req.Msg.Tuple.String())

	if err := m.checkRetries(ctx, req.Msg.Tuple); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	if err := m.uploadPaths(ctx, req.Msg, resp); err != nil {
		if errors.Is(err, errMissingFile) {
			resp.ErrorMessage = err.Error()
			return nil, fsm.Abort(err)
		}
		return nil, err
	}
	return fsm.NewResponse(resp), nil
}

// handleComplete marks the export as finished
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[ExportRequest, ExportResponse]) (*fsm.Response[ExportResponse], error) {
	slog.Info("fsm_state_complete", "identity", req.Msg.Tuple.String())

	resp := req.W.Msg
	if resp == nil {
		resp = &ExportResponse{}
	}

	m.complete(req.Msg, resp)
	return fsm.NewResponse(resp), nil
}

func (m *Machine) selectPaths(ctx context.Context, req *ExportRequest, resp *ExportResponse) error {
	paths, err := m.store.Select(ctx, req.Tuple)
	if err != nil {
		slog.Error("export_select_failed", "identity", req.Tuple.String(), "error", err)
		return errors.Wrap(err, "failed to select images")
	}

	resp.Paths = paths
	slog.Info("export_selected", "identity", req.Tuple.String(), "count", len(paths))
	return nil
}

var errMissingFile = errors.New("recorded image file is missing")

// uploadPaths is safe to rerun: keys already in the bucket are skipped, so a
// retried transition only sends what the previous attempt did not.
func (m *Machine) uploadPaths(ctx context.Context, req *ExportRequest, resp *ExportResponse) error {
	resp.Uploaded = resp.Uploaded[:0]
	resp.Skipped = resp.Skipped[:0]

	for _, path := range resp.Paths {
		key := storage.ObjectKey(req.Tuple, path)

		exists, err := m.objects.Exists(ctx, key)
		if err != nil {
			return errors.Wrap(err, "failed to check object")
		}
		if exists {
			slog.Info("export_object_skipped", "s3_key", key)
			resp.Skipped = append(resp.Skipped, key)
			continue
		}

		if _, err := m.objects.Upload(ctx, key, path); err != nil {
			if fileMissing(path) {
				slog.Error("export_file_missing", "filepath", path)
				return fmt.Errorf("%w: %s", errMissingFile, path)
			}
			return errors.Wrap(err, "failed to upload image")
		}
		resp.Uploaded = append(resp.Uploaded, key)
	}
	return nil
}

func (m *Machine) complete(req *ExportRequest, resp *ExportResponse) {
	resp.Status = StatusComplete
	if len(resp.Paths) == 0 {
		resp.Status = StatusEmpty
	}

	slog.Info("fsm_complete",
		"identity", req.Tuple.String(),
		"bucket", req.Bucket,
		"status", resp.Status,
		"uploaded", len(resp.Uploaded),
		"skipped", len(resp.Skipped))

	if m.onComplete != nil {
		m.onComplete(*req, *resp)
	}
}

func fileMissing(path string) bool {
	_, err := os.Stat(path)
	return os.IsNotExist(err)
}
