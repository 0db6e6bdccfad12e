package fsm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fly-io/imageuploader/pkg/errors"
	"github.com/fly-io/imageuploader/pkg/identity"
	"github.com/fly-io/imageuploader/pkg/storage"
)

var tupleA = identity.Tuple{Organization: "A", Username: "u1", Mission: "m1"}

type fakeSelector struct {
	paths []string
	err   error
}

func (f fakeSelector) Select(context.Context, identity.Tuple) ([]string, error) {
	return f.paths, f.err
}

type fakeBucket struct {
	objects   map[string]bool
	uploadErr error
	uploads   []string
}

func (b *fakeBucket) Exists(_ context.Context, key string) (bool, error) {
	return b.objects[key], nil
}

func (b *fakeBucket) Upload(_ context.Context, key, localPath string) (*storage.UploadResult, error) {
	if b.uploadErr != nil {
		return nil, b.uploadErr
	}
	if _, err := os.Stat(localPath); err != nil {
		return nil, err
	}
	b.objects[key] = true
	b.uploads = append(b.uploads, key)
	return &storage.UploadResult{Key: key}, nil
}

func writeImages(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte(n), 0644))
		paths = append(paths, p)
	}
	return paths
}

func TestSelectPaths(t *testing.T) {
	paths := writeImages(t, "a.png", "b.png")
	m := NewMachine(fakeSelector{paths: paths}, &fakeBucket{}, 3, nil)

	resp := &ExportResponse{}
	require.NoError(t, m.selectPaths(context.Background(), &ExportRequest{Tuple: tupleA}, resp))
	assert.Equal(t, paths, resp.Paths)
}

func TestSelectPathsStoreUnavailable(t *testing.T) {
	m := NewMachine(fakeSelector{err: errors.ErrStoreUnavailable}, &fakeBucket{}, 3, nil)

	err := m.selectPaths(context.Background(), &ExportRequest{Tuple: tupleA}, &ExportResponse{})
	assert.True(t, errors.Is(err, errors.ErrStoreUnavailable))
}

func TestUploadPathsSkipsExisting(t *testing.T) {
	paths := writeImages(t, "a.png", "b.png", "c.png")
	bucket := &fakeBucket{objects: map[string]bool{"A/u1/m1/b.png": true}}
	m := NewMachine(fakeSelector{}, bucket, 3, nil)

	resp := &ExportResponse{Paths: paths}
	require.NoError(t, m.uploadPaths(context.Background(), &ExportRequest{Tuple: tupleA}, resp))

	assert.Equal(t, []string{"A/u1/m1/a.png", "A/u1/m1/c.png"}, resp.Uploaded)
	assert.Equal(t, []string{"A/u1/m1/b.png"}, resp.Skipped)
	assert.Equal(t, resp.Uploaded, bucket.uploads)
}

func TestUploadPathsRerun(t *testing.T) {
	paths := writeImages(t, "a.png", "b.png")
	bucket := &fakeBucket{objects: map[string]bool{}}
	m := NewMachine(fakeSelector{}, bucket, 3, nil)
	req := &ExportRequest{Tuple: tupleA}

	resp := &ExportResponse{Paths: paths}
	require.NoError(t, m.uploadPaths(context.Background(), req, resp))
	require.NoError(t, m.uploadPaths(context.Background(), req, resp))

	assert.Empty(t, resp.Uploaded)
	assert.Len(t, resp.Skipped, 2)
	assert.Len(t, bucket.uploads, 2)
}

func TestUploadPathsMissingFile(t *testing.T) {
	paths := writeImages(t, "a.png", "b.png")
	require.NoError(t, os.Remove(paths[1]))
	bucket := &fakeBucket{objects: map[string]bool{}}
	m := NewMachine(fakeSelector{}, bucket, 3, nil)

	err := m.uploadPaths(context.Background(), &ExportRequest{Tuple: tupleA}, &ExportResponse{Paths: paths})
	assert.True(t, errors.Is(err, errMissingFile))
	assert.Equal(t, []string{"A/u1/m1/a.png"}, bucket.uploads)
}

func TestUploadPathsBucketFailure(t *testing.T) {
	paths := writeImages(t, "a.png")
	bucket := &fakeBucket{objects: map[string]bool{}, uploadErr: errors.New("slow down")}
	m := NewMachine(fakeSelector{}, bucket, 3, nil)

	err := m.uploadPaths(context.Background(), &ExportRequest{Tuple: tupleA}, &ExportResponse{Paths: paths})
	require.Error(t, err)
	assert.False(t, errors.Is(err, errMissingFile))
}

func TestComplete(t *testing.T) {
	tests := []struct {
		name   string
		paths  []string
		status string
	}{
		{"with images", []string{"x.png"}, StatusComplete},
		{"nothing stored", nil, StatusEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ExportResponse
			m := NewMachine(fakeSelector{}, &fakeBucket{}, 3, func(_ ExportRequest, resp ExportResponse) { got = resp })

			resp := &ExportResponse{Paths: tt.paths}
			m.complete(&ExportRequest{Tuple: tupleA, Bucket: "archive"}, resp)

			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.status, got.Status)
		})
	}
}
