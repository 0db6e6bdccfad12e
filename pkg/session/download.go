package session

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/gorilla/websocket"

	"github.com/fly-io/imageuploader/pkg/errors"
	"github.com/fly-io/imageuploader/pkg/identity"
)

// Selector looks up the stored files of an identity tuple.
type Selector interface {
	Select(ctx context.Context, t identity.Tuple) ([]string, error)
}

// Downloader serves previously stored images in both delivery modes.
type Downloader struct {
	store    Selector
	observer Observer
}

// NewDownloader creates a downloader backed by store. observer may be nil.
func NewDownloader(store Selector, observer Observer) *Downloader {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Downloader{store: store, observer: observer}
}

// Stream sends every file stored under tuple as one binary frame, in the
// order the store returns them, then closes the connection. A file that can
// no longer be read aborts the transfer.
func (d *Downloader) Stream(ctx context.Context, conn Conn, tuple identity.Tuple, remote string) (err error) {
	defer func() {
		conn.Close()
		d.observer.ObserveSession("download", result(err))
		if err != nil {
			slog.Error("download_connection_failed", "remote", remote, "identity", tuple.String(), "error", err)
			return
		}
		slog.Info("download_disconnected", "remote", remote, "username", tuple.Username)
	}()

	slog.Info("download_connection_new", "remote", remote, "identity", tuple.String())

	paths, err := d.store.Select(ctx, tuple)
	if err != nil {
		return errors.Wrap(err, "failed to select images")
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("download_read_failed", "filepath", path, "error", err)
			return errors.Wrap(err, "failed to read image")
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return transportError(err)
		}
	}

	closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteMessage(websocket.CloseMessage, closing); err != nil {
		return transportError(err)
	}

	slog.Info("download_stream_complete", "identity", tuple.String(), "count", len(paths))
	return nil
}

// Open looks up the files stored under tuple and returns their contents as one
// stream. Files are opened lazily as the reader advances; one that cannot be
// read fails the read at that point.
func (d *Downloader) Open(ctx context.Context, tuple identity.Tuple) (io.ReadCloser, int, error) {
	paths, err := d.store.Select(ctx, tuple)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to select images")
	}
	slog.Info("download_request_selected", "identity", tuple.String(), "count", len(paths))
	return &fileChain{paths: paths}, len(paths), nil
}

// fileChain reads a list of files back to back.
type fileChain struct {
	paths []string
	cur   *os.File
}

func (c *fileChain) Read(p []byte) (int, error) {
	for {
		if c.cur == nil {
			if len(c.paths) == 0 {
				return 0, io.EOF
			}
			f, err := os.Open(c.paths[0])
			if err != nil {
				slog.Error("download_read_failed", "filepath", c.paths[0], "error", err)
				return 0, errors.Wrap(err, "failed to open image")
			}
			c.paths = c.paths[1:]
			c.cur = f
		}

		n, err := c.cur.Read(p)
		if err == io.EOF {
			c.cur.Close()
			c.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			return n, errors.Wrap(err, "failed to read image")
		}
		return n, nil
	}
}

func (c *fileChain) Close() error {
	c.paths = nil
	if c.cur == nil {
		return nil
	}
	err := c.cur.Close()
	c.cur = nil
	return err
}
