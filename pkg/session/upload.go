package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fly-io/imageuploader/pkg/errors"
	"github.com/fly-io/imageuploader/pkg/identity"
	"github.com/fly-io/imageuploader/pkg/normalize"
	"github.com/fly-io/imageuploader/pkg/security"
)

// State is the lifecycle position of an upload session.
type State int

const (
	StateAwaitingIdentity State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingIdentity:
		return "awaiting_identity"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Normalizer turns one image payload into a canonical file inside dir.
type Normalizer interface {
	Normalize(data []byte, dir string) (*normalize.Result, error)
}

// Inserter accepts records without reporting whether they were applied.
type Inserter interface {
	Insert(ctx context.Context, rec identity.Record) error
}

// Uploader holds what every upload session shares.
type Uploader struct {
	root       string
	normalizer Normalizer
	store      Inserter
	resolver   *identity.Resolver
	validator  *security.Validator
	observer   Observer
}

// NewUploader creates an uploader writing images under root.
// observer may be nil.
func NewUploader(
	root string,
	normalizer Normalizer,
	store Inserter,
	resolver *identity.Resolver,
	validator *security.Validator,
	observer Observer,
) *Uploader {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Uploader{
		root:       root,
		normalizer: normalizer,
		store:      store,
		resolver:   resolver,
		validator:  validator,
		observer:   observer,
	}
}

// Upload is one ingestion connection.
type Upload struct {
	*Uploader

	conn   Conn
	remote string

	state  State
	tuple  identity.Tuple
	stored int
	err    error
}

// NewSession starts an upload session on conn in StateAwaitingIdentity.
func (u *Uploader) NewSession(conn Conn, remote string) *Upload {
	return &Upload{
		Uploader: u,
		conn:     conn,
		remote:   remote,
		state:    StateAwaitingIdentity,
	}
}

// State returns where the session is in its lifecycle.
func (s *Upload) State() State { return s.state }

// Err returns why a closed session failed, or nil if it closed normally.
func (s *Upload) Err() error { return s.err }

// Stored returns how many frames were stored.
func (s *Upload) Stored() int { return s.stored }

// Run drives the session until the client closes or a frame fails.
// If tuple is nil the identity is read from the first frame.
// Any failure ends the whole session; the connection is always closed on return.
func (s *Upload) Run(ctx context.Context, tuple *identity.Tuple) (err error) {
	defer func() { s.close(err) }()

	slog.Info("upload_connection_new", "remote", s.remote)

	t, err := s.awaitIdentity(tuple)
	if err != nil {
		return err
	}
	s.tuple = t

	dir := t.Dir(s.root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("upload_dir_creation_failed", "path", dir, "error", err)
		return errors.Wrap(err, "failed to create image directory")
	}

	s.state = StateStreaming
	slog.Info("upload_streaming", "remote", s.remote, "identity", t.String(), "dir", dir)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if isCloseFrame(err) {
				return nil
			}
			return transportError(err)
		}

		if err := s.storeFrame(ctx, dir, payload); err != nil {
			s.observer.ObserveFrameRejected(rejectReason(err))
			return err
		}
	}
}

func (s *Upload) awaitIdentity(tuple *identity.Tuple) (identity.Tuple, error) {
	if tuple != nil {
		return *tuple, nil
	}

	_, payload, err := s.conn.ReadMessage()
	if err != nil {
		if isCloseFrame(err) {
			return identity.Tuple{}, fmt.Errorf("%w: did not receive credentials", errors.ErrCredential)
		}
		return identity.Tuple{}, transportError(err)
	}
	return s.resolver.FromFrame(payload)
}

// storeFrame normalizes one payload, then enqueues its record. It does not
// wait for the record to be applied.
func (s *Upload) storeFrame(ctx context.Context, dir string, payload []byte) error {
	if err := s.validator.ValidateFrameSize(int64(len(payload))); err != nil {
		return err
	}

	res, err := s.normalizer.Normalize(payload, dir)
	if err != nil {
		return errors.Wrap(err, "failed to normalize frame")
	}

	rec, err := identity.NewRecord(s.tuple, res.ID, res.Filepath)
	if err != nil {
		return err
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		slog.Error("upload_insert_enqueue_failed", "identity", s.tuple.String(), "id", res.ID, "error", err)
		return errors.Wrap(err, "failed to enqueue insert")
	}

	s.stored++
	s.observer.ObserveFrameStored(res.Size)
	slog.Info("upload_frame_stored", "identity", s.tuple.String(), "id", res.ID, "filepath", res.Filepath)
	return nil
}

func (s *Upload) close(err error) {
	s.state = StateClosed
	s.err = err
	s.conn.Close()
	s.observer.ObserveSession("upload", result(err))

	if err != nil {
		slog.Error("upload_connection_failed",
			"remote", s.remote,
			"identity", s.tuple.String(),
			"stored", s.stored,
			"error", err)
		return
	}
	slog.Info("upload_disconnected", "remote", s.remote, "username", s.tuple.Username, "stored", s.stored)
}
