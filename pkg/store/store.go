// Package store owns the image metadata database. A single worker goroutine
// holds the only connection and applies requests one at a time in arrival order;
// everything else reaches the database by sending it messages.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fly-io/imageuploader/pkg/errors"
	"github.com/fly-io/imageuploader/pkg/identity"
)

// Default limits used when Options leaves them unset.
const (
	DefaultQueueSize      = 1024
	DefaultSelectTimeout  = 10 * time.Second
	DefaultEnqueueTimeout = 5 * time.Second
)

// Request outcomes reported to the Observer.
const (
	OutcomeApplied  = "applied"
	OutcomeDropped  = "dropped"
	OutcomeAnswered = "answered"
	OutcomeFailed   = "failed"
)

// Observer receives worker telemetry.
type Observer interface {
	ObserveRequest(kind, outcome string)
	ObserveQueueDepth(depth int)
}

type noopObserver struct{}

func (noopObserver) ObserveRequest(string, string) {}
func (noopObserver) ObserveQueueDepth(int)         {}

// Options configures a Store.
type Options struct {
	// Path of the SQLite database file.
	Path string
	// QueueSize bounds the number of requests waiting for the worker.
	QueueSize int
	// SelectTimeout is how long Select waits for the worker's reply.
	SelectTimeout time.Duration
	// EnqueueTimeout is how long a submitter waits for queue space.
	EnqueueTimeout time.Duration
	Observer       Observer
	// OnContractViolation is called by the worker when a request breaks the
	// message contract. The worker stops afterwards. Defaults to panicking,
	// which aborts the process.
	OnContractViolation func(error)
}

// Store is the handle to the metadata worker.
type Store struct {
	db   *sql.DB
	path string

	requests chan Request
	quit     chan struct{}
	done     chan struct{}
	// closing releases submitters blocked on a full queue once Shutdown begins.
	closing     chan struct{}
	closingOnce sync.Once

	// mu guards closed against in-flight submissions.
	mu     sync.RWMutex
	closed bool

	lifecycle sync.Mutex
	started   bool
	stopped   bool
	stopOnce  sync.Once
	closeOnce sync.Once

	selectTimeout  time.Duration
	enqueueTimeout time.Duration
	observer       Observer
	onViolation    func(error)
}

// Open opens or creates the database and ensures the schema exists.
// The worker is not running until Start is called.
func Open(opts Options) (*Store, error) {
	slog.Info("store_init", "db_path", opts.Path)

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		slog.Error("store_open_failed", "db_path", opts.Path, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}
	// The worker is the only user; one connection keeps every statement on it.
	db.SetMaxOpenConns(1)

	slog.Info("store_create_schema", "db_path", opts.Path)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("store_schema_failed", "db_path", opts.Path, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.SelectTimeout <= 0 {
		opts.SelectTimeout = DefaultSelectTimeout
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = DefaultEnqueueTimeout
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.OnContractViolation == nil {
		opts.OnContractViolation = func(err error) { panic(err) }
	}

	slog.Info("store_ready", "db_path", opts.Path, "queue_size", opts.QueueSize)
	return &Store{
		db:             db,
		path:           opts.Path,
		requests:       make(chan Request, opts.QueueSize),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		closing:        make(chan struct{}),
		selectTimeout:  opts.SelectTimeout,
		enqueueTimeout: opts.EnqueueTimeout,
		observer:       opts.Observer,
		onViolation:    opts.OnContractViolation,
	}, nil
}

// Start launches the worker. Calling it more than once has no effect.
func (s *Store) Start() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	slog.Info("store_worker_start", "db_path", s.path)
	go s.run()
}

// Shutdown stops accepting requests, lets the worker apply everything already
// queued, and closes the database. It returns early if ctx expires first.
func (s *Store) Shutdown(ctx context.Context) error {
	s.closingOnce.Do(func() { close(s.closing) })

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.lifecycle.Lock()
	s.stopped = true
	started := s.started
	s.lifecycle.Unlock()

	s.stopOnce.Do(func() { close(s.quit) })

	if !started {
		var err error
		s.closeOnce.Do(func() {
			if pending := len(s.requests); pending > 0 {
				slog.Warn("store_requests_discarded", "db_path", s.path, "pending", pending)
			}
			close(s.done)
			err = s.db.Close()
		})
		slog.Info("store_closed", "db_path", s.path, "started", false)
		return err
	}

	select {
	case <-s.done:
		slog.Info("store_closed", "db_path", s.path)
		return nil
	case <-ctx.Done():
		slog.Error("store_shutdown_timeout", "db_path", s.path, "pending", len(s.requests))
		return errors.Wrap(ctx.Err(), "store shutdown")
	}
}

// Done is closed once the worker has exited.
func (s *Store) Done() <-chan struct{} {
	return s.done
}

// Submit enqueues a request without waiting for it to be applied. It blocks
// while the queue is full, failing with ErrQueueFull after the enqueue timeout
// or when ctx ends, and with ErrStoreUnavailable once the worker has stopped.
func (s *Store) Submit(ctx context.Context, req Request) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("%w: store is shut down", errors.ErrStoreUnavailable)
	}
	select {
	case <-s.done:
		return fmt.Errorf("%w: worker has stopped", errors.ErrStoreUnavailable)
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, s.enqueueTimeout)
	defer cancel()

	select {
	case s.requests <- req:
		s.observer.ObserveQueueDepth(len(s.requests))
		return nil
	case <-s.done:
		return fmt.Errorf("%w: worker has stopped", errors.ErrStoreUnavailable)
	case <-s.closing:
		return fmt.Errorf("%w: store is shutting down", errors.ErrStoreUnavailable)
	case <-ctx.Done():
		slog.Warn("store_enqueue_timeout", "kind", req.Kind().String(), "queue_depth", len(s.requests))
		return fmt.Errorf("%w: %s: %v", errors.ErrQueueFull, req.Kind(), ctx.Err())
	}
}

// Insert enqueues a record for insertion. Execution failures are logged by
// the worker and never reported back.
func (s *Store) Insert(ctx context.Context, rec identity.Record) error {
	return s.Submit(ctx, InsertRequest{Record: rec})
}

// Update enqueues a filepath rewrite for the rows matching rec's tuple and id.
func (s *Store) Update(ctx context.Context, rec identity.Record) error {
	return s.Submit(ctx, UpdateRequest{Record: rec})
}

// Delete enqueues removal of the rows matching rec's tuple and id.
func (s *Store) Delete(ctx context.Context, rec identity.Record) error {
	return s.Submit(ctx, DeleteRequest{Record: rec})
}

// Select returns the filepaths stored under t, in insertion order. An empty
// result is not an error. If the worker does not answer within the select
// timeout the call fails with ErrStoreUnavailable.
func (s *Store) Select(ctx context.Context, t identity.Tuple) ([]string, error) {
	reply := make(chan []string, 1)
	if err := s.Submit(ctx, SelectRequest{Tuple: t, reply: reply}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.selectTimeout)
	defer timer.Stop()

	select {
	case paths, ok := <-reply:
		if !ok {
			return nil, fmt.Errorf("%w: select for %s failed", errors.ErrStoreUnavailable, t)
		}
		return paths, nil
	case <-s.done:
		// The worker may have answered right before exiting.
		select {
		case paths, ok := <-reply:
			if ok {
				return paths, nil
			}
		default:
		}
		return nil, fmt.Errorf("%w: worker stopped before answering", errors.ErrStoreUnavailable)
	case <-timer.C:
		slog.Error("store_select_timeout", "identity", t.String(), "timeout", s.selectTimeout)
		return nil, fmt.Errorf("%w: no reply within %s", errors.ErrStoreUnavailable, s.selectTimeout)
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "select cancelled")
	}
}

func (s *Store) run() {
	defer close(s.done)
	defer s.db.Close()

	for {
		select {
		case req := <-s.requests:
			if !s.handle(req) {
				return
			}
		case <-s.quit:
			s.drain()
			slog.Info("store_worker_stop", "db_path", s.path)
			return
		}
	}
}

func (s *Store) drain() {
	for {
		select {
		case req := <-s.requests:
			if !s.handle(req) {
				return
			}
		default:
			return
		}
	}
}

// handle applies one request. It returns false when the worker must stop.
func (s *Store) handle(req Request) bool {
	s.observer.ObserveQueueDepth(len(s.requests))

	switch r := req.(type) {
	case InsertRequest:
		if !s.checkRecord(KindInsert, r.Record) {
			return false
		}
		s.exec(KindInsert, r.Record, insertQuery,
			r.Record.Organization, r.Record.Username, r.Record.Mission, r.Record.ID, r.Record.Filepath)
	case UpdateRequest:
		if !s.checkRecord(KindUpdate, r.Record) {
			return false
		}
		s.exec(KindUpdate, r.Record, updateQuery,
			r.Record.Filepath, r.Record.Organization, r.Record.Username, r.Record.Mission, r.Record.ID)
	case DeleteRequest:
		if !s.checkRecord(KindDelete, r.Record) {
			return false
		}
		s.exec(KindDelete, r.Record, deleteQuery,
			r.Record.Organization, r.Record.Username, r.Record.Mission, r.Record.ID)
	case SelectRequest:
		if r.reply == nil {
			s.violate(fmt.Errorf("%w: select without a reply channel", errors.ErrContractViolation))
			return false
		}
		s.query(r)
	default:
		s.violate(fmt.Errorf("%w: unknown request %T", errors.ErrContractViolation, req))
		return false
	}
	return true
}

func (s *Store) checkRecord(kind Kind, rec identity.Record) bool {
	if rec.ID == "" || rec.Filepath == "" {
		s.violate(fmt.Errorf("%w: %s called without id or filepath (id=%q filepath=%q)",
			errors.ErrContractViolation, kind, rec.ID, rec.Filepath))
		return false
	}
	return true
}

func (s *Store) violate(err error) {
	slog.Error("store_contract_violation", "db_path", s.path, "error", err)
	s.onViolation(err)
}

func (s *Store) exec(kind Kind, rec identity.Record, query string, args ...any) {
	result, err := s.db.Exec(query, args...)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", errors.ErrStoreExecution, kind, err)
		slog.Error("store_statement_failed",
			"kind", kind.String(),
			"identity", rec.Tuple.String(),
			"id", rec.ID,
			"error", err)
		s.observer.ObserveRequest(kind.String(), OutcomeDropped)
		return
	}

	rows, _ := result.RowsAffected()
	slog.Info("store_statement_applied",
		"kind", kind.String(),
		"identity", rec.Tuple.String(),
		"id", rec.ID,
		"rows", rows)
	s.observer.ObserveRequest(kind.String(), OutcomeApplied)
}

func (s *Store) query(req SelectRequest) {
	paths, err := s.selectPaths(req.Tuple)
	if err != nil {
		slog.Error("store_select_failed", "identity", req.Tuple.String(), "error", err)
		s.observer.ObserveRequest(KindSelect.String(), OutcomeFailed)
		close(req.reply)
		return
	}

	slog.Info("store_select_answered", "identity", req.Tuple.String(), "count", len(paths))
	s.observer.ObserveRequest(KindSelect.String(), OutcomeAnswered)
	req.reply <- paths
}

func (s *Store) selectPaths(t identity.Tuple) ([]string, error) {
	rows, err := s.db.Query(selectQuery, t.Organization, t.Username, t.Mission)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query images")
	}
	defer rows.Close()

	paths := []string{}
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return paths, nil
}
