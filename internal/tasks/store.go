package tasks

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config bounds the store. The zero value gets working defaults; negative
// MaxConcurrent or MaxTTL disables that limit entirely, and a negative
// SweepInterval disables the background sweep (expiry then happens lazily on
// reads plus explicit sweeps, which the tests use).
type Config struct {
	// MaxConcurrent caps non-terminal tasks per owner. Default 5.
	MaxConcurrent int
	// MaxTTL is the retention ceiling counted from creation. Requested
	// TTLs above it are clamped, and an absent request means "the
	// ceiling", never unlimited. Default 1h.
	MaxTTL time.Duration
	// SweepInterval is how often expired records are deleted. Default 1s.
	SweepInterval time.Duration
	// PageSize is the fixed List page length. Default 50.
	PageSize int
	// PollInterval is the advisory hint stamped on new tasks. Default 500ms.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 5
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = time.Hour
	}
	if c.MaxTTL < 0 {
		c.MaxTTL = 0 // no ceiling
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	return c
}

// effectiveTTL clamps a requested TTL to the configured ceiling. Zero or
// negative requests mean "no preference" and take the ceiling itself.
func (c Config) effectiveTTL(req time.Duration) time.Duration {
	if c.MaxTTL == 0 {
		if req < 0 {
			return 0
		}
		return req
	}
	if req <= 0 || req > c.MaxTTL {
		return c.MaxTTL
	}
	return req
}

// record is the live entry behind a task id. The store map, expiry heap and
// owner counters are guarded by Store.mu; everything inside one record is
// guarded by its own mutex so unrelated tasks never contend. Lock order is
// always Store.mu before record.mu, and never record.mu around Store.mu.
type record struct {
	mu   sync.Mutex
	task Task

	// Immutable after creation.
	seq       uint64
	expiresAt time.Time // zero means never expires
	ctx       context.Context
	cancel    context.CancelFunc
	resume    chan ResumeDecision

	heapIndex  int
	done       chan struct{}
	doneClosed bool
	evicted    bool
	started    bool
}

func (r *record) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && !now.Before(r.expiresAt)
}

func (r *record) closeDoneLocked() {
	if !r.doneClosed {
		close(r.done)
		r.doneClosed = true
	}
}

// Store is the concurrent task registry. Create one per server, close it on
// shutdown; Close cancels whatever is still running.
type Store struct {
	cfg      Config
	now      func() time.Time
	newID    func() string
	sink     EventSink
	progress ProgressSink

	mu       sync.RWMutex
	records  map[string]*record
	byExpiry expiryHeap
	owners   map[string]int // non-terminal tasks per owner
	nextSeq  uint64
	closed   bool

	// Lifetime counters, guarded by mu except denied.
	created   uint64
	completed uint64
	failed    uint64
	cancelled uint64
	evicted   uint64
	discarded uint64
	denied    atomic.Uint64

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// Option adjusts a Store at construction time.
type Option func(*Store)

// WithIDGenerator replaces the default UUID generator, mainly for tests.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// WithClock replaces the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEventSink registers the sink that receives task events.
func WithEventSink(sink EventSink) Option {
	return func(s *Store) { s.sink = sink }
}

// NewStore builds a Store and starts its expiry sweep.
func NewStore(cfg Config, opts ...Option) *Store {
	s := &Store{
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		newID:     uuid.NewString,
		records:   make(map[string]*record),
		owners:    make(map[string]int),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.SweepInterval > 0 {
		go s.sweepLoop()
	} else {
		close(s.sweepDone)
	}
	return s
}

// Create registers a new task in status working and returns its snapshot.
// The invocation itself starts when Execute is called with the new id.
func (s *Store) Create(owner, toolName string, args map[string]any, ttlReq time.Duration) (*Task, error) {
	if owner == "" {
		return nil, errors.New("empty owner identity")
	}

	ttl := s.cfg.effectiveTTL(ttlReq)
	now := s.now()
	ctx, cancel := context.WithCancel(context.Background())
	rec := &record{
		task: Task{
			ID:            s.newID(),
			Status:        StatusWorking,
			CreatedAt:     now,
			LastUpdatedAt: now,
			TTL:           ttl,
			PollInterval:  s.cfg.PollInterval,
			Owner:         owner,
			ToolName:      toolName,
			Arguments:     args,
		},
		ctx:       ctx,
		cancel:    cancel,
		resume:    make(chan ResumeDecision, 1),
		heapIndex: -1,
		done:      make(chan struct{}),
	}
	if ttl > 0 {
		rec.expiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, ErrStoreClosed
	}
	if s.cfg.MaxConcurrent > 0 && s.owners[owner] >= s.cfg.MaxConcurrent {
		n := s.owners[owner]
		s.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%d tasks already running: %w", n, ErrQuotaExceeded)
	}
	s.nextSeq++
	rec.seq = s.nextSeq
	s.records[rec.task.ID] = rec
	if !rec.expiresAt.IsZero() {
		heap.Push(&s.byExpiry, rec)
	}
	s.owners[owner]++
	s.created++
	s.mu.Unlock()

	s.emit(Event{
		Kind:   EventCreated,
		TaskID: rec.task.ID,
		Owner:  owner,
		Tool:   toolName,
		To:     StatusWorking,
		At:     now,
	})
	c := rec.task.Clone()
	return &c, nil
}

// Get returns a snapshot of the caller's task, or ErrNotFound.
func (s *Store) Get(id, caller string) (*Task, error) {
	rec, err := s.lookupOwned(id, caller)
	if err != nil {
		return nil, err
	}
	return s.snapshot(rec)
}

// Cancel requests cancellation of a non-terminal task and returns its
// current snapshot. The terminal cancelled status is applied by the
// executor once the invocation has actually stopped, so the returned
// snapshot may still be non-terminal. Cancelling a terminal task fails
// with ErrInvalidTransition and leaves its result untouched.
func (s *Store) Cancel(id, caller string) (*Task, error) {
	rec, err := s.lookupOwned(id, caller)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	if rec.evicted {
		rec.mu.Unlock()
		return nil, ErrNotFound
	}
	if st := rec.task.Status; st.Terminal() {
		rec.mu.Unlock()
		return nil, fmt.Errorf("task already %s: %w", st, ErrInvalidTransition)
	}
	c := rec.task.Clone()
	rec.mu.Unlock()

	rec.cancel()
	return &c, nil
}

// Resume delivers the decision for a task suspended in input_required. The
// suspended invocation picks it up and moves the task back to working or to
// a terminal state; the returned snapshot precedes that transition.
func (s *Store) Resume(id, caller string, d ResumeDecision) (*Task, error) {
	rec, err := s.lookupOwned(id, caller)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	if rec.evicted {
		rec.mu.Unlock()
		return nil, ErrNotFound
	}
	if st := rec.task.Status; st != StatusInputRequired {
		rec.mu.Unlock()
		return nil, fmt.Errorf("task is %s: %w", st, ErrNotSuspended)
	}
	c := rec.task.Clone()
	rec.mu.Unlock()

	select {
	case rec.resume <- d:
	default:
		return nil, fmt.Errorf("decision already delivered: %w", ErrNotSuspended)
	}
	return &c, nil
}

// Close stops the sweep, cancels every live invocation and evicts all
// records. Safe to call more than once.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	recs := make([]*record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.records = make(map[string]*record)
	s.byExpiry = nil
	s.owners = make(map[string]int)
	s.mu.Unlock()

	close(s.sweepStop)
	<-s.sweepDone

	live := 0
	for _, rec := range recs {
		rec.mu.Lock()
		if !rec.task.Status.Terminal() {
			live++
		}
		rec.evicted = true
		rec.closeDoneLocked()
		rec.mu.Unlock()
		rec.cancel()
	}
	log.Printf("TASKS: store closed, %d records dropped, %d still running were cancelled", len(recs), live)
}

// Stats is a point-in-time summary of the store, served on /health and
// logged at shutdown.
type Stats struct {
	Active        int    `json:"active"`
	Suspended     int    `json:"suspended"`
	Retained      int    `json:"retained"`
	Created       uint64 `json:"created"`
	Completed     uint64 `json:"completed"`
	Failed        uint64 `json:"failed"`
	Cancelled     uint64 `json:"cancelled"`
	Evicted       uint64 `json:"evicted"`
	DeniedLookups uint64 `json:"denied_lookups"`
	Discarded     uint64 `json:"discarded_results"`
}

// Stats counts current records by state plus lifetime totals.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Created:       s.created,
		Completed:     s.completed,
		Failed:        s.failed,
		Cancelled:     s.cancelled,
		Evicted:       s.evicted,
		Discarded:     s.discarded,
		DeniedLookups: s.denied.Load(),
	}
	for _, rec := range s.records {
		rec.mu.Lock()
		switch {
		case rec.task.Status == StatusInputRequired:
			st.Suspended++
			st.Active++
		case rec.task.Status.Terminal():
			st.Retained++
		default:
			st.Active++
		}
		rec.mu.Unlock()
	}
	return st
}

// lookupOwned resolves an id for a caller. Unknown ids, expired records and
// records owned by somebody else all come back as ErrNotFound; only a
// counter tells the denied case apart.
func (s *Store) lookupOwned(id, caller string) (*record, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	rec := s.records[id]
	s.mu.RUnlock()

	if rec == nil {
		return nil, ErrNotFound
	}
	if rec.task.Owner != caller { // Owner is immutable, no record lock needed
		s.denied.Add(1)
		return nil, ErrNotFound
	}
	if rec.expired(s.now()) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// lookup is the unguarded variant used by the executor's internal path.
func (s *Store) lookup(id string) *record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

func (s *Store) snapshot(rec *record) (*Task, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.evicted {
		return nil, ErrNotFound
	}
	c := rec.task.Clone()
	return &c, nil
}

// noteTerminal updates owner quota and lifetime counters after a terminal
// transition. Called without any record lock held.
func (s *Store) noteTerminal(owner string, to Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if n := s.owners[owner]; n > 1 {
		s.owners[owner] = n - 1
	} else {
		delete(s.owners, owner)
	}
	switch to {
	case StatusCompleted:
		s.completed++
	case StatusFailed:
		s.failed++
	case StatusCancelled:
		s.cancelled++
	}
}
