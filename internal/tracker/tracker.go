// Package tracker follows a generation job by polling its progress endpoint
// until the job settles.
//
// At most one status request is outstanding per job at any time, across
// restarts: a tick that fires while a request is still in flight is skipped,
// not queued.
// Results that arrive after Stop or Cancel are discarded.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mark3labs/reelsmith/internal/logger"
)

const (
	DefaultInterval     = 2 * time.Second
	DefaultFetchTimeout = 30 * time.Second
)

var (
	// ErrEmptyJobID is returned when a job id is required but missing.
	ErrEmptyJobID = errors.New("job id is required")
	// ErrStopped is returned by Watch when polling ends without a terminal snapshot.
	ErrStopped = errors.New("tracking stopped before the job settled")
)

// Tracker polls one job at a time and fans snapshots out to subscribers.
type Tracker struct {
	source       Source
	interval     time.Duration
	fetchTimeout time.Duration
	maxBackoff   time.Duration

	mu       sync.Mutex
	active   *run
	cache    map[string]Snapshot
	subs     map[int]chan Snapshot
	nextSub  int
	inflight map[string]*atomic.Bool // per job; outlives the run that set it
}

// run is the state of one Start call. A run's pointer identity is the token
// that decides whether a fetched snapshot may still be published.
type run struct {
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by whichever goroutine holds the job's in-flight guard.
	failures  int
	notBefore time.Time
	backoff   backoff.BackOff
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithFetchTimeout bounds each status request.
func WithFetchTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.fetchTimeout = d
		}
	}
}

// WithMaxBackoff enables capped exponential backoff after consecutive fetch
// failures. Zero keeps every tick on schedule.
func WithMaxBackoff(d time.Duration) Option {
	return func(t *Tracker) {
		if d >= 0 {
			t.maxBackoff = d
		}
	}
}

// New creates a Tracker reading from src.
func New(src Source, opts ...Option) *Tracker {
	t := &Tracker{
		source:       src,
		interval:     DefaultInterval,
		fetchTimeout: DefaultFetchTimeout,
		cache:        make(map[string]Snapshot),
		subs:         make(map[int]chan Snapshot),
		inflight:     make(map[string]*atomic.Bool),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Interval returns the configured polling interval.
func (t *Tracker) Interval() time.Duration { return t.interval }

func (t *Tracker) newBackoff() backoff.BackOff {
	if t.maxBackoff <= t.interval {
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.interval
	b.MaxInterval = t.maxBackoff
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0 // never give up
	b.Reset()
	return b
}

// Start begins polling jobID. Any run already in progress is stopped first.
// The run ends on a terminal snapshot, Stop, Cancel, or when ctx is done.
func (t *Tracker) Start(ctx context.Context, jobID string) error {
	if jobID == "" {
		return ErrEmptyJobID
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		jobID:   jobID,
		cancel:  cancel,
		done:    make(chan struct{}),
		backoff: t.newBackoff(),
	}

	t.mu.Lock()
	t.stopLocked()
	t.active = r
	t.mu.Unlock()

	logger.Info("Tracking job %s every %s", jobID, t.interval)
	go t.loop(runCtx, r)
	return nil
}

// Stop halts polling. A request already in flight completes but its result
// is never published.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Tracker) stopLocked() {
	if t.active == nil {
		return
	}
	logger.Debug("Stopping tracking of job %s", t.active.jobID)
	t.active.cancel()
	t.active = nil
}

// Cancel stops polling, drops the cached snapshot for jobID, and sends one
// cancel request to the backend. Polling stops even if the request fails.
func (t *Tracker) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return ErrEmptyJobID
	}

	t.mu.Lock()
	t.stopLocked()
	delete(t.cache, jobID)
	t.mu.Unlock()

	logger.Info("Cancelling job %s", jobID)
	if err := t.source.Cancel(ctx, jobID); err != nil {
		logger.Error("Cancel request for job %s failed: %v", jobID, err)
		return fmt.Errorf("cancelling job %s: %w", jobID, err)
	}
	return nil
}

// Running reports whether a poll loop is active.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active != nil
}

// Done returns a channel closed when the current run's loop exits. With no
// active run the returned channel is already closed.
func (t *Tracker) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != nil {
		return t.active.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Latest returns the cached snapshot for jobID.
func (t *Tracker) Latest(jobID string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, ok := t.cache[jobID]
	return snap, ok
}

// Subscribe returns a channel carrying the latest snapshot. A slow reader may
// miss intermediate values but always finds the most recent one waiting.
// The returned func unsubscribes and closes the channel.
func (t *Tracker) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	if t.active != nil {
		if snap, ok := t.cache[t.active.jobID]; ok {
			ch <- snap
		}
	}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}
}

// Watch tracks jobID until it settles and returns the terminal snapshot.
// If ctx ends first, polling is stopped and ctx.Err() is returned.
func (t *Tracker) Watch(ctx context.Context, jobID string) (Snapshot, error) {
	return t.WatchFunc(ctx, jobID, nil)
}

// WatchFunc is Watch with a callback invoked for every snapshot of jobID
// delivered along the way, the terminal one included. fn may be nil.
func (t *Tracker) WatchFunc(ctx context.Context, jobID string, fn func(Snapshot)) (Snapshot, error) {
	ch, unsubscribe := t.Subscribe()
	defer unsubscribe()

	if err := t.Start(ctx, jobID); err != nil {
		return Snapshot{}, err
	}
	done := t.Done()

	for {
		select {
		case <-ctx.Done():
			t.Stop()
			return Snapshot{}, ctx.Err()
		case snap := <-ch:
			if snap.JobID != jobID {
				continue
			}
			if fn != nil {
				fn(snap)
			}
			if snap.Status.IsTerminal() {
				return snap, nil
			}
		case <-done:
			if snap, ok := t.Latest(jobID); ok && snap.Status.IsTerminal() {
				return snap, nil
			}
			return Snapshot{}, ErrStopped
		}
	}
}

func (t *Tracker) loop(ctx context.Context, r *run) {
	defer close(r.done)
	defer func() {
		t.mu.Lock()
		if t.active == r {
			t.active = nil
		}
		t.mu.Unlock()
		r.cancel()
	}()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.tick(ctx, r)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx, r)
		}
	}
}

// guard returns the in-flight flag for jobID. It is shared by every run of
// that job, so a request left over from a stopped run still blocks the next.
func (t *Tracker) guard(jobID string) *atomic.Bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.inflight[jobID]
	if !ok {
		g = new(atomic.Bool)
		t.inflight[jobID] = g
	}
	return g
}

// tick issues one fetch unless one is outstanding for the job or backoff
// says wait.
func (t *Tracker) tick(ctx context.Context, r *run) {
	g := t.guard(r.jobID)
	if !g.CompareAndSwap(false, true) {
		logger.Debug("Skipping poll of job %s: request still in flight", r.jobID)
		return
	}
	if ctx.Err() != nil || time.Now().Before(r.notBefore) {
		g.Store(false)
		return
	}

	// The request outlives Stop; its result is filtered in publish.
	go t.fetch(context.WithoutCancel(ctx), r, g)
}

func (t *Tracker) fetch(ctx context.Context, r *run, g *atomic.Bool) {
	defer g.Store(false)

	ctx, cancel := context.WithTimeout(ctx, t.fetchTimeout)
	defer cancel()

	snap, err := t.source.Progress(ctx, r.jobID)
	if err != nil {
		r.failures++
		if r.backoff != nil {
			// The regular tick already waits one interval.
			if extra := r.backoff.NextBackOff() - t.interval; extra > 0 {
				r.notBefore = time.Now().Add(extra)
			}
		}
		logger.Warn("Poll of job %s failed (%d in a row): %v", r.jobID, r.failures, err)
		return
	}

	if r.failures > 0 {
		logger.Info("Poll of job %s recovered after %d failure(s)", r.jobID, r.failures)
	}
	r.failures = 0
	r.notBefore = time.Time{}
	if r.backoff != nil {
		r.backoff.Reset()
	}

	if snap.JobID == "" {
		snap.JobID = r.jobID
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now()
	}
	t.publish(r, snap)
}

func (t *Tracker) publish(r *run, snap Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active != r {
		logger.Debug("Discarding late snapshot for job %s (status=%s)", r.jobID, snap.Status)
		return
	}

	t.cache[r.jobID] = snap
	for _, ch := range t.subs {
		offer(ch, snap)
	}
	logger.Debug("Job %s: status=%s progress=%.1f%%", r.jobID, snap.Status, snap.Percent())

	if snap.Status.IsTerminal() {
		if snap.Status == StatusFailed {
			logger.Warn("Job %s failed: %s", r.jobID, snap.Error)
		} else {
			logger.Info("Job %s settled: %s", r.jobID, snap.Status)
		}
		t.stopLocked()
	}
}

// offer replaces whatever is buffered in ch with snap. Callers hold t.mu,
// so there is a single writer per channel.
func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
