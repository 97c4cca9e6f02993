package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource hands out one response per Progress call, waiting until the
// test provides it. This makes delivery order fully deterministic.
type scriptedSource struct {
	responses   chan response
	calls       atomic.Int32
	cancels     atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	started     chan struct{}
	quit        chan struct{}
	cancelErr   error
}

type response struct {
	snap Snapshot
	err  error
}

func newScriptedSource(t *testing.T) *scriptedSource {
	s := &scriptedSource{
		responses: make(chan response),
		started:   make(chan struct{}, 64),
		quit:      make(chan struct{}),
	}
	t.Cleanup(func() { close(s.quit) })
	return s
}

func (s *scriptedSource) Progress(ctx context.Context, jobID string) (Snapshot, error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxInFlight.Load()
		if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	select {
	case s.started <- struct{}{}:
	default:
	}

	select {
	case r := <-s.responses:
		return r.snap, r.err
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-s.quit:
		return Snapshot{}, errors.New("test finished")
	}
}

func (s *scriptedSource) Cancel(ctx context.Context, jobID string) error {
	s.cancels.Add(1)
	return s.cancelErr
}

func (s *scriptedSource) respond(t *testing.T, snap Snapshot, err error) {
	t.Helper()
	if !s.send(snap, err) {
		t.Fatal("tracker never issued the expected poll")
	}
}

// send is safe to call from helper goroutines.
func (s *scriptedSource) send(snap Snapshot, err error) bool {
	select {
	case s.responses <- response{snap: snap, err: err}:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func receive(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
		return Snapshot{}
	}
}

func TestTracker_DeliversSequenceAndStopsOnDone(t *testing.T) {
	src := newScriptedSource(t)
	tr := New(src, WithInterval(time.Millisecond))
	ch, unsubscribe := tr.Subscribe()
	defer unsubscribe()

	require.NoError(t, tr.Start(context.Background(), "job-1"))

	script := []Snapshot{
		{Status: StatusQueued},
		{Status: StatusProcessing, Progress: 30},
		{Status: StatusProcessing, Progress: 70},
		{Status: StatusDone, Progress: 100, ResultURL: "http://cdn/out.mp4"},
	}

	var got []Snapshot
	for _, want := range script {
		src.respond(t, want, nil)
		got = append(got, receive(t, ch))
	}

	require.Len(t, got, 4)
	for i, snap := range got {
		assert.Equal(t, "job-1", snap.JobID)
		assert.Equal(t, script[i].Status, snap.Status)
		assert.Equal(t, script[i].Progress, snap.Progress)
		assert.False(t, snap.FetchedAt.IsZero())
	}

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("polling did not stop after done")
	}
	assert.False(t, tr.Running())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(4), src.calls.Load(), "no poll after terminal snapshot")

	latest, ok := tr.Latest("job-1")
	require.True(t, ok)
	assert.Equal(t, "http://cdn/out.mp4", latest.ResultURL)
}

func TestTracker_TransientFailureIsSwallowed(t *testing.T) {
	src := newScriptedSource(t)
	tr := New(src, WithInterval(time.Millisecond))
	ch, unsubscribe := tr.Subscribe()
	defer unsubscribe()

	require.NoError(t, tr.Start(context.Background(), "job-2"))
	defer tr.Stop()

	src.respond(t, Snapshot{Status: StatusQueued}, nil)
	assert.Equal(t, StatusQueued, receive(t, ch).Status)

	src.respond(t, Snapshot{}, errors.New("connection reset"))

	// The next tick still happens and its value is delivered.
	src.respond(t, Snapshot{Status: StatusProcessing, Progress: 50}, nil)
	snap := receive(t, ch)
	assert.Equal(t, StatusProcessing, snap.Status)
	assert.Empty(t, snap.Error)
	assert.True(t, tr.Running())
	assert.GreaterOrEqual(t, src.calls.Load(), int32(3))
}

func TestTracker_FailedJobIsFinalSnapshot(t *testing.T) {
	src := newScriptedSource(t)
	tr := New(src, WithInterval(time.Millisecond))

	go func() {
		src.send(Snapshot{Status: StatusProcessing, Progress: 10}, nil)
		src.send(Snapshot{Status: StatusFailed, Error: "voice model unavailable"}, nil)
	}()

	snap, err := tr.Watch(context.Background(), "job-3")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "voice model unavailable", snap.Error)
	assert.False(t, tr.Running())
}

func TestTracker_CancelDiscardsLateResponse(t *testing.T) {
	src := newScriptedSource(t)
	tr := New(src, WithInterval(time.Millisecond))
	ch, unsubscribe := tr.Subscribe()
	defer unsubscribe()

	require.NoError(t, tr.Start(context.Background(), "job-4"))
	src.respond(t, Snapshot{Status: StatusProcessing, Progress: 20}, nil)
	receive(t, ch)

	// The first fetch has returned by the time its snapshot is delivered, so
	// one request in flight means the second poll is outstanding.
	require.Eventually(t, func() bool { return src.inFlight.Load() == 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, tr.Cancel(context.Background(), "job-4"))
	assert.Equal(t, int32(1), src.cancels.Load())

	_, ok := tr.Latest("job-4")
	assert.False(t, ok, "cached snapshot must be invalidated")

	// The late response resolves after cancellation.
	src.respond(t, Snapshot{Status: StatusProcessing, Progress: 90}, nil)

	assert.Never(t, func() bool { return len(ch) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	_, ok = tr.Latest("job-4")
	assert.False(t, ok)
	assert.False(t, tr.Running())
}

func TestTracker_CancelStopsEvenWhenRequestFails(t *testing.T) {
	src := newScriptedSource(t)
	src.cancelErr = errors.New("503")
	tr := New(src, WithInterval(time.Millisecond))

	require.NoError(t, tr.Start(context.Background(), "job-5"))
	err := tr.Cancel(context.Background(), "job-5")
	require.Error(t, err)
	assert.ErrorIs(t, err, src.cancelErr)
	assert.False(t, tr.Running())
}

func TestTracker_StopDiscardsInFlight(t *testing.T) {
	src := newScriptedSource(t)
	tr := New(src, WithInterval(time.Millisecond))
	ch, unsubscribe := tr.Subscribe()
	defer unsubscribe()

	require.NoError(t, tr.Start(context.Background(), "job-6"))
	<-src.started
	tr.Stop()

	src.respond(t, Snapshot{Status: StatusDone}, nil)
	assert.Never(t, func() bool { return len(ch) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	_, ok := tr.Latest("job-6")
	assert.False(t, ok)
}

// slowSource takes longer than the interval on every call.
type slowSource struct {
	delay       time.Duration
	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	fail        bool
}

func (s *slowSource) Progress(ctx context.Context, jobID string) (Snapshot, error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxInFlight.Load()
		if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(s.delay)
	if s.fail {
		return Snapshot{}, errors.New("unreachable")
	}
	return Snapshot{Status: StatusProcessing}, nil
}

func (s *slowSource) Cancel(ctx context.Context, jobID string) error { return nil }

func TestTracker_SingleFlight(t *testing.T) {
	src := &slowSource{delay: 10 * time.Millisecond}
	tr := New(src, WithInterval(time.Millisecond))

	require.NoError(t, tr.Start(context.Background(), "job-7"))
	time.Sleep(100 * time.Millisecond)
	tr.Stop()

	assert.Equal(t, int32(1), src.maxInFlight.Load())
	assert.Less(t, src.calls.Load(), int32(20), "ticks during a fetch are skipped, not queued")
	assert.GreaterOrEqual(t, src.calls.Load(), int32(2))
}

func TestTracker_SingleFlightAcrossRestart(t *testing.T) {
	src := &slowSource{delay: 80 * time.Millisecond}
	tr := New(src, WithInterval(time.Millisecond))

	require.NoError(t, tr.Start(context.Background(), "job-7b"))
	require.Eventually(t, func() bool { return src.inFlight.Load() == 1 }, time.Second, time.Millisecond)
	tr.Stop()

	require.NoError(t, tr.Start(context.Background(), "job-7b"))
	defer tr.Stop()
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, int32(1), src.calls.Load(), "new run waits for the old request")
	assert.Equal(t, int32(1), src.maxInFlight.Load())

	// Once the old request returns, the new run polls again.
	require.Eventually(t, func() bool { return src.calls.Load() >= 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), src.maxInFlight.Load())
}

func TestTracker_BackoffSlowsRepeatedFailures(t *testing.T) {
	plain := &slowSource{fail: true}
	tr := New(plain, WithInterval(2*time.Millisecond))
	require.NoError(t, tr.Start(context.Background(), "job-8"))
	time.Sleep(150 * time.Millisecond)
	tr.Stop()

	backed := &slowSource{fail: true}
	tr = New(backed, WithInterval(2*time.Millisecond), WithMaxBackoff(40*time.Millisecond))
	require.NoError(t, tr.Start(context.Background(), "job-8"))
	time.Sleep(150 * time.Millisecond)
	tr.Stop()

	assert.GreaterOrEqual(t, backed.calls.Load(), int32(3), "polling resumes after backing off")
	assert.Less(t, backed.calls.Load(), plain.calls.Load())
}

func TestTracker_StartValidation(t *testing.T) {
	tr := New(newScriptedSource(t))
	assert.ErrorIs(t, tr.Start(context.Background(), ""), ErrEmptyJobID)
	assert.ErrorIs(t, tr.Cancel(context.Background(), ""), ErrEmptyJobID)
	assert.Equal(t, DefaultInterval, tr.Interval())
}

func TestTracker_StartReplacesRun(t *testing.T) {
	src := newScriptedSource(t)
	tr := New(src, WithInterval(time.Millisecond))
	ch, unsubscribe := tr.Subscribe()
	defer unsubscribe()

	require.NoError(t, tr.Start(context.Background(), "old"))
	<-src.started
	require.NoError(t, tr.Start(context.Background(), "new"))
	defer tr.Stop()

	// Both the stale fetch for "old" and the first fetch for "new" are waiting.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		src.send(Snapshot{Status: StatusProcessing, Progress: 5}, nil)
		src.send(Snapshot{Status: StatusProcessing, Progress: 5}, nil)
	}()

	snap := receive(t, ch)
	assert.Equal(t, "new", snap.JobID)
	wg.Wait()
	_, ok := tr.Latest("old")
	assert.False(t, ok)
}

func TestTracker_ContextEndsRun(t *testing.T) {
	src := &slowSource{delay: time.Millisecond}
	tr := New(src, WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tr.Start(ctx, "job-9"))
	done := tr.Done()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not end with its context")
	}
	assert.False(t, tr.Running())
}

func TestTracker_WatchContextCancelled(t *testing.T) {
	src := newScriptedSource(t)
	tr := New(src, WithInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Watch(ctx, "job-10")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, tr.Running())
}

func TestTracker_WatchFuncReportsEachSnapshot(t *testing.T) {
	src := newScriptedSource(t)
	tr := New(src, WithInterval(time.Millisecond))

	seen := make(chan Snapshot, 8)
	type outcome struct {
		snap Snapshot
		err  error
	}
	result := make(chan outcome, 1)
	go func() {
		snap, err := tr.WatchFunc(context.Background(), "job-12", func(s Snapshot) { seen <- s })
		result <- outcome{snap, err}
	}()

	src.respond(t, Snapshot{Status: StatusQueued}, nil)
	assert.Equal(t, StatusQueued, receive(t, seen).Status)
	src.respond(t, Snapshot{Status: StatusProcessing, Progress: 50}, nil)
	assert.Equal(t, 50.0, receive(t, seen).Progress)
	src.respond(t, Snapshot{Status: StatusDone, Progress: 100}, nil)
	last := receive(t, seen)
	assert.Equal(t, StatusDone, last.Status)
	assert.Equal(t, "job-12", last.JobID)

	select {
	case out := <-result:
		require.NoError(t, out.err)
		assert.Equal(t, last, out.snap)
	case <-time.After(2 * time.Second):
		t.Fatal("WatchFunc did not return")
	}
}

func TestTracker_SubscribeSeedsLatest(t *testing.T) {
	src := newScriptedSource(t)
	tr := New(src, WithInterval(time.Millisecond))
	first, unsubscribe := tr.Subscribe()
	defer unsubscribe()

	require.NoError(t, tr.Start(context.Background(), "job-11"))
	defer tr.Stop()
	src.respond(t, Snapshot{Status: StatusProcessing, Progress: 42}, nil)
	receive(t, first)

	late, unsubscribeLate := tr.Subscribe()
	assert.Equal(t, 42.0, receive(t, late).Progress)
	unsubscribeLate()
	unsubscribeLate()

	_, open := <-late
	assert.False(t, open)
}
