package joblog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark3labs/reelsmith/internal/nats"
	"github.com/mark3labs/reelsmith/internal/tracker"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	bus, err := nats.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	store, err := New(context.Background(), bus.JS)
	require.NoError(t, err)
	return store
}

func snap(jobID string, status tracker.Status, progress float64) tracker.Snapshot {
	return tracker.Snapshot{JobID: jobID, Status: status, Progress: progress, FetchedAt: time.Now().UTC()}
}

func TestAppendAndHistory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, snap("job-a", tracker.StatusQueued, 0)))
	require.NoError(t, store.Append(ctx, snap("job-b", tracker.StatusProcessing, 10)))
	require.NoError(t, store.Append(ctx, snap("job-a", tracker.StatusProcessing, 50)))
	require.NoError(t, store.Append(ctx, snap("job-a", tracker.StatusDone, 100)))

	history, err := store.History(ctx, "job-a")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, tracker.StatusQueued, history[0].Status)
	assert.Equal(t, tracker.StatusProcessing, history[1].Status)
	assert.Equal(t, tracker.StatusDone, history[2].Status)

	other, err := store.History(ctx, "job-b")
	require.NoError(t, err)
	require.Len(t, other, 1)
}

func TestHistory_UnknownJob(t *testing.T) {
	store := openTestStore(t)

	history, err := store.History(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAppend_RequiresJobID(t *testing.T) {
	store := openTestStore(t)

	err := store.Append(context.Background(), tracker.Snapshot{Status: tracker.StatusQueued})
	assert.ErrorIs(t, err, tracker.ErrEmptyJobID)
}

func TestSubjectForJob_EscapesDots(t *testing.T) {
	assert.Equal(t, "reelsmith.job.v1_2", nats.SubjectForJob("v1.2"))

	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, snap("v1.2", tracker.StatusDone, 100)))

	history, err := store.History(ctx, "v1.2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "v1.2", history[0].JobID)
}

func TestHistory_SeparatesJobsSharingASubject(t *testing.T) {
	require.Equal(t, nats.SubjectForJob("a.b"), nats.SubjectForJob("a_b"))

	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, snap("a.b", tracker.StatusQueued, 0)))
	require.NoError(t, store.Append(ctx, snap("a_b", tracker.StatusProcessing, 40)))
	require.NoError(t, store.Append(ctx, snap("a.b", tracker.StatusDone, 100)))

	dotted, err := store.History(ctx, "a.b")
	require.NoError(t, err)
	require.Len(t, dotted, 2)
	for _, s := range dotted {
		assert.Equal(t, "a.b", s.JobID)
	}

	underscored, err := store.History(ctx, "a_b")
	require.NoError(t, err)
	require.Len(t, underscored, 1)
	assert.Equal(t, tracker.StatusProcessing, underscored[0].Status)
}

func TestRecord_SkipsRepeats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ch := make(chan tracker.Snapshot, 5)
	ch <- snap("job-r", tracker.StatusProcessing, 20)
	ch <- snap("job-r", tracker.StatusProcessing, 20)
	ch <- snap("job-r", tracker.StatusProcessing, 60)
	ch <- snap("job-r", tracker.StatusDone, 100)
	close(ch)

	require.NoError(t, store.Record(ctx, ch))

	history, err := store.History(ctx, "job-r")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.InDelta(t, 60, history[1].Progress, 0.001)
}

func TestRecord_StopsWithContext(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- store.Record(ctx, make(chan tracker.Snapshot)) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Record did not return after cancel")
	}
}
