// Package joblog keeps the progress history of generation jobs in a
// JetStream stream, one subject per job.
package joblog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/mark3labs/reelsmith/internal/logger"
	"github.com/mark3labs/reelsmith/internal/nats"
	"github.com/mark3labs/reelsmith/internal/tracker"
)

// Store appends and replays progress snapshots.
type Store struct {
	js     jetstream.JetStream
	stream jetstream.Stream
}

// New ensures the progress stream exists and returns a Store over it.
func New(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	stream, err := nats.SetupStream(ctx, js)
	if err != nil {
		return nil, err
	}
	return &Store{js: js, stream: stream}, nil
}

// Append records one snapshot under its job's subject.
func (s *Store) Append(ctx context.Context, snap tracker.Snapshot) error {
	if snap.JobID == "" {
		return tracker.ErrEmptyJobID
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	ack, err := s.js.Publish(ctx, nats.SubjectForJob(snap.JobID), data)
	if err != nil {
		return fmt.Errorf("appending snapshot for job %s: %w", snap.JobID, err)
	}
	logger.Debug("Logged job %s status=%s seq=%d", snap.JobID, snap.Status, ack.Sequence)
	return nil
}

// History returns every snapshot logged for jobID in the order it was
// appended. Unreadable records are skipped, as are records of other jobs
// whose ids escape to the same subject.
func (s *Store) History(ctx context.Context, jobID string) ([]tracker.Snapshot, error) {
	if jobID == "" {
		return nil, tracker.ErrEmptyJobID
	}

	consumer, err := s.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: nats.SubjectForJob(jobID),
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("reading history for job %s: %w", jobID, err)
	}

	const batchSize = 500
	var (
		out     []tracker.Snapshot
		skipped int
	)
	for {
		msgs, err := consumer.FetchNoWait(batchSize)
		if err != nil {
			break
		}

		n := 0
		for msg := range msgs.Messages() {
			n++
			var snap tracker.Snapshot
			if err := json.Unmarshal(msg.Data(), &snap); err != nil {
				skipped++
				_ = msg.Ack()
				continue
			}
			if snap.JobID == jobID {
				out = append(out, snap)
			}
			_ = msg.Ack()
		}
		if n < batchSize {
			break
		}
	}

	if skipped > 0 {
		logger.Warn("Skipped %d unreadable records for job %s", skipped, jobID)
	}
	return out, nil
}

// Record appends everything received on snaps until it is closed or ctx
// ends. A snapshot that repeats the previous status and percentage is not
// stored again. Append failures are logged and do not stop recording.
func (s *Store) Record(ctx context.Context, snaps <-chan tracker.Snapshot) error {
	var last *tracker.Snapshot
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			if last != nil && last.JobID == snap.JobID && last.Status == snap.Status &&
				last.Percent() == snap.Percent() {
				continue
			}
			if err := s.Append(ctx, snap); err != nil {
				logger.Error("Failed to log progress: %v", err)
				continue
			}
			last = &snap
		}
	}
}
