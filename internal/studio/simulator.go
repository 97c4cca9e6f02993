package studio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/reelsmith/internal/logger"
	"github.com/mark3labs/reelsmith/internal/tracker"
)

// Simulator walks active jobs through queued -> processing -> done, one
// segment per Step. Writes only land on jobs that are still active, so a job
// cancelled mid-step stays cancelled.
type Simulator struct {
	Jobs    *Store
	Step    time.Duration
	FailAt  float64 // fail a job once it reaches this percentage; 0 disables
	BaseURL string
}

// Run advances jobs every Step until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	step := s.Step
	if step <= 0 {
		step = time.Second
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Advance(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Simulator step failed: %v", err)
			}
		}
	}
}

// Advance moves every active job forward by one segment.
func (s *Simulator) Advance(ctx context.Context) error {
	jobs, err := s.Jobs.ListActive(ctx, 0)
	if err != nil {
		return fmt.Errorf("listing active jobs: %w", err)
	}
	for _, job := range jobs {
		err := s.advanceJob(ctx, job)
		if errors.Is(err, ErrSettled) {
			logger.Debug("Job %s settled while advancing; leaving it", job.ID)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) advanceJob(ctx context.Context, job Job) error {
	if job.Status == tracker.StatusQueued {
		processing := tracker.StatusProcessing
		logger.Debug("Job %s started processing", job.ID)
		return s.Jobs.UpdateActiveJob(ctx, job.ID, JobPatch{Status: &processing})
	}

	total := max(job.Total, 1)
	completed := min(job.Completed+1, total)
	progress := float64(completed) * 100 / float64(total)
	patch := JobPatch{Completed: &completed, Progress: &progress}

	switch {
	case s.FailAt > 0 && progress >= s.FailAt:
		failed := tracker.StatusFailed
		msg := fmt.Sprintf("segment %d of %d failed to generate", completed, total)
		patch = JobPatch{Status: &failed, Error: &msg}
		logger.Warn("Job %s failed at %.0f%%", job.ID, progress)
	case completed == total:
		done := tracker.StatusDone
		url := resultURL(s.BaseURL, job.ID)
		patch.Status = &done
		patch.ResultURL = &url
		logger.Info("Job %s done", job.ID)
	}

	return s.Jobs.UpdateActiveJob(ctx, job.ID, patch)
}
