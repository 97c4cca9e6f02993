package nats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the JetStream stream holding job progress records.
	StreamName = "reelsmith_progress"

	subjectRoot = "reelsmith.job"
	retention   = 7 * 24 * time.Hour
)

// SubjectForJob returns the subject progress records for jobID publish to.
// Dots are not allowed inside a subject token, so they are replaced.
// Example: "reelsmith.job.4f1c".
func SubjectForJob(jobID string) string {
	return subjectRoot + "." + subjectToken(jobID)
}

// SubjectForAllJobs matches every job subject.
func SubjectForAllJobs() string {
	return subjectRoot + ".>"
}

func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// SetupStream creates or updates the progress stream with file storage and
// a seven day retention window.
func SetupStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectForAllJobs()},
		Storage:  jetstream.FileStorage,
		MaxAge:   retention,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up stream %s: %w", StreamName, err)
	}
	return stream, nil
}
