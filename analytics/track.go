// Package analytics creates the tracker that reports upload lifecycle events.
package analytics

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// TrackerFactory ...
type TrackerFactory func(...analytics.Properties) analytics.Tracker

const (
	UploadRunIDEnvKey = "STREAM_UPLOAD_RUN_ID"
	UploadRunID       = "upload_run_id"
)

// NewUploadTracker returns a tracker whose events carry the run ID of the current upload job.
func NewUploadTracker(repository env.Repository, trackerFactory TrackerFactory) (analytics.Tracker, error) {
	runID := repository.Get(UploadRunIDEnvKey)
	if runID == "" {
		return nil, fmt.Errorf("no upload run ID found")
	}
	return trackerFactory(analytics.Properties{UploadRunID: runID}), nil
}

// NewDefaultUploadTracker ...
func NewDefaultUploadTracker(repository env.Repository, logger log.Logger) (analytics.Tracker, error) {
	return NewUploadTracker(repository, func(properties ...analytics.Properties) analytics.Tracker {
		return analytics.NewDefaultTracker(logger, properties...)
	})
}
