package stream

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
)

// uploadTracker reports session lifecycle events. A nil tracker disables analytics.
type uploadTracker struct {
	tracker analytics.Tracker
}

func (t uploadTracker) logStarted(uploadID, zone string, size int64, source string) {
	if t.tracker == nil {
		return
	}
	properties := analytics.Properties{
		"upload_id":         uploadID,
		"zone":              zone,
		"upload_size_bytes": size,
		"payload_source":    source,
	}
	t.tracker.Enqueue("stream_upload_started", properties)
}

func (t uploadTracker) logUploaded(uploadID string, uploadTime time.Duration, size int64, chunks int) {
	if t.tracker == nil {
		return
	}
	properties := analytics.Properties{
		"upload_id":         uploadID,
		"upload_time_s":     uploadTime.Truncate(time.Second).Seconds(),
		"upload_size_bytes": size,
		"chunk_count":       chunks,
	}
	t.tracker.Enqueue("stream_upload_finished", properties)
}

func (t uploadTracker) logFailed(uploadID string, elapsed time.Duration, err *Error) {
	if t.tracker == nil {
		return
	}
	properties := analytics.Properties{
		"upload_id":   uploadID,
		"elapsed_s":   elapsed.Truncate(time.Second).Seconds(),
		"error_kind":  err.Kind.String(),
		"error_cause": err.Message,
	}
	t.tracker.Enqueue("stream_upload_failed", properties)
}

func (t uploadTracker) wait() {
	if t.tracker == nil {
		return
	}
	t.tracker.Wait()
}
