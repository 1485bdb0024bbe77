package chunkuploader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// Uploader transfers one payload per Upload call, chunk by chunk.
// An Uploader keeps no per-session state besides its Stats, so one instance can
// serve sequential sessions; concurrent sessions should use their own Uploader.
type Uploader struct {
	config Config
	api    SessionAPI
	logger log.Logger
	stats  *Stats
}

// New creates a new Uploader with the given configuration.
func New(config Config, api SessionAPI, logger log.Logger) *Uploader {
	if logger == nil {
		logger = log.NewLogger()
	}

	return &Uploader{
		config: config.withDefaults(),
		api:    api,
		logger: logger,
		stats:  NewStats(),
	}
}

// Upload creates a session at endpoint and sends the provider's payload in order.
// onProgress is called after every acknowledged chunk with a non-decreasing offset.
// The session location is only returned once the whole payload is acknowledged.
func (u *Uploader) Upload(ctx context.Context, provider ChunkProvider, endpoint string, onProgress ProgressFunc) (*UploadResult, error) {
	size := provider.Size()

	location, err := u.api.CreateSession(ctx, endpoint, size)
	if err != nil {
		return nil, fmt.Errorf("create upload session: %w", err)
	}
	u.logger.Debugf("Upload session created: %s (%s)", location, units.HumanSizeWithPrecision(float64(size), 3))

	result := &UploadResult{Location: location, Size: size}
	if size == 0 {
		return result, nil
	}

	totalChunks := int(divideAndCeil(size, u.config.ChunkSize))
	var offset int64
	for index := 0; offset < size; index++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("upload cancelled at offset %d: %w", offset, ctx.Err())
		default:
		}

		length := chunkLength(offset, size, u.config.ChunkSize)
		acknowledged, err := u.uploadChunkWithRetry(ctx, provider, location, offset, length, index, totalChunks)
		if err != nil {
			return nil, err
		}

		offset = acknowledged
		result.Chunks++
		if onProgress != nil {
			onProgress(offset, size)
		}
	}

	u.logger.Debugf("Uploaded %d chunks, avg %v per chunk, %s/s",
		result.Chunks, u.stats.Average().Round(time.Millisecond), units.HumanSize(u.stats.BytesPerSecond()))

	return result, nil
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// uploadChunkWithRetry sends [offset, offset+length) and returns the acknowledged offset.
// Retries resume from the server's offset instead of resending acknowledged bytes.
func (u *Uploader) uploadChunkWithRetry(ctx context.Context, provider ChunkProvider, location string, offset, length int64, index, totalChunks int) (int64, error) {
	end := offset + length
	attempts := u.config.MaxRetryPerChunk + 1
	var acknowledged int64

	// The pause between attempts is taken inside the action so cancellation interrupts it.
	err := retry.Times(uint(u.config.MaxRetryPerChunk)).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			waitForRetry(ctx, u.config.RetryWait)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("chunk %d upload cancelled: %w", index+1, ctx.Err()), true
		}

		start := offset
		if attempt > 0 {
			serverOffset, err := u.api.SessionOffset(ctx, location)
			if err != nil {
				return fmt.Errorf("query session offset: %w", err), !isRetryable(err)
			}
			if serverOffset < offset {
				return fmt.Errorf("server offset %d is behind acknowledged offset %d", serverOffset, offset), true
			}
			if serverOffset >= end {
				u.logger.Debugf("Chunk %d already stored by the server (offset %d)", index+1, serverOffset)
				acknowledged = serverOffset
				return nil, true
			}
			start = serverOffset
		}

		chunk, err := provider.ReadChunk(start, end-start)
		if err != nil {
			return fmt.Errorf("read chunk %d: %w", index+1, err), true
		}

		u.logger.Debugf("Uploading chunk %d/%d at offset %d (attempt %d/%d) [finished=%d] [avg=%v]",
			index+1, totalChunks, start, attempt+1, attempts,
			u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))

		began := time.Now()
		chunkCtx, cancelChunk := context.WithCancel(ctx)

		// Start hung detection goroutine (except on last attempt)
		if int(attempt) < attempts-1 && u.config.HungThreshold > 0 {
			go u.detectHungUpload(chunkCtx, cancelChunk, began, index)
		}

		ack, err := u.api.UploadChunk(chunkCtx, location, start, chunk)
		cancelChunk()

		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("chunk %d upload cancelled: %w", index+1, ctx.Err()), true
			}
			if int(attempt) < attempts-1 {
				u.logger.Warnf("Chunk %d attempt %d failed: %v", index+1, attempt+1, err)
			}
			return fmt.Errorf("upload chunk %d: %w", index+1, err), !isRetryable(err)
		}

		if ack <= start || ack > end {
			return fmt.Errorf("upload chunk %d: server acknowledged offset %d, expected (%d, %d]", index+1, ack, start, end), true
		}

		took := time.Since(began)
		u.stats.Update(took, ack-start)
		u.logger.Debugf("Chunk %d acknowledged in %v, offset: %d", index+1, took.Round(time.Millisecond), ack)
		acknowledged = ack

		return nil, true
	})
	if err != nil {
		return 0, err
	}

	return acknowledged, nil
}

func (u *Uploader) detectHungUpload(ctx context.Context, cancel context.CancelFunc, start time.Time, index int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if u.stats.FinishedCount() > 0 {
				elapsed := time.Since(start)
				avg := u.stats.Average()
				if elapsed-avg > u.config.HungThreshold {
					u.logger.Warnf("Found hung chunk upload (chunk %d); canceling request after %s (avg: %s)",
						index+1, elapsed.Round(time.Second), avg.Round(time.Second))
					cancel()
					return
				}
			}
		}
	}
}

type httpStatusError interface {
	error
	HTTPStatusCode() int
}

// isRetryable reports whether a failed chunk may be attempted again.
// Client errors are final, except conflicts and locks on the session.
func isRetryable(err error) bool {
	var statusErr httpStatusError
	if !errors.As(err, &statusErr) {
		return true
	}

	code := statusErr.HTTPStatusCode()
	switch {
	case code == http.StatusConflict, code == http.StatusLocked:
		return true
	case code >= 400 && code < 500:
		return false
	default:
		return true
	}
}

func divideAndCeil(numerator, denominator int64) int64 {
	if denominator == 0 {
		return 0
	}
	quotient := numerator / denominator
	if numerator%denominator != 0 {
		quotient++
	}
	return quotient
}

func waitForRetry(ctx context.Context, wait time.Duration) {
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
