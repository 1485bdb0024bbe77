package stream

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-streamupload/stream/network/chunkuploader"
	"github.com/docker/go-units"
)

// UploadInput describes one media upload.
type UploadInput struct {
	// Zone overrides the zone of the client's credentials.
	Zone string
	// Buffer is the payload in memory. A non-nil Buffer takes precedence over Path, even when empty.
	Buffer []byte
	// Path is a file on disk to upload.
	Path string
	// Listeners are attached before the session starts.
	Listeners Listeners
}

type payloadSource struct {
	provider chunkuploader.ChunkProvider
	source   string
}

func (p payloadSource) close() error {
	if closer, ok := p.provider.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Upload starts one upload session and returns its event channel.
//
// A missing payload source or zone and an unreadable file are returned as errors before
// anything is sent. Every later failure is delivered as an error event, normalized.
func (c *Client) Upload(ctx context.Context, input UploadInput) (*Upload, error) {
	if input.Buffer == nil && input.Path == "" {
		return nil, ErrNoPayloadSource
	}

	zone := input.Zone
	if zone == "" {
		zone = c.credentials.Zone
	}
	if zone == "" {
		return nil, ErrNoZone
	}

	payload, err := c.openPayload(input)
	if err != nil {
		return nil, err
	}

	upload := newUpload(c.logger, input.Listeners)
	go c.run(ctx, upload, payload, zone)

	return upload, nil
}

func (c *Client) openPayload(input UploadInput) (payloadSource, error) {
	if input.Buffer != nil {
		return payloadSource{provider: chunkuploader.NewByteSliceChunkProvider(input.Buffer), source: "buffer"}, nil
	}

	info, err := c.osProxy.Stat(input.Path)
	if err != nil {
		return payloadSource{}, fmt.Errorf("check payload file: %w", err)
	}
	if info.IsDir() {
		return payloadSource{}, fmt.Errorf("payload path %s is a directory", input.Path)
	}

	file, err := c.osProxy.Open(input.Path)
	if err != nil {
		return payloadSource{}, fmt.Errorf("open payload file: %w", err)
	}

	provider, err := chunkuploader.NewFileChunkProvider(file)
	if err != nil {
		if closeErr := file.Close(); closeErr != nil {
			c.logger.Warnf("Failed to close %s: %s", input.Path, closeErr)
		}
		return payloadSource{}, fmt.Errorf("read payload file: %w", err)
	}

	return payloadSource{provider: provider, source: "path"}, nil
}

// run owns the session: transfer, verification and exactly one terminal event.
func (c *Client) run(ctx context.Context, upload *Upload, payload payloadSource, zone string) {
	defer func() {
		if err := payload.close(); err != nil {
			c.logger.Warnf("Failed to close payload of upload %s: %s", upload.ID(), err)
		}
	}()

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	size := payload.provider.Size()
	startTime := time.Now()
	c.logger.Infof("Uploading %s to zone %s (upload %s)", units.HumanSizeWithPrecision(float64(size), 3), zone, upload.ID())
	c.tracker.logStarted(upload.ID(), zone, size, payload.source)

	uploader := chunkuploader.New(chunkuploader.Config{
		ChunkSize:        chunkuploader.DefaultChunkSize,
		MaxRetryPerChunk: c.config.MaxRetries,
		RetryWait:        c.config.RetryWait,
		HungThreshold:    chunkuploader.DefaultConfig().HungThreshold,
	}, c.api, c.logger)

	result, err := uploader.Upload(ctx, payload.provider, c.endpoint(zone), func(uploaded, total int64) {
		upload.emitProgress(newProgress(uploaded, total))
	})
	if err != nil {
		c.failUpload(upload, startTime, err)
		return
	}
	uploadTime := time.Since(startTime)
	c.logger.Debugf("Transferred %d chunks in %s, verifying %s", result.Chunks, uploadTime.Round(time.Millisecond), result.Location)
	c.tracker.logUploaded(upload.ID(), uploadTime, result.Size, result.Chunks)

	media, err := c.api.FetchMedia(ctx, result.Location)
	if err != nil {
		c.failUpload(upload, startTime, fmt.Errorf("verify uploaded media: %w", err))
		return
	}

	c.logger.Donef("Upload %s finished in %s", upload.ID(), time.Since(startTime).Round(time.Second))
	upload.succeed(media)
}

func (c *Client) failUpload(upload *Upload, startTime time.Time, err error) {
	normalized := Normalize(err)
	c.logger.Debugf("Upload %s failed: %s", upload.ID(), err)
	c.tracker.logFailed(upload.ID(), time.Since(startTime), normalized)
	upload.fail(normalized)
}
