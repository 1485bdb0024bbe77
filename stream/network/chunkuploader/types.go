// Package chunkuploader transfers a payload to a resumable (tus) upload session:
// it creates the session, sends fixed-size chunks strictly in order and tracks the
// acknowledged offset until the whole payload is stored.
package chunkuploader

import (
	"context"
)

// ChunkProvider provides chunk data for upload.
// Implementations can read from files or memory buffers.
type ChunkProvider interface {
	// Size returns the total number of payload bytes.
	Size() int64

	// ReadChunk returns size bytes starting at offset.
	// It may be called more than once for the same range when a chunk is retried.
	ReadChunk(offset, size int64) ([]byte, error)
}

// SessionAPI is the server side of a resumable upload session.
type SessionAPI interface {
	// CreateSession announces an upload of size bytes at endpoint and returns
	// the location of the new session.
	CreateSession(ctx context.Context, endpoint string, size int64) (string, error)

	// UploadChunk appends chunk at offset and returns the offset acknowledged by the server.
	UploadChunk(ctx context.Context, location string, offset int64, chunk []byte) (int64, error)

	// SessionOffset returns the number of bytes the server has stored for the session.
	SessionOffset(ctx context.Context, location string) (int64, error)
}

// ProgressFunc is called after every acknowledged chunk.
type ProgressFunc func(uploaded, total int64)

// UploadResult represents the result of uploading all chunks.
type UploadResult struct {
	// Location is the session URL assigned by the server.
	Location string
	// Size is the number of bytes stored in the session.
	Size int64
	// Chunks is the number of acknowledged PATCH requests.
	Chunks int
}
