package chunkuploader

import (
	"time"
)

// DefaultChunkSize is the size of every chunk except the last one (5 MiB).
const DefaultChunkSize = int64(5 * 1024 * 1024)

// Config holds configuration for the chunk uploader.
type Config struct {
	// ChunkSize is the number of payload bytes sent in one PATCH request.
	// Default: DefaultChunkSize
	ChunkSize int64

	// MaxRetryPerChunk is the number of additional attempts made for a chunk
	// after its first attempt failed. Every retry first asks the server for the
	// session offset and only resends the unacknowledged remainder.
	// Default: 0 (a failed chunk fails the session)
	MaxRetryPerChunk int

	// RetryWait is the pause between two attempts of the same chunk. Cancelling
	// the upload context ends the pause early.
	// Default: 1 second
	RetryWait time.Duration

	// HungThreshold is the duration after which a chunk upload is considered hung
	// if it exceeds the average upload time by this amount. Only non-final
	// attempts are watched, so it has no effect without retries.
	// Default: 30 seconds
	HungThreshold time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:        DefaultChunkSize,
		MaxRetryPerChunk: 0,
		RetryWait:        time.Second,
		HungThreshold:    30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxRetryPerChunk < 0 {
		c.MaxRetryPerChunk = 0
	}
	return c
}

// chunkLength returns the length of the chunk starting at offset.
func chunkLength(offset, size, chunkSize int64) int64 {
	remaining := size - offset
	if remaining < chunkSize {
		return remaining
	}
	return chunkSize
}
