package chunkuploader

import (
	"fmt"
	"io"
	"os"
)

// FileChunkProvider reads chunks from a file on disk.
// Chunks are read with ReadAt, so the file offset is never shared between reads.
type FileChunkProvider struct {
	file *os.File
	size int64
}

// NewFileChunkProvider creates a ChunkProvider that reads from an already opened file.
func NewFileChunkProvider(file *os.File) (*FileChunkProvider, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", file.Name())
	}

	return &FileChunkProvider{
		file: file,
		size: info.Size(),
	}, nil
}

// Size returns the total number of payload bytes.
func (p *FileChunkProvider) Size() int64 {
	return p.size
}

// ReadChunk reads size bytes starting at offset.
// The data is read into memory to allow for retries.
func (p *FileChunkProvider) ReadChunk(offset, size int64) ([]byte, error) {
	if err := checkBounds(offset, size, p.size); err != nil {
		return nil, err
	}

	chunk := make([]byte, size)
	n, err := p.file.ReadAt(chunk, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read chunk at offset %d: %w", offset, err)
	}
	if int64(n) != size {
		return nil, fmt.Errorf("unexpected end of file at offset %d: read %d of %d bytes", offset, n, size)
	}

	return chunk, nil
}

// Close closes the underlying file.
func (p *FileChunkProvider) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// ByteSliceChunkProvider provides chunks from a payload that is already in memory.
// Chunks are sub-slices of the payload, nothing is copied.
type ByteSliceChunkProvider struct {
	data []byte
}

// NewByteSliceChunkProvider creates a ChunkProvider from a byte slice.
func NewByteSliceChunkProvider(data []byte) *ByteSliceChunkProvider {
	return &ByteSliceChunkProvider{data: data}
}

// Size returns the total number of payload bytes.
func (p *ByteSliceChunkProvider) Size() int64 {
	return int64(len(p.data))
}

// ReadChunk returns a view of size bytes starting at offset.
func (p *ByteSliceChunkProvider) ReadChunk(offset, size int64) ([]byte, error) {
	if err := checkBounds(offset, size, int64(len(p.data))); err != nil {
		return nil, err
	}
	return p.data[offset : offset+size : offset+size], nil
}

func checkBounds(offset, size, total int64) error {
	if offset < 0 || size < 0 || offset+size > total {
		return fmt.Errorf("chunk [%d, %d) out of range [0, %d)", offset, offset+size, total)
	}
	return nil
}
