package stream

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitrise-io/go-streamupload/internal/mocks"
	"github.com/bitrise-io/go-streamupload/stream/network/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func filledBuffer(size int) []byte {
	return bytes.Repeat([]byte{0xAB}, size)
}

func TestClient_Upload_SingleChunk(t *testing.T) {
	// Given
	fake := newFakeStream(t)
	client := fake.client(testCredentials(), nil)
	buffer := filledBuffer(5242880)
	var got events

	// When
	upload, err := client.Upload(context.Background(), UploadInput{Buffer: buffer, Listeners: got.listeners()})
	require.NoError(t, err)
	result, err := upload.Wait()

	// Then
	require.NoError(t, err)
	assert.Equal(t, []Progress{{Uploaded: 5242880, Total: 5242880, Percentage: "1.00"}}, got.progress)
	require.Len(t, got.successes, 1)
	assert.Same(t, result, got.successes[0])
	assert.Equal(t, validMediaBody, string(result.Raw))
	assert.True(t, result.Success)
	assert.Empty(t, got.errors)
	assert.Equal(t, StatusSucceeded, upload.Status())

	assert.Equal(t, buffer, fake.stored())
	patches, heads, gets := fake.requests()
	assert.Equal(t, 1, patches)
	assert.Equal(t, 0, heads)
	assert.Equal(t, 1, gets)
}

func TestClient_Upload_MultipleChunks(t *testing.T) {
	// Given
	fake := newFakeStream(t)
	client := fake.client(testCredentials(), nil)
	size := 2*int(chunkuploader.DefaultChunkSize) + int(chunkuploader.DefaultChunkSize)/2
	var got events

	// When
	upload, err := client.Upload(context.Background(), UploadInput{Buffer: filledBuffer(size), Listeners: got.listeners()})
	require.NoError(t, err)
	_, err = upload.Wait()

	// Then
	require.NoError(t, err)
	require.Len(t, got.progress, 3)

	var percentages []string
	var previous int64
	for _, p := range got.progress {
		assert.Equal(t, int64(size), p.Total)
		assert.GreaterOrEqual(t, p.Uploaded, previous)
		previous = p.Uploaded
		percentages = append(percentages, p.Percentage)
	}
	assert.Equal(t, []string{"0.40", "0.80", "1.00"}, percentages)
	assert.Equal(t, int64(size), previous)
	assert.Len(t, fake.stored(), size)
}

func TestClient_Upload_PercentageRoundsTiesUp(t *testing.T) {
	// Given
	fake := newFakeStream(t)
	client := fake.client(testCredentials(), nil)
	var got events

	// When
	upload, err := client.Upload(context.Background(), UploadInput{Buffer: filledBuffer(8 * int(chunkuploader.DefaultChunkSize)), Listeners: got.listeners()})
	require.NoError(t, err)
	_, err = upload.Wait()

	// Then
	require.NoError(t, err)
	var percentages []string
	for _, p := range got.progress {
		percentages = append(percentages, p.Percentage)
	}
	assert.Equal(t, []string{"0.13", "0.25", "0.38", "0.50", "0.63", "0.75", "0.88", "1.00"}, percentages)
}

func TestClient_Upload_ReturnsBeforeTransfer(t *testing.T) {
	// Given
	fake := newFakeStream(t)
	fake.createGate = make(chan struct{})
	client := fake.client(testCredentials(), nil)
	var got events

	// When
	upload, err := client.Upload(context.Background(), UploadInput{Buffer: filledBuffer(10), Listeners: got.listeners()})

	// Then
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, upload.Status())
	select {
	case <-upload.Done():
		t.Fatal("upload finished before the session was created")
	default:
	}

	close(fake.createGate)
	_, err = upload.Wait()
	require.NoError(t, err)
	assert.Len(t, got.progress, 1)
}

func TestClient_Upload_ConfigurationErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name        string
		credentials Credentials
		input       UploadInput
		wantErr     error
	}{
		{
			name:        "no payload source",
			credentials: testCredentials(),
			input:       UploadInput{Zone: testZone},
			wantErr:     ErrNoPayloadSource,
		},
		{
			name:        "payload is checked before zone",
			credentials: Credentials{Email: testEmail, Key: testKey},
			input:       UploadInput{},
			wantErr:     ErrNoPayloadSource,
		},
		{
			name:        "no zone",
			credentials: Credentials{Email: testEmail, Key: testKey},
			input:       UploadInput{Buffer: []byte("data")},
			wantErr:     ErrNoZone,
		},
		{
			name:        "missing file",
			credentials: testCredentials(),
			input:       UploadInput{Path: filepath.Join(dir, "missing.mp4")},
			wantErr:     fs.ErrNotExist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeStream(t)
			client := fake.client(tt.credentials, nil)
			called := false

			upload, err := client.Upload(context.Background(), UploadInput{
				Zone:   tt.input.Zone,
				Buffer: tt.input.Buffer,
				Path:   tt.input.Path,
				Listeners: Listeners{
					Error: func(*Error) { called = true },
				},
			})

			assert.Nil(t, upload)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.False(t, called)
			assert.Empty(t, fake.seenZones())
		})
	}
}

func TestClient_Upload_ConfigurationErrorMessages(t *testing.T) {
	client := NewClient(Credentials{}, DefaultConfig())

	_, err := client.Upload(context.Background(), UploadInput{})
	var configErr *ConfigurationError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "you must set either a path or a buffer", err.Error())

	_, err = client.Upload(context.Background(), UploadInput{Buffer: []byte{}})
	assert.Equal(t, "you must set a zone", err.Error())
}

func TestClient_Upload_DirectoryPath(t *testing.T) {
	fake := newFakeStream(t)
	client := fake.client(testCredentials(), nil)

	upload, err := client.Upload(context.Background(), UploadInput{Path: t.TempDir()})

	assert.Nil(t, upload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
}

func TestClient_Upload_Path(t *testing.T) {
	// Given
	fake := newFakeStream(t)
	client := fake.client(testCredentials(), nil)
	path := filepath.Join(t.TempDir(), "video.mp4")
	content := []byte("not really a video, but close enough")
	require.NoError(t, os.WriteFile(path, content, 0600))

	// When
	upload, err := client.Upload(context.Background(), UploadInput{Path: path})
	require.NoError(t, err)
	_, err = upload.Wait()

	// Then
	require.NoError(t, err)
	assert.Equal(t, content, fake.stored())
}

func TestClient_Upload_BufferTakesPrecedenceOverPath(t *testing.T) {
	fake := newFakeStream(t)
	client := fake.client(testCredentials(), nil)

	upload, err := client.Upload(context.Background(), UploadInput{
		Buffer: []byte("from buffer"),
		Path:   filepath.Join(t.TempDir(), "does-not-exist.mp4"),
	})
	require.NoError(t, err)
	_, err = upload.Wait()

	require.NoError(t, err)
	assert.Equal(t, []byte("from buffer"), fake.stored())
}

func TestClient_Upload_ZoneResolution(t *testing.T) {
	fake := newFakeStream(t)
	client := fake.client(Credentials{Email: testEmail, Key: testKey, Zone: "credentials-zone"}, nil)

	upload, err := client.Upload(context.Background(), UploadInput{Buffer: []byte("a"), Zone: "input-zone"})
	require.NoError(t, err)
	_, err = upload.Wait()
	require.NoError(t, err)

	upload, err = client.Upload(context.Background(), UploadInput{Buffer: []byte("b")})
	require.NoError(t, err)
	_, err = upload.Wait()
	require.NoError(t, err)

	assert.Equal(t, []string{"input-zone", "credentials-zone"}, fake.seenZones())
}

func TestClient_Upload_EmptyBuffer(t *testing.T) {
	fake := newFakeStream(t)
	client := fake.client(testCredentials(), nil)
	var got events

	upload, err := client.Upload(context.Background(), UploadInput{Buffer: []byte{}, Listeners: got.listeners()})
	require.NoError(t, err)
	_, err = upload.Wait()

	require.NoError(t, err)
	assert.Empty(t, got.progress)
	assert.Len(t, got.successes, 1)
	patches, _, gets := fake.requests()
	assert.Equal(t, 0, patches)
	assert.Equal(t, 1, gets)
}

func TestClient_Upload_InvalidCredentials(t *testing.T) {
	// Given
	fake := newFakeStream(t)
	fake.createStatus = 403
	fake.createBody = `{"success":false,"errors":[{"code":10000,"message":"Authentication error"}]}`
	client := fake.client(testCredentials(), nil)
	var got events

	// When
	upload, err := client.Upload(context.Background(), UploadInput{Buffer: filledBuffer(100), Listeners: got.listeners()})
	require.NoError(t, err)
	_, err = upload.Wait()

	// Then
	require.Error(t, err)
	require.Len(t, got.errors, 1)
	assert.Equal(t, "Invalid Cloudflare Credentials", got.errors[0].Message)
	assert.Equal(t, KindCredentials, got.errors[0].Kind)
	assert.Empty(t, got.progress)
	assert.Empty(t, got.successes)
	assert.Equal(t, StatusFailed, upload.Status())
}

func TestClient_Upload_ResponseBodyBecomesMessage(t *testing.T) {
	fake := newFakeStream(t)
	fake.createStatus = 400
	fake.createBody = "Upload-Length exceeds the allowed maximum"
	client := fake.client(testCredentials(), nil)

	upload, err := client.Upload(context.Background(), UploadInput{Buffer: filledBuffer(100)})
	require.NoError(t, err)
	_, err = upload.Wait()

	var uploadErr *Error
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, "Upload-Length exceeds the allowed maximum", uploadErr.Message)
	assert.Equal(t, KindResponseBody, uploadErr.Kind)
}

func TestClient_Upload_VerificationErrors(t *testing.T) {
	// Given
	fake := newFakeStream(t)
	fake.mediaBody = `{"errors":["zone not found"]}`
	client := fake.client(testCredentials(), nil)
	var got events

	// When
	upload, err := client.Upload(context.Background(), UploadInput{Buffer: filledBuffer(100), Listeners: got.listeners()})
	require.NoError(t, err)
	_, err = upload.Wait()

	// Then
	require.Error(t, err)
	assert.Len(t, got.progress, 1)
	assert.Empty(t, got.successes)
	require.Len(t, got.errors, 1)
	assert.Contains(t, got.errors[0].Message, "verif")
	assert.Contains(t, got.errors[0].Message, "zone not found")
	assert.Equal(t, KindPassthrough, got.errors[0].Kind)
}

func TestClient_Upload_VerificationIsNotJSON(t *testing.T) {
	fake := newFakeStream(t)
	fake.mediaBody = "<html>oops</html>"
	client := fake.client(testCredentials(), nil)

	upload, err := client.Upload(context.Background(), UploadInput{Buffer: filledBuffer(10)})
	require.NoError(t, err)
	_, err = upload.Wait()

	var uploadErr *Error
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, KindPassthrough, uploadErr.Kind)
	assert.Contains(t, uploadErr.Message, "parse media response")
}

func TestClient_Upload_NoRetryByDefault(t *testing.T) {
	fake := newFakeStream(t)
	fake.failPatches = 1
	client := fake.client(testCredentials(), nil)

	upload, err := client.Upload(context.Background(), UploadInput{Buffer: filledBuffer(100)})
	require.NoError(t, err)
	_, err = upload.Wait()

	var uploadErr *Error
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, "temporary failure", uploadErr.Message)
	patches, heads, gets := fake.requests()
	assert.Equal(t, 1, patches)
	assert.Equal(t, 0, heads)
	assert.Equal(t, 0, gets)
}

func TestClient_Upload_ResumesWithRetries(t *testing.T) {
	fake := newFakeStream(t)
	fake.failPatches = 1
	client := fake.client(testCredentials(), func(config *Config) {
		config.MaxRetries = 2
	})
	buffer := filledBuffer(100)

	upload, err := client.Upload(context.Background(), UploadInput{Buffer: buffer})
	require.NoError(t, err)
	_, err = upload.Wait()

	require.NoError(t, err)
	assert.Equal(t, buffer, fake.stored())
	patches, heads, _ := fake.requests()
	assert.Equal(t, 2, patches)
	assert.Equal(t, 1, heads)
}

func TestClient_Upload_Timeout(t *testing.T) {
	// Given
	fake := newFakeStream(t)
	fake.hangPatches = true
	client := fake.client(testCredentials(), func(config *Config) {
		config.Timeout = 200 * time.Millisecond
	})
	var got events

	// When
	upload, err := client.Upload(context.Background(), UploadInput{Buffer: filledBuffer(100), Listeners: got.listeners()})
	require.NoError(t, err)

	select {
	case <-upload.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("upload did not fail after its deadline")
	}

	// Then
	require.Len(t, got.errors, 1)
	assert.Equal(t, KindPassthrough, got.errors[0].Kind)
	assert.True(t, errors.Is(got.errors[0], context.DeadlineExceeded))
	assert.Empty(t, got.successes)
}

func TestClient_Upload_CancelledByCaller(t *testing.T) {
	fake := newFakeStream(t)
	fake.createGate = make(chan struct{})
	client := fake.client(testCredentials(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	upload, err := client.Upload(ctx, UploadInput{Buffer: filledBuffer(100)})
	require.NoError(t, err)

	cancel()
	_, err = upload.Wait()
	close(fake.createGate)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClient_Upload_ConcurrentSessions(t *testing.T) {
	fake := newFakeStream(t)
	fake.createStatus = 403
	client := fake.client(testCredentials(), nil)

	var uploads []*Upload
	for i := 0; i < 5; i++ {
		upload, err := client.Upload(context.Background(), UploadInput{Buffer: filledBuffer(10)})
		require.NoError(t, err)
		uploads = append(uploads, upload)
	}

	ids := map[string]bool{}
	for _, upload := range uploads {
		_, err := upload.Wait()
		assert.Error(t, err)
		ids[upload.ID()] = true
	}
	assert.Len(t, ids, 5)
}

func TestClient_Upload_WarnsWithoutErrorListener(t *testing.T) {
	// Given
	fake := newFakeStream(t)
	fake.createStatus = 403
	logger := newMockLogger()
	client := fake.client(testCredentials(), func(config *Config) {
		config.Logger = logger
	})

	// When
	upload, err := client.Upload(context.Background(), UploadInput{Buffer: filledBuffer(10)})
	require.NoError(t, err)
	<-upload.Done()

	// Then
	logger.AssertCalled(t, "Warnf", "Upload %s failed without an error listener: %s", upload.ID(), "Invalid Cloudflare Credentials")
}

func TestClient_Upload_TracksLifecycle(t *testing.T) {
	// Given
	fake := newFakeStream(t)
	tracker := new(mocks.Tracker)
	tracker.On("Enqueue", "stream_upload_started", mock.MatchedBy(func(p analytics.Properties) bool {
		return p["payload_source"] == "buffer" && p["zone"] == testZone && p["upload_size_bytes"] == int64(10)
	})).Return().Once()
	tracker.On("Enqueue", "stream_upload_finished", mock.Anything).Return().Once()
	tracker.On("Wait").Return().Once()
	client := fake.client(testCredentials(), func(config *Config) {
		config.Tracker = tracker
	})

	// When
	upload, err := client.Upload(context.Background(), UploadInput{Buffer: filledBuffer(10)})
	require.NoError(t, err)
	_, err = upload.Wait()
	require.NoError(t, err)
	client.Close()

	// Then
	tracker.AssertExpectations(t)
	require.Len(t, tracker.Calls, 3)
	assert.Equal(t, "stream_upload_started", tracker.Calls[0].Arguments.String(0))
	assert.Equal(t, upload.ID(), tracker.Calls[0].Arguments.Get(1).(analytics.Properties)["upload_id"])
	assert.Equal(t, "stream_upload_finished", tracker.Calls[1].Arguments.String(0))
	assert.Equal(t, upload.ID(), tracker.Calls[1].Arguments.Get(1).(analytics.Properties)["upload_id"])
}

func TestClient_Endpoint(t *testing.T) {
	client := NewClient(testCredentials(), Config{APIBaseURL: "https://api.example.com/"})
	assert.Equal(t, "https://api.example.com/client/v4/zones/zone-1/media", client.endpoint("zone-1"))

	client = NewClient(testCredentials(), Config{})
	assert.Equal(t, "https://api.cloudflare.com/client/v4/zones/zone-1/media", client.endpoint("zone-1"))
}
