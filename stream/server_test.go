package stream

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const (
	testEmail       = "dev@example.com"
	testKey         = "api-key-123"
	testZone        = "zone-1"
	sessionID       = "abc123"
	validMediaBody  = `{"result":{"uid":"abc123","readyToStream":false},"success":true,"errors":[],"messages":[]}`
	mediaPathPrefix = "/client/v4/zones/"
)

// fakeStream is a minimal tus server with the provider's media endpoint.
type fakeStream struct {
	t      *testing.T
	server *httptest.Server

	mu sync.Mutex
	// createGate blocks session creation until it is closed.
	createGate   chan struct{}
	createStatus int
	createBody   string
	// failPatches is the number of PATCH requests answered with 500.
	failPatches int
	// hangPatches makes PATCH requests wait until the client gives up.
	hangPatches bool
	mediaStatus int
	mediaBody   string

	zones   []string
	length  int64
	data    []byte
	patches int
	heads   int
	gets    int
}

func newFakeStream(t *testing.T) *fakeStream {
	f := &fakeStream{t: t, mediaStatus: http.StatusOK, mediaBody: validMediaBody}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeStream) client(credentials Credentials, configure func(*Config)) *Client {
	config := DefaultConfig()
	config.APIBaseURL = f.server.URL
	config.KeepVerificationPort = true
	config.RetryWait = 0
	config.Logger = log.NewLogger()
	if configure != nil {
		configure(&config)
	}
	return NewClient(credentials, config)
}

func (f *fakeStream) handle(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, testEmail, r.Header.Get("X-Auth-Email"))
	assert.Equal(f.t, testKey, r.Header.Get("X-Auth-Key"))

	if !strings.HasPrefix(r.URL.Path, mediaPathPrefix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, mediaPathPrefix), "/")

	switch r.Method {
	case http.MethodPost:
		f.handleCreate(w, r, parts[0])
	case http.MethodPatch:
		f.handlePatch(w, r)
	case http.MethodHead:
		f.mu.Lock()
		f.heads++
		w.Header().Set("Upload-Offset", strconv.Itoa(len(f.data)))
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		f.mu.Lock()
		f.gets++
		status, body := f.mediaStatus, f.mediaBody
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeStream) handleCreate(w http.ResponseWriter, r *http.Request, zone string) {
	f.mu.Lock()
	gate := f.createGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.zones = append(f.zones, zone)
	if f.createStatus != 0 {
		w.WriteHeader(f.createStatus)
		_, _ = io.WriteString(w, f.createBody)
		return
	}

	assert.Equal(f.t, "1.0.0", r.Header.Get("Tus-Resumable"))
	length, err := strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
	assert.NoError(f.t, err)
	f.length = length

	w.Header().Set("Location", fmt.Sprintf("%s%s/media/%s", mediaPathPrefix, zone, sessionID))
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeStream) handlePatch(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.patches++
	hang := f.hangPatches
	fail := f.failPatches > 0
	if fail {
		f.failPatches--
	}
	f.mu.Unlock()

	if hang {
		<-r.Context().Done()
		return
	}

	body, err := io.ReadAll(r.Body)
	assert.NoError(f.t, err)

	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "temporary failure")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	offset, err := strconv.Atoi(r.Header.Get("Upload-Offset"))
	assert.NoError(f.t, err)
	if offset != len(f.data) {
		w.WriteHeader(http.StatusConflict)
		return
	}
	assert.Equal(f.t, "application/offset+octet-stream", r.Header.Get("Content-Type"))
	assert.LessOrEqual(f.t, int64(len(f.data)+len(body)), f.length)

	f.data = append(f.data, body...)
	w.Header().Set("Upload-Offset", strconv.Itoa(len(f.data)))
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeStream) stored() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.data...)
}

func (f *fakeStream) seenZones() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.zones...)
}

func (f *fakeStream) requests() (patches, heads, gets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patches, f.heads, f.gets
}

// events collects everything emitted on an Upload.
type events struct {
	mu        sync.Mutex
	progress  []Progress
	successes []*MediaResult
	errors    []*Error
}

func (e *events) listeners() Listeners {
	return Listeners{
		Progress: func(p Progress) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.progress = append(e.progress, p)
		},
		Success: func(result *MediaResult) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.successes = append(e.successes, result)
		},
		Error: func(err *Error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.errors = append(e.errors, err)
		},
	}
}

// newMockLogger accepts every log call; tests assert on the calls they care about.
func newMockLogger() *mocks.Logger {
	logger := new(mocks.Logger)
	for _, method := range []string{"Infof", "Warnf", "Printf", "Donef", "Debugf", "Errorf", "TInfof", "TWarnf", "TPrintf", "TDonef", "TDebugf", "TErrorf"} {
		for argCount := 1; argCount <= 8; argCount++ {
			args := make([]interface{}, argCount)
			for i := range args {
				args[i] = mock.Anything
			}
			logger.On(method, args...).Return()
		}
	}
	logger.On("Println").Return()
	logger.On("EnableDebugLog", mock.Anything).Return()
	return logger
}

func testCredentials() Credentials {
	return Credentials{Email: testEmail, Key: testKey, Zone: testZone}
}
