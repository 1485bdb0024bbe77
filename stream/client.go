// Package stream uploads media files to Cloudflare Stream over resumable (tus) sessions.
//
// Client.Upload validates its input synchronously and returns an Upload right away;
// the transfer and the verification of the registered asset run on their own goroutine
// and report through the Upload's progress, success and error events.
package stream

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bitrise-io/go-streamupload/internal"
	"github.com/bitrise-io/go-streamupload/stepconf"
	"github.com/bitrise-io/go-streamupload/stream/network"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultAPIBaseURL is the Cloudflare API host.
const DefaultAPIBaseURL = "https://api.cloudflare.com"

// MediaResult is the verified response of the media endpoint.
type MediaResult = network.MediaResult

// Credentials authenticate every request of a Client.
type Credentials struct {
	Email string
	Key   stepconf.Secret
	// Zone is used when the upload input doesn't name one.
	Zone string
}

// Config ...
type Config struct {
	// APIBaseURL is the scheme and host of the API, DefaultAPIBaseURL when empty.
	APIBaseURL string
	// MaxRetries is the number of resume attempts per failed chunk. 0 disables retries.
	MaxRetries int
	// RetryWait is the pause before a resume attempt.
	RetryWait time.Duration
	// Timeout bounds a whole session including verification. 0 means no deadline.
	Timeout time.Duration
	// KeepVerificationPort verifies on the session URL's own port instead of 443.
	KeepVerificationPort bool

	HTTPClient *retryablehttp.Client
	Logger     log.Logger
	// Tracker receives upload lifecycle events, nil disables analytics.
	Tracker analytics.Tracker
}

// DefaultConfig returns a Config that performs no automatic retries and sets no deadline.
func DefaultConfig() Config {
	return Config{
		APIBaseURL: DefaultAPIBaseURL,
		RetryWait:  time.Second,
	}
}

// Client starts upload sessions. It holds no per-session state and is safe for concurrent use.
type Client struct {
	credentials Credentials
	config      Config
	api         *network.Client
	logger      log.Logger
	osProxy     internal.OsProxy
	tracker     uploadTracker
}

// NewClient ...
func NewClient(credentials Credentials, config Config) *Client {
	if config.APIBaseURL == "" {
		config.APIBaseURL = DefaultAPIBaseURL
	}
	if config.Logger == nil {
		config.Logger = log.NewLogger()
	}

	api := network.NewClient(network.ClientParams{
		HTTPClient:           config.HTTPClient,
		Email:                credentials.Email,
		Key:                  string(credentials.Key),
		KeepVerificationPort: config.KeepVerificationPort,
		Logger:               config.Logger,
	})

	return &Client{
		credentials: credentials,
		config:      config,
		api:         api,
		logger:      config.Logger,
		osProxy:     internal.RealOS{},
		tracker:     uploadTracker{tracker: config.Tracker},
	}
}

// Close waits for queued analytics events to be sent.
func (c *Client) Close() {
	c.tracker.wait()
}

func (c *Client) endpoint(zone string) string {
	return fmt.Sprintf("%s/client/v4/zones/%s/media", strings.TrimSuffix(c.config.APIBaseURL, "/"), url.PathEscape(zone))
}
