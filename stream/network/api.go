// Package network implements the HTTP side of a media upload: the resumable (tus)
// session requests and the verification request that follows a finished upload.
package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	tusVersion           = "1.0.0"
	offsetOctetStream    = "application/offset+octet-stream"
	headerAuthEmail      = "X-Auth-Email"
	headerAuthKey        = "X-Auth-Key"
	headerTusResumable   = "Tus-Resumable"
	headerUploadLength   = "Upload-Length"
	headerUploadOffset   = "Upload-Offset"
	headerLocation       = "Location"
	verificationHostPort = "443"
)

// ClientParams ...
type ClientParams struct {
	// HTTPClient is used for every request. When nil, a client without
	// transport-level retries is created.
	HTTPClient *retryablehttp.Client
	Email      string
	Key        string
	// KeepVerificationPort disables rewriting the verification URL to port 443.
	KeepVerificationPort bool
	Logger               log.Logger
}

// Client talks to the provider's media API with the account's auth headers.
// It is safe for concurrent use by multiple upload sessions.
type Client struct {
	httpClient           *retryablehttp.Client
	email                string
	key                  string
	keepVerificationPort bool
	logger               log.Logger
}

// NewClient ...
func NewClient(params ClientParams) *Client {
	logger := params.Logger
	if logger == nil {
		logger = log.NewLogger()
	}

	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(logger)
	}

	return &Client{
		httpClient:           httpClient,
		email:                params.Email,
		key:                  params.Key,
		keepVerificationPort: params.KeepVerificationPort,
		logger:               logger,
	}
}

// NewHTTPClient returns a retryablehttp client that performs every request exactly once
// and hands non-2xx responses back to the caller instead of swallowing their body.
func NewHTTPClient(logger log.Logger) *retryablehttp.Client {
	client := retryhttp.NewClient(logger)
	client.RetryMax = 0
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// CreateSession announces an upload of size bytes and returns the absolute session URL.
func (c *Client) CreateSession(ctx context.Context, endpoint string, size int64) (string, error) {
	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}
	c.setAuthHeaders(req)
	req.Header.Set(headerTusResumable, tusVersion)
	req.Header.Set(headerUploadLength, strconv.FormatInt(size, 10))

	resp, err := c.do(req, "Create session", true)
	if err != nil {
		return "", err
	}
	defer c.closeBody(resp.Body)

	if !isSuccess(resp.StatusCode) {
		return "", unwrapError(resp)
	}

	location := resp.Header.Get(headerLocation)
	if location == "" {
		return "", Fault("upload session response has no Location header")
	}

	sessionURL, err := endpointURL.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse session location %q: %w", location, err)
	}

	return sessionURL.String(), nil
}

// UploadChunk appends chunk to the session at offset and returns the offset the server acknowledged.
func (c *Client) UploadChunk(ctx context.Context, location string, offset int64, chunk []byte) (int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPatch, location, chunk)
	if err != nil {
		return 0, err
	}
	c.setAuthHeaders(req)
	req.Header.Set(headerTusResumable, tusVersion)
	req.Header.Set(headerUploadOffset, strconv.FormatInt(offset, 10))
	req.Header.Set("Content-Type", offsetOctetStream)

	// Add Content-Length header manually because retryablehttp doesn't do it automatically
	size := int64(len(chunk))
	req.Header.Set("Content-Length", strconv.FormatInt(size, 10))
	req.ContentLength = size

	resp, err := c.do(req, "Chunk", false)
	if err != nil {
		return 0, err
	}
	defer c.closeBody(resp.Body)

	if !isSuccess(resp.StatusCode) {
		return 0, unwrapError(resp)
	}

	return parseOffset(resp, http.MethodPatch)
}

// SessionOffset returns the number of bytes the server stored for the session.
func (c *Client) SessionOffset(ctx context.Context, location string) (int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, location, nil)
	if err != nil {
		return 0, err
	}
	c.setAuthHeaders(req)
	req.Header.Set(headerTusResumable, tusVersion)

	resp, err := c.do(req, "Session offset", true)
	if err != nil {
		return 0, err
	}
	defer c.closeBody(resp.Body)

	if !isSuccess(resp.StatusCode) {
		return 0, unwrapError(resp)
	}

	return parseOffset(resp, http.MethodHead)
}

func (c *Client) setAuthHeaders(req *retryablehttp.Request) {
	req.Header.Set(headerAuthEmail, c.email)
	req.Header.Set(headerAuthKey, c.key)
}

// do sends the request and dumps both sides at debug level.
// Request bodies are never dumped, they can be several megabytes of media.
func (c *Client) do(req *retryablehttp.Request, name string, dumpResponseBody bool) (*http.Response, error) {
	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("%s request dump: %s", name, redactAuth(string(dump), c.key))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	dump, err = httputil.DumpResponse(resp, dumpResponseBody)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("%s response dump: %s", name, string(dump))

	return resp, nil
}

func (c *Client) closeBody(body io.ReadCloser) {
	err := body.Close()
	if err != nil {
		c.logger.Printf("%s", err)
	}
}

func parseOffset(resp *http.Response, method string) (int64, error) {
	value := resp.Header.Get(headerUploadOffset)
	if value == "" {
		return 0, Fault(fmt.Sprintf("%s response has no Upload-Offset header", method))
	}

	offset, err := strconv.ParseInt(value, 10, 64)
	if err != nil || offset < 0 {
		return 0, Fault(fmt.Sprintf("%s response has an invalid Upload-Offset header: %q", method, value))
	}

	return offset, nil
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

func redactAuth(dump, key string) string {
	if key == "" {
		return dump
	}
	return strings.ReplaceAll(dump, key, "[REDACTED]")
}
