package network

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
)

// MediaResult is the provider's response envelope for an uploaded media asset.
type MediaResult struct {
	Result   json.RawMessage   `json:"result"`
	Success  bool              `json:"success"`
	Errors   []json.RawMessage `json:"errors"`
	Messages []json.RawMessage `json:"messages"`

	// Raw is the complete response body.
	Raw []byte `json:"-"`
}

// FetchMedia reads the metadata of the asset registered at the session location.
// It fails when the body is not JSON, has no errors field, or lists any error.
func (c *Client) FetchMedia(ctx context.Context, location string) (*MediaResult, error) {
	mediaURL, err := c.verificationURL(location)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	c.setAuthHeaders(req)

	resp, err := c.do(req, "Media", true)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp.Body)

	if !isSuccess(resp.StatusCode) {
		return nil, unwrapError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read media response: %w", err)
	}

	var result MediaResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse media response: %w", err)
	}
	result.Raw = body

	if result.Errors == nil {
		return nil, Fault("media response has no errors field")
	}
	if len(result.Errors) > 0 {
		return nil, &VerificationError{Errors: result.Errors}
	}

	return &result, nil
}

// verificationURL keeps the scheme, host and path of the session location on port 443.
func (c *Client) verificationURL(location string) (string, error) {
	parsed, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse session location %q: %w", location, err)
	}
	if parsed.Host == "" {
		return "", Fault(fmt.Sprintf("session location %q has no host", location))
	}

	if !c.keepVerificationPort {
		parsed.Host = net.JoinHostPort(parsed.Hostname(), verificationHostPort)
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""

	return parsed.String(), nil
}
