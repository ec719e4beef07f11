package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Status is the discriminated outcome ApiClient reports for a single GET.
type Status int

const (
	StatusOK Status = iota
	StatusRateLimited
	StatusTransientError
	StatusPermanentError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRateLimited:
		return "rate_limited"
	case StatusTransientError:
		return "transient_error"
	case StatusPermanentError:
		return "permanent_error"
	default:
		return "unknown"
	}
}

// Endpoints is the fixed (login, resource, API host) triple for a tenant's
// api_type.
type Endpoints struct {
	LoginEndpoint string
	Resource      string
	APIHost       string
}

// TenantCredentials is everything ApiClient needs to authenticate and
// address requests for one tenant.
type TenantCredentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Endpoints    Endpoints
}

// ApiClient is the core's only dependency on the provider's HTTP API.
// Token acquisition, URL construction, and body-size enforcement all live
// on the implementation; the engine only consumes the discriminated
// Status values.
type ApiClient interface {
	// Subscribe idempotently activates a subscription; an
	// already-subscribed response is treated as success.
	Subscribe(ctx context.Context, contentType ContentType) error

	// SeedURL builds the initial "list content" URL for one (content
	// type, time window) pair.
	SeedURL(contentType ContentType, window TimeWindow) string

	// ListContent performs one GET against a "list content" URL,
	// returning every blob descriptor found plus an optional next-page
	// URL.
	ListContent(ctx context.Context, listURL string) (blobs []ContentBlob, nextURL string, status Status, err error)

	// FetchContent downloads one blob's body.
	FetchContent(ctx context.Context, blob ContentBlob) (body string, status Status, err error)
}

// HTTPApiClient is the production ApiClient, talking to the provider's
// management activity API over HTTPS.
type HTTPApiClient struct {
	creds       TenantCredentials
	httpClient  *http.Client
	maxBodySize int64

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewHTTPApiClient builds a client for one tenant. maxBodySize bounds
// every response body the client will accept (spec.md §4.4, "Response too
// large" in §7).
func NewHTTPApiClient(creds TenantCredentials, httpClient *http.Client, maxBodySize int64) *HTTPApiClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPApiClient{
		creds:       creds,
		httpClient:  httpClient,
		maxBodySize: maxBodySize,
	}
}

type contentBlobDescriptor struct {
	ContentID         string `json:"contentId"`
	ContentType       string `json:"contentType"`
	ContentURI        string `json:"contentUri"`
	ContentExpiration string `json:"contentExpiration"`
}

func (c *HTTPApiClient) Subscribe(ctx context.Context, contentType ContentType) error {
	token, err := c.getToken(ctx)
	if err != nil {
		return fmt.Errorf("acquiring token: %w", err)
	}

	u := fmt.Sprintf("https://%s/api/v1.0/%s/activity/feed/subscriptions/start?contentType=%s",
		c.creds.Endpoints.APIHost, c.creds.TenantID, url.QueryEscape(string(contentType)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", contentType, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	// 400/409-class responses mean "already subscribed" — tolerated as
	// success, per spec.md §12 "subscribe to feeds idempotency".
	if resp.StatusCode >= 200 && resp.StatusCode < 500 {
		return nil
	}
	return fmt.Errorf("subscribing to %s: unexpected status %d", contentType, resp.StatusCode)
}

func (c *HTTPApiClient) SeedURL(contentType ContentType, window TimeWindow) string {
	return fmt.Sprintf("https://%s/api/v1.0/%s/activity/feed/subscriptions/content?contentType=%s&startTime=%s&endTime=%s",
		c.creds.Endpoints.APIHost,
		c.creds.TenantID,
		url.QueryEscape(string(contentType)),
		url.QueryEscape(window.StartISO),
		url.QueryEscape(window.EndISO),
	)
}

func (c *HTTPApiClient) ListContent(ctx context.Context, listURL string) ([]ContentBlob, string, Status, error) {
	body, nextURL, status, err := c.get(ctx, listURL)
	if status != StatusOK {
		return nil, "", status, err
	}

	var descriptors []contentBlobDescriptor
	if err := json.Unmarshal([]byte(body), &descriptors); err != nil {
		return nil, "", StatusPermanentError, fmt.Errorf("decoding content list: %w", err)
	}

	blobs := make([]ContentBlob, 0, len(descriptors))
	for _, d := range descriptors {
		ct, perr := ParseContentType(d.ContentType)
		if perr != nil {
			continue
		}
		blobs = append(blobs, ContentBlob{
			ContentID:   d.ContentID,
			ContentType: ct,
			URL:         d.ContentURI,
			Expiration:  d.ContentExpiration,
		})
	}
	return blobs, nextURL, StatusOK, nil
}

func (c *HTTPApiClient) FetchContent(ctx context.Context, blob ContentBlob) (string, Status, error) {
	body, _, status, err := c.get(ctx, blob.URL)
	return body, status, err
}

// get performs one authenticated GET, enforcing maxBodySize and mapping
// the response into ApiClient's discriminated Status.
func (c *HTTPApiClient) get(ctx context.Context, target string) (body, nextURL string, status Status, err error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return "", "", StatusTransientError, fmt.Errorf("acquiring token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", "", StatusPermanentError, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", StatusTransientError, fmt.Errorf("requesting %s: %w", target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", "", StatusRateLimited, nil
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", "", StatusTransientError, fmt.Errorf("transient status %d from %s", resp.StatusCode, target)
	case resp.StatusCode >= 400:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", "", StatusPermanentError, fmt.Errorf("permanent status %d from %s", resp.StatusCode, target)
	}

	limited := io.LimitReader(resp.Body, c.maxBodySize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", "", StatusTransientError, fmt.Errorf("reading body from %s: %w", target, err)
	}
	if int64(len(data)) > c.maxBodySize {
		return "", "", StatusPermanentError, fmt.Errorf("response from %s exceeds max body size %d", target, c.maxBodySize)
	}

	return string(data), resp.Header.Get("NextPageUri"), StatusOK, nil
}

// getToken acquires and caches a client-credentials access token. This is
// the one narrow OAuth surface the core's ApiClient implementation needs;
// spec.md treats token acquisition as an external collaborator, so this
// stays a small hand-rolled POST rather than pulling in a general OAuth2
// client library no SPEC_FULL component otherwise exercises.
func (c *HTTPApiClient) getToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimSuffix(c.creds.Endpoints.LoginEndpoint, "/"), c.creds.TenantID)

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.creds.ClientID)
	form.Set("client_secret", c.creds.ClientSecret)
	form.Set("scope", c.creds.Endpoints.Resource+"/.default")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}

	c.token = tokenResp.AccessToken
	// Refresh a little early to avoid racing expiry mid-request.
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - 30*time.Second)
	return c.token, nil
}
