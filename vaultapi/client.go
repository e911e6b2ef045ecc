/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package vaultapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/acronis/go-vaultkit/log"
)

// DefaultBaseURL is the address the Obsidian Local REST API plugin listens on.
const DefaultBaseURL = "https://127.0.0.1:27124"

// DefaultSearchContextLength is the amount of surrounding context returned for search matches.
const DefaultSearchContextLength = 100

// Content types used by the Local REST API.
const (
	contentTypeMarkdown  = "text/markdown"
	contentTypeJSON      = "application/json"
	contentTypeJSONLogic = "application/vnd.olrapi.jsonlogic+json"
)

// PatchOperation tells the API how to apply patched content relative to the target.
type PatchOperation string

// Patch operations.
const (
	PatchOpAppend  PatchOperation = "append"
	PatchOpPrepend PatchOperation = "prepend"
	PatchOpReplace PatchOperation = "replace"
)

// PatchTargetType tells the API what kind of element the patch target refers to.
type PatchTargetType string

// Patch target types.
const (
	PatchTargetHeading     PatchTargetType = "heading"
	PatchTargetBlock       PatchTargetType = "block"
	PatchTargetFrontmatter PatchTargetType = "frontmatter"
)

// NotePeriod identifies a periodic note kind.
type NotePeriod string

// Periodic note kinds.
const (
	PeriodDaily     NotePeriod = "daily"
	PeriodWeekly    NotePeriod = "weekly"
	PeriodMonthly   NotePeriod = "monthly"
	PeriodQuarterly NotePeriod = "quarterly"
	PeriodYearly    NotePeriod = "yearly"
)

// SearchMatch is one match of a simple text search inside a file.
type SearchMatch struct {
	Context string `json:"context"`
	Match   struct {
		Start int `json:"start"`
		End   int `json:"end"`
	} `json:"match"`
}

// SearchResult is a simple text search result for one file.
type SearchResult struct {
	Filename string        `json:"filename"`
	Score    float64       `json:"score"`
	Matches  []SearchMatch `json:"matches"`
}

// JSONSearchResult is a JsonLogic search result for one file.
type JSONSearchResult struct {
	Filename string          `json:"filename"`
	Result   json.RawMessage `json:"result"`
}

// Opts provides options for NewWithOpts and MustWithOpts functions.
type Opts struct {
	// UserAgent is a user agent string set in outgoing requests.
	UserAgent string

	// Delegate is the innermost RoundTripper in the chain.
	// http.DefaultTransport clone is used when it is nil.
	Delegate http.RoundTripper

	// Logger is used by the logging and retryable round trippers.
	Logger log.FieldLogger

	// MetricsCollector is a metrics collector for vault API requests.
	MetricsCollector MetricsCollector

	// RequestIDProvider is a function that provides a request ID.
	// A new xid is generated per request when it is nil.
	RequestIDProvider func(ctx context.Context) string
}

// Client talks to the Obsidian Local REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a Client from the configuration.
func New(cfg *Config) (*Client, error) {
	return NewWithOpts(cfg, Opts{})
}

// Must creates a Client from the configuration and panics if any error occurs.
func Must(cfg *Config) *Client {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// NewWithOpts creates a Client from the configuration and options.
func NewWithOpts(cfg *Config, opts Opts) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vault API key is required")
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	delegate := opts.Delegate
	if delegate == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.TLSSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // nolint:gosec
		}
		delegate = transport
	}

	delegate = NewBearerAuthRoundTripper(delegate, cfg.APIKey)

	if cfg.Logger.Enabled {
		delegate = NewLoggingRoundTripperWithOpts(delegate, opts.Logger, LoggingRoundTripperOpts{
			Mode:                 cfg.Logger.Mode,
			SlowRequestThreshold: cfg.Logger.SlowRequestThreshold,
		})
	}

	if cfg.Metrics.Enabled {
		delegate = NewMetricsRoundTripper(delegate, opts.MetricsCollector)
	}

	if cfg.RateLimits.Enabled {
		var err error
		delegate, err = NewRateLimitingRoundTripperWithOpts(delegate, cfg.RateLimits.Limit, RateLimitingRoundTripperOpts{
			Burst:       cfg.RateLimits.Burst,
			WaitTimeout: time.Duration(cfg.RateLimits.WaitTimeout),
		})
		if err != nil {
			return nil, fmt.Errorf("create rate limiting round tripper: %w", err)
		}
	}

	if opts.UserAgent != "" {
		delegate = NewUserAgentRoundTripper(delegate, opts.UserAgent)
	}

	delegate = &RequestIDRoundTripper{Delegate: delegate, RequestIDProvider: opts.RequestIDProvider}

	if cfg.Retries.Enabled {
		var err error
		delegate, err = NewRetryableRoundTripperWithOpts(delegate, RetryableRoundTripperOpts{
			Logger:           opts.Logger,
			MaxRetryAttempts: cfg.Retries.MaxAttempts,
			BackoffPolicy:    cfg.Retries.GetPolicy(),
		})
		if err != nil {
			return nil, fmt.Errorf("create retryable round tripper: %w", err)
		}
	}

	return &Client{
		httpClient: &http.Client{Transport: delegate, Timeout: cfg.Timeout},
		baseURL:    baseURL,
	}, nil
}

// MustWithOpts creates a Client from the configuration and options and panics if any error occurs.
func MustWithOpts(cfg *Config, opts Opts) *Client {
	c, err := NewWithOpts(cfg, opts)
	if err != nil {
		panic(err)
	}
	return c
}

// ListFiles returns the names of files and directories inside dir.
// Directory names carry a trailing slash. Empty dir lists the vault root.
func (c *Client) ListFiles(ctx context.Context, dir string) ([]string, error) {
	p := "/vault/"
	if dir != "" {
		p = "/vault/" + escapeVaultPath(strings.TrimSuffix(dir, "/")) + "/"
	}
	var listing struct {
		Files []string `json:"files"`
	}
	if err := c.doJSON(ctx, http.MethodGet, p, "", nil, nil, &listing); err != nil {
		return nil, err
	}
	return listing.Files, nil
}

// GetFileContents returns the raw markdown contents of the file at path.
func (c *Client) GetFileContents(ctx context.Context, path string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/vault/"+escapeVaultPath(path), "", nil, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read file contents: %w", err)
	}
	return string(body), nil
}

// Search performs a simple text search over the whole vault.
// contextLength bounds how much surrounding context each match carries,
// DefaultSearchContextLength is used when it is not positive.
func (c *Client) Search(ctx context.Context, query string, contextLength int) ([]SearchResult, error) {
	if contextLength <= 0 {
		contextLength = DefaultSearchContextLength
	}
	p := "/search/simple/?" + url.Values{
		"query":         []string{query},
		"contextLength": []string{strconv.Itoa(contextLength)},
	}.Encode()
	var results []SearchResult
	if err := c.doJSON(ctx, http.MethodPost, p, "", nil, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// SearchJSON performs a complex search using a JsonLogic query.
func (c *Client) SearchJSON(ctx context.Context, query interface{}) ([]JSONSearchResult, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal search query: %w", err)
	}
	var results []JSONSearchResult
	if err := c.doJSON(ctx, http.MethodPost, "/search/", contentTypeJSONLogic, bytes.NewReader(body), nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// AppendContent appends content to the end of the file at path,
// creating the file if it does not exist.
func (c *Client) AppendContent(ctx context.Context, path, content string) error {
	return c.doDiscard(ctx, http.MethodPost, "/vault/"+escapeVaultPath(path),
		contentTypeMarkdown, strings.NewReader(content), nil)
}

// PutContent replaces the whole contents of the file at path,
// creating the file if it does not exist.
func (c *Client) PutContent(ctx context.Context, path, content string) error {
	return c.doDiscard(ctx, http.MethodPut, "/vault/"+escapeVaultPath(path),
		contentTypeMarkdown, strings.NewReader(content), nil)
}

// PatchContent inserts content relative to a heading, block reference,
// or frontmatter field inside the file at path.
func (c *Client) PatchContent(
	ctx context.Context, path string, op PatchOperation, targetType PatchTargetType, target, content string,
) error {
	headers := http.Header{}
	headers.Set("Operation", string(op))
	headers.Set("Target-Type", string(targetType))
	headers.Set("Target", url.QueryEscape(target))
	return c.doDiscard(ctx, http.MethodPatch, "/vault/"+escapeVaultPath(path),
		contentTypeMarkdown, strings.NewReader(content), headers)
}

// DeleteFile deletes the file at path.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	return c.doDiscard(ctx, http.MethodDelete, "/vault/"+escapeVaultPath(path), "", nil, nil)
}

// RenameFile renames or moves the file at oldPath to newPath,
// updating the links pointing at it.
func (c *Client) RenameFile(ctx context.Context, oldPath, newPath string) error {
	body, err := json.Marshal(map[string]string{"newPath": newPath})
	if err != nil {
		return fmt.Errorf("marshal rename request: %w", err)
	}
	return c.doDiscard(ctx, http.MethodPost, "/vault/"+escapeVaultPath(oldPath)+"/rename",
		contentTypeJSON, bytes.NewReader(body), nil)
}

// GetPeriodicNote returns the contents of the current periodic note of the given kind.
func (c *Client) GetPeriodicNote(ctx context.Context, period NotePeriod) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/periodic/"+string(period)+"/", "", nil, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read periodic note: %w", err)
	}
	return string(body), nil
}

// do sends the request and returns the response with a 2xx status.
// Any other status is converted to an APIError, the response body is closed in that case.
func (c *Client) do(
	ctx context.Context, method, path, contentType string, body io.Reader, headers http.Header,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := errorFromResponse(resp)
		_ = resp.Body.Close()
		return nil, apiErr
	}
	return resp, nil
}

func (c *Client) doDiscard(
	ctx context.Context, method, path, contentType string, body io.Reader, headers http.Header,
) error {
	resp, err := c.do(ctx, method, path, contentType, body, headers)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) doJSON(
	ctx context.Context, method, path, contentType string, body io.Reader, headers http.Header, out interface{},
) error {
	resp, err := c.do(ctx, method, path, contentType, body, headers)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// escapeVaultPath escapes each path segment, preserving forward slashes
// so that vault subdirectories stay addressable.
func escapeVaultPath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
