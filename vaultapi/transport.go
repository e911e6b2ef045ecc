/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package vaultapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/xid"
	"golang.org/x/time/rate"

	"github.com/acronis/go-vaultkit/log"
	"github.com/acronis/go-vaultkit/retry"
)

// RequestIDHeader is the HTTP header carrying the generated request ID.
const RequestIDHeader = "X-Request-ID"

// RetryAttemptNumberHeader contains the serial number of the retry attempt.
const RetryAttemptNumberHeader = "X-Retry-Attempt"

// BearerAuthRoundTripper sets the Authorization header with the vault API key
// in all outgoing requests.
type BearerAuthRoundTripper struct {
	Delegate http.RoundTripper
	APIKey   string
}

// NewBearerAuthRoundTripper creates a new BearerAuthRoundTripper.
func NewBearerAuthRoundTripper(delegate http.RoundTripper, apiKey string) *BearerAuthRoundTripper {
	return &BearerAuthRoundTripper{Delegate: delegate, APIKey: apiKey}
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
func (rt *BearerAuthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") != "" {
		return rt.Delegate.RoundTrip(req)
	}
	req = cloneRequest(req) // Per RoundTripper contract.
	req.Header.Set("Authorization", "Bearer "+rt.APIKey)
	return rt.Delegate.RoundTrip(req)
}

// UserAgentRoundTripper sets the User-Agent header in outgoing requests
// that don't have one yet.
type UserAgentRoundTripper struct {
	Delegate  http.RoundTripper
	UserAgent string
}

// NewUserAgentRoundTripper creates a new UserAgentRoundTripper.
func NewUserAgentRoundTripper(delegate http.RoundTripper, userAgent string) *UserAgentRoundTripper {
	return &UserAgentRoundTripper{Delegate: delegate, UserAgent: userAgent}
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
func (rt *UserAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return rt.Delegate.RoundTrip(req)
	}
	req = cloneRequest(req) // Per RoundTripper contract.
	req.Header.Set("User-Agent", rt.UserAgent)
	return rt.Delegate.RoundTrip(req)
}

// RequestIDRoundTripper adds the X-Request-ID header to outgoing requests.
// The ID is taken from RequestIDProvider or generated as a new xid.
type RequestIDRoundTripper struct {
	Delegate http.RoundTripper

	// RequestIDProvider is a function that provides a request ID.
	// A new xid is generated when it is nil or returns an empty string.
	RequestIDProvider func(ctx context.Context) string
}

// NewRequestIDRoundTripper creates a new RequestIDRoundTripper.
func NewRequestIDRoundTripper(delegate http.RoundTripper) *RequestIDRoundTripper {
	return &RequestIDRoundTripper{Delegate: delegate}
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
func (rt *RequestIDRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(RequestIDHeader) != "" {
		return rt.Delegate.RoundTrip(req)
	}
	requestID := ""
	if rt.RequestIDProvider != nil {
		requestID = rt.RequestIDProvider(req.Context())
	}
	if requestID == "" {
		requestID = xid.New().String()
	}
	req = cloneRequest(req) // Per RoundTripper contract.
	req.Header.Set(RequestIDHeader, requestID)
	return rt.Delegate.RoundTrip(req)
}

// Default parameter values for RateLimitingRoundTripper.
const (
	DefaultRateLimitingBurst       = 1
	DefaultRateLimitingWaitTimeout = 15 * time.Second
)

// RateLimitingRoundTripperOpts represents options for RateLimitingRoundTripper.
type RateLimitingRoundTripperOpts struct {
	Burst       int
	WaitTimeout time.Duration
}

// RateLimitingRoundTripper limits the rate of outgoing requests on the client side.
type RateLimitingRoundTripper struct {
	Delegate    http.RoundTripper
	WaitTimeout time.Duration

	rateLimiter *rate.Limiter
}

// NewRateLimitingRoundTripper creates a new RateLimitingRoundTripper with specified rate limit.
func NewRateLimitingRoundTripper(delegate http.RoundTripper, rateLimit int) (*RateLimitingRoundTripper, error) {
	return NewRateLimitingRoundTripperWithOpts(delegate, rateLimit, RateLimitingRoundTripperOpts{})
}

// NewRateLimitingRoundTripperWithOpts creates a new RateLimitingRoundTripper
// with specified rate limit and options.
// For options that are not presented, the default values will be used.
func NewRateLimitingRoundTripperWithOpts(
	delegate http.RoundTripper, rateLimit int, opts RateLimitingRoundTripperOpts,
) (*RateLimitingRoundTripper, error) {
	if rateLimit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive")
	}
	if opts.Burst < 0 {
		return nil, fmt.Errorf("burst must not be negative")
	}
	if opts.Burst == 0 {
		opts.Burst = DefaultRateLimitingBurst
	}
	if opts.WaitTimeout == 0 {
		opts.WaitTimeout = DefaultRateLimitingWaitTimeout
	}
	return &RateLimitingRoundTripper{
		Delegate:    delegate,
		WaitTimeout: opts.WaitTimeout,
		rateLimiter: rate.NewLimiter(rate.Limit(rateLimit), opts.Burst),
	}, nil
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
func (rt *RateLimitingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), rt.WaitTimeout)
	defer cancel()
	if err := rt.rateLimiter.Wait(ctx); err != nil {
		if req.Body != nil {
			_ = req.Body.Close() // Per RoundTripper contract.
		}
		return nil, &RateLimitingWaitError{Inner: err}
	}
	return rt.Delegate.RoundTrip(req)
}

// RateLimitingWaitError is returned in RoundTrip method of RateLimitingRoundTripper
// when the request could not be admitted within the wait timeout.
type RateLimitingWaitError struct {
	Inner error
}

func (e *RateLimitingWaitError) Error() string {
	return fmt.Sprintf("wait due to client side rate limiting: %s", e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *RateLimitingWaitError) Unwrap() error {
	return e.Inner
}

// LoggingMode represents a mode of request logging.
type LoggingMode string

// Logging modes.
const (
	LoggingModeNone   LoggingMode = "none"
	LoggingModeAll    LoggingMode = "all"
	LoggingModeFailed LoggingMode = "failed"
)

// IsValid checks if the logging mode is valid.
func (lm LoggingMode) IsValid() bool {
	switch lm {
	case LoggingModeNone, LoggingModeAll, LoggingModeFailed:
		return true
	}
	return false
}

// LoggingRoundTripperOpts represents options for LoggingRoundTripper.
type LoggingRoundTripperOpts struct {
	// Mode of logging: none, all, failed.
	Mode LoggingMode

	// SlowRequestThreshold is a threshold above which a request is logged
	// at warning level.
	SlowRequestThreshold time.Duration
}

// LoggingRoundTripper logs outgoing requests.
type LoggingRoundTripper struct {
	Delegate http.RoundTripper
	Logger   log.FieldLogger
	Opts     LoggingRoundTripperOpts
}

// NewLoggingRoundTripper creates a new LoggingRoundTripper logging all requests.
func NewLoggingRoundTripper(delegate http.RoundTripper, logger log.FieldLogger) *LoggingRoundTripper {
	return NewLoggingRoundTripperWithOpts(delegate, logger, LoggingRoundTripperOpts{Mode: LoggingModeAll})
}

// NewLoggingRoundTripperWithOpts creates a new LoggingRoundTripper with options.
func NewLoggingRoundTripperWithOpts(
	delegate http.RoundTripper, logger log.FieldLogger, opts LoggingRoundTripperOpts,
) *LoggingRoundTripper {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	return &LoggingRoundTripper{Delegate: delegate, Logger: logger, Opts: opts}
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
func (rt *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.Opts.Mode == LoggingModeNone {
		return rt.Delegate.RoundTrip(req)
	}

	start := time.Now()
	resp, err := rt.Delegate.RoundTrip(req)
	elapsed := time.Since(start)

	fields := []log.Field{
		log.String("method", req.Method),
		log.String("url", req.URL.Redacted()),
		log.DurationIn(elapsed, time.Millisecond),
	}
	if requestID := req.Header.Get(RequestIDHeader); requestID != "" {
		fields = append(fields, log.String("request_id", requestID))
	}

	switch {
	case err != nil:
		rt.Logger.Error("vault api request failed", append(fields, log.Error(err))...)
	case resp.StatusCode >= http.StatusBadRequest:
		rt.Logger.Warn("vault api request completed with error status",
			append(fields, log.Int("status_code", resp.StatusCode))...)
	case rt.Opts.SlowRequestThreshold > 0 && elapsed >= rt.Opts.SlowRequestThreshold:
		rt.Logger.Warn("slow vault api request",
			append(fields, log.Int("status_code", resp.StatusCode))...)
	case rt.Opts.Mode == LoggingModeAll:
		rt.Logger.Info("vault api request completed",
			append(fields, log.Int("status_code", resp.StatusCode))...)
	}
	return resp, err
}

// Default parameter values for RetryableRoundTripper.
const (
	DefaultMaxRetryAttempts                  = 3
	DefaultExponentialBackoffInitialInterval = time.Second
	DefaultExponentialBackoffMultiplier      = 2
)

// UnlimitedRetryAttempts should be used as RetryableRoundTripperOpts.MaxRetryAttempts value
// when retries should be stopped only by the backoff policy.
const UnlimitedRetryAttempts = -1

// CheckRetryFunc is called right after RoundTrip() method
// and determines if the next retry attempt is needed.
type CheckRetryFunc func(ctx context.Context, resp *http.Response, roundTripErr error, doneRetryAttempts int) (bool, error)

// RetryableRoundTripperOpts represents options for RetryableRoundTripper.
type RetryableRoundTripperOpts struct {
	// Logger is used for logging retry progress.
	Logger log.FieldLogger

	// MaxRetryAttempts determines how many maximum retry attempts can be done.
	// The total number of sent requests may be MaxRetryAttempts + 1
	// (the first request is not a retry attempt).
	// By default, DefaultMaxRetryAttempts const is used.
	MaxRetryAttempts int

	// CheckRetryFunc determines if the next retry attempt is needed.
	// By default, DefaultCheckRetry function is used.
	CheckRetryFunc CheckRetryFunc

	// IgnoreRetryAfter disables using the Retry-After response header
	// as the wait time before the next retry attempt.
	IgnoreRetryAfter bool

	// BackoffPolicy computes the wait time before the next retry attempt
	// when the response doesn't contain the Retry-After header or IgnoreRetryAfter is true.
	// By default, DefaultBackoffPolicy is used.
	BackoffPolicy retry.Policy
}

// RetryableRoundTripper retries failed HTTP requests.
type RetryableRoundTripper struct {
	Delegate http.RoundTripper

	Logger           log.FieldLogger
	MaxRetryAttempts int
	CheckRetry       CheckRetryFunc
	IgnoreRetryAfter bool
	BackoffPolicy    retry.Policy
}

// NewRetryableRoundTripper returns a new instance of RetryableRoundTripper.
func NewRetryableRoundTripper(delegate http.RoundTripper) (*RetryableRoundTripper, error) {
	return NewRetryableRoundTripperWithOpts(delegate, RetryableRoundTripperOpts{})
}

// NewRetryableRoundTripperWithOpts creates a new instance of RetryableRoundTripper with specified options.
func NewRetryableRoundTripperWithOpts(
	delegate http.RoundTripper, opts RetryableRoundTripperOpts,
) (*RetryableRoundTripper, error) {
	if opts.MaxRetryAttempts < 0 && opts.MaxRetryAttempts != UnlimitedRetryAttempts {
		return nil, fmt.Errorf("incorrect max retry attempts")
	}
	if opts.MaxRetryAttempts == 0 {
		opts.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.CheckRetryFunc == nil {
		opts.CheckRetryFunc = DefaultCheckRetry
	}
	if opts.BackoffPolicy == nil {
		opts.BackoffPolicy = DefaultBackoffPolicy
	}
	return &RetryableRoundTripper{
		Delegate:         delegate,
		Logger:           opts.Logger,
		MaxRetryAttempts: opts.MaxRetryAttempts,
		CheckRetry:       opts.CheckRetryFunc,
		IgnoreRetryAfter: opts.IgnoreRetryAfter,
		BackoffPolicy:    opts.BackoffPolicy,
	}, nil
}

// RoundTrip performs the request with retries.
func (rt *RetryableRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rewindReqBody := func(r *http.Request) error { return nil }
	if req.Body != nil {
		originalReqBody := req.Body
		defer func() {
			_ = originalReqBody.Close() // Per RoundTripper contract.
		}()

		var err error
		rewindReqBody, err = makeRequestBodyRewindable(req)
		if err != nil {
			return nil, &RetryableRoundTripperError{Inner: err}
		}
	}

	getNextWaitTime := rt.makeNextWaitTimeProvider()
	reqCtx := req.Context()
	reqCloned := false

	var resp *http.Response
	var roundTripErr error
	for curRetryAttemptNum := 0; ; curRetryAttemptNum++ {
		if rewindErr := rewindReqBody(req); rewindErr != nil {
			if curRetryAttemptNum == 0 {
				return nil, &RetryableRoundTripperError{Inner: rewindErr}
			}
			rt.Logger.Error("failed to rewind request body between retry attempts",
				log.Int("requests_done", curRetryAttemptNum+1), log.Error(rewindErr))
			return resp, roundTripErr
		}

		// Discard and close response body before next retry.
		if resp != nil && roundTripErr == nil {
			rt.drainResponseBody(resp)
		}

		if curRetryAttemptNum > 0 {
			if !reqCloned {
				req, reqCloned = req.Clone(req.Context()), true // Per RoundTripper contract.
			}
			req.Header.Set(RetryAttemptNumberHeader, strconv.Itoa(curRetryAttemptNum))
		}

		resp, roundTripErr = rt.Delegate.RoundTrip(req)

		needRetry, checkRetryErr := rt.CheckRetry(reqCtx, resp, roundTripErr, curRetryAttemptNum)
		if checkRetryErr != nil {
			rt.Logger.Error("failed to check if retry is needed",
				log.Int("requests_done", curRetryAttemptNum+1), log.Error(checkRetryErr))
			return resp, roundTripErr
		}
		if !needRetry {
			return resp, roundTripErr
		}

		if rt.MaxRetryAttempts > 0 && curRetryAttemptNum >= rt.MaxRetryAttempts {
			rt.Logger.Warn("max retry attempts exceeded",
				log.Int("max_retry_attempts", rt.MaxRetryAttempts), log.Int("requests_done", curRetryAttemptNum+1))
			return resp, roundTripErr
		}
		waitTime, stop := getNextWaitTime(resp)
		if stop {
			return resp, roundTripErr
		}

		select {
		case <-reqCtx.Done():
			rt.Logger.Warn("context is done while waiting for the next retry attempt",
				log.Int("requests_done", curRetryAttemptNum+1), log.Error(reqCtx.Err()))
			return resp, roundTripErr
		case <-time.After(waitTime):
		}
	}
}

type waitTimeProvider func(resp *http.Response) (waitTime time.Duration, stop bool)

func (rt *RetryableRoundTripper) makeNextWaitTimeProvider() waitTimeProvider {
	bf := rt.BackoffPolicy.NewBackOff()
	return func(resp *http.Response) (waitTime time.Duration, stop bool) {
		if resp != nil && !rt.IgnoreRetryAfter {
			if retryAfter, ok := parseRetryAfterFromResponse(resp); ok {
				return retryAfter, false
			}
		}
		waitTime = bf.NextBackOff()
		return waitTime, waitTime == backoff.Stop
	}
}

func (rt *RetryableRoundTripper) drainResponseBody(resp *http.Response) {
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			rt.Logger.Error("failed to close previous response body between retry attempts", log.Error(closeErr))
		}
	}()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		rt.Logger.Error("failed to discard previous response body between retry attempts", log.Error(err))
	}
}

// RetryableRoundTripperError is returned in RoundTrip method of RetryableRoundTripper
// when the original request cannot be potentially retried.
type RetryableRoundTripperError struct {
	Inner error
}

func (e *RetryableRoundTripperError) Error() string {
	return fmt.Sprintf("retryable round trip: %s", e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *RetryableRoundTripperError) Unwrap() error {
	return e.Inner
}

// DefaultCheckRetry retries on temporary network errors, 429 and 5xx statuses.
func DefaultCheckRetry(
	ctx context.Context, resp *http.Response, roundTripErr error, doneRetryAttempts int,
) (needRetry bool, err error) {
	if roundTripErr != nil {
		return CheckErrorIsTemporary(roundTripErr), nil
	}
	if resp == nil {
		return false, fmt.Errorf("both response and round trip error are nil")
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError, nil
}

// DefaultBackoffPolicy is a default backoff policy.
var DefaultBackoffPolicy = retry.PolicyFunc(func() backoff.BackOff {
	bf := backoff.NewExponentialBackOff()
	bf.InitialInterval = DefaultExponentialBackoffInitialInterval
	bf.Multiplier = DefaultExponentialBackoffMultiplier
	bf.Reset()
	return bf
})

// CheckErrorIsTemporary checks either error is temporary or not.
func CheckErrorIsTemporary(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var terr interface{ Temporary() bool }
	ok := errors.As(err, &terr)
	return ok && terr.Temporary()
}

func makeRequestBodyRewindable(req *http.Request) (func(*http.Request) error, error) {
	if reqBodySeeker, ok := req.Body.(io.ReadSeeker); ok {
		reqBodySeekOffset, err := reqBodySeeker.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("seek request body before doing first request: %w", err)
		}
		req.Body = io.NopCloser(req.Body)
		return func(r *http.Request) (err error) {
			if _, err = reqBodySeeker.Seek(reqBodySeekOffset, io.SeekStart); err != nil {
				return fmt.Errorf("seek request body (offset=%d): %w", reqBodySeekOffset, err)
			}
			return nil
		}, nil
	}

	bufferedReqBody, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body before doing first request: %w", err)
	}
	return func(r *http.Request) error {
		r.Body = io.NopCloser(bytes.NewReader(bufferedReqBody))
		return nil
	}, nil
}

func parseRetryAfterFromResponse(resp *http.Response) (retryAfter time.Duration, ok bool) {
	retryAfterVal := resp.Header.Get("Retry-After")
	if retryAfterVal == "" {
		return 0, false
	}

	parsedInt, parseIntErr := strconv.Atoi(retryAfterVal)
	if parseIntErr != nil {
		parsedTime, parsedTimeErr := time.Parse(time.RFC1123, retryAfterVal)
		if parsedTimeErr != nil {
			return 0, false
		}
		return time.Until(parsedTime), true
	}
	if parsedInt < 0 {
		return 0, false
	}
	return time.Duration(parsedInt) * time.Second, true
}

// cloneRequest creates a shallow copy of the request along with a deep copy of the headers.
func cloneRequest(req *http.Request) *http.Request {
	r := new(http.Request)
	*r = *req
	r.Header = make(http.Header, len(req.Header))
	for key, values := range req.Header {
		newValues := make([]string, len(values))
		copy(newValues, values)
		r.Header[key] = newValues
	}
	return r
}
