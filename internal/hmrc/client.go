// Package hmrc is the client for the HMRC Confirmation-of-Payee API. It owns
// the retry contract for both operations: only 5xx responses are retried,
// with a fixed backoff, a per-operation retry budget and an overall deadline.
package hmrc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"bav/internal/platform/config"
)

const (
	tokenPath  = "/oauth/token"
	verifyPath = "/misc/bank-account/verify/personal"

	maxBodyBytes = 1 << 20
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client calls the HMRC token and verify endpoints. Safe for concurrent use.
type Client struct {
	baseURL       string
	clientID      string
	clientSecret  string
	userAgent     string
	verifyRetries int
	verifyBackoff time.Duration
	retryDeadline time.Duration
	tokenTTL      time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	sleep      SleepFunc
	now        func() time.Time
	logger     *slog.Logger
	metrics    *Metrics
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSleep replaces the backoff sleep. Tests use it to count sleeps without waiting.
func WithSleep(fn SleepFunc) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLimiter overrides the outbound request limiter. A nil limiter disables pacing.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func NewClient(cfg config.HMRCConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		userAgent:     cfg.UserAgent,
		verifyRetries: cfg.VerifyMaxRetries,
		verifyBackoff: cfg.VerifyBackoff,
		retryDeadline: cfg.RetryDeadline,
		tokenTTL:      cfg.TokenTTLFallback,
		httpClient:    &http.Client{Timeout: cfg.HTTPTimeout},
		sleep:         sleepContext,
		now:           time.Now,
		logger:        slog.Default(),
		tracer:        otel.Tracer("bav/internal/hmrc"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if c.tokenTTL <= 0 {
		c.tokenTTL = 4 * time.Hour
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token is a bearer credential for the verify endpoint.
type Token struct {
	Value    string        `json:"value"`
	IssuedAt time.Time     `json:"issued_at"`
	TTL      time.Duration `json:"ttl"`
}

func (t Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.TTL)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AcquireToken exchanges client credentials for a bearer token. A 5xx is
// retried up to maxRetries more times, sleeping backoff between attempts.
func (c *Client) AcquireToken(ctx context.Context, maxRetries int, backoff time.Duration) (Token, error) {
	ctx, span := c.tracer.Start(ctx, "hmrc.AcquireToken")
	defer span.End()

	var token Token
	err := c.withRetry(ctx, OperationToken, maxRetries, backoff, func(ctx context.Context) error {
		form := url.Values{
			"client_id":     {c.clientID},
			"client_secret": {c.clientSecret},
			"grant_type":    {"client_credentials"},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
		if err != nil {
			return newError(OperationToken, CategoryInternal, 0, "build request", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		body, err := c.do(req, OperationToken)
		if err != nil {
			return err
		}

		var resp tokenResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return newError(OperationToken, CategoryMalformed, http.StatusOK, "decode token response", err)
		}
		if resp.AccessToken == "" {
			return newError(OperationToken, CategoryMalformed, http.StatusOK, "token response has no access_token", nil)
		}
		ttl := c.tokenTTL
		if resp.ExpiresIn > 0 {
			ttl = time.Duration(resp.ExpiresIn) * time.Second
		}
		token = Token{Value: resp.AccessToken, IssuedAt: c.now(), TTL: ttl}
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		c.logger.ErrorContext(ctx, "failed to generate HMRC token",
			"error", err,
			"error_kind", string(GetCategory(err)),
			"message_code", "FAILED_GENERATING_HMRC_TOKEN",
			"attempts", Attempts(err),
		)
		return Token{}, err
	}
	c.logger.InfoContext(ctx, "received response from HMRC token endpoint")
	return token, nil
}

// VerifyRequest is the account and name submitted for a check.
type VerifyRequest struct {
	AccountNumber string
	SortCode      string
	Name          string
}

// VerifyResponse is the HMRC verdict. Only NameMatches and AccountExists
// drive classification; the rest is logged.
type VerifyResponse struct {
	AccountNumberIsWellFormatted             string `json:"accountNumberIsWellFormatted"`
	AccountExists                            string `json:"accountExists"`
	NameMatches                              string `json:"nameMatches"`
	AccountName                              string `json:"accountName,omitempty"`
	NonStandardAccountDetailsRequiredForBacs string `json:"nonStandardAccountDetailsRequiredForBacs"`
	SortCodeIsPresentOnEISCD                 string `json:"sortCodeIsPresentOnEISCD"`
	SortCodeSupportsDirectDebit              string `json:"sortCodeSupportsDirectDebit"`
	SortCodeSupportsDirectCredit             string `json:"sortCodeSupportsDirectCredit"`
	SortCodeBankName                         string `json:"sortCodeBankName,omitempty"`
	IBAN                                     string `json:"iban,omitempty"`
}

type verifyPayload struct {
	Account struct {
		AccountNumber string `json:"accountNumber"`
		SortCode      string `json:"sortCode"`
	} `json:"account"`
	Subject struct {
		Name string `json:"name"`
	} `json:"subject"`
}

// Verify submits one check. A 5xx is retried up to the configured verify
// budget; the token is never refreshed inside the loop.
func (c *Client) Verify(ctx context.Context, in VerifyRequest, token string) (*VerifyResponse, error) {
	ctx, span := c.tracer.Start(ctx, "hmrc.Verify")
	defer span.End()

	var payload verifyPayload
	payload.Account.AccountNumber = in.AccountNumber
	payload.Account.SortCode = in.SortCode
	payload.Subject.Name = in.Name
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, newError(OperationVerify, CategoryInternal, 0, "encode verify request", err)
	}

	c.logger.InfoContext(ctx, "sending COP verify request to HMRC", "endpoint", c.baseURL+verifyPath)

	var out *VerifyResponse
	err = c.withRetry(ctx, OperationVerify, c.verifyRetries, c.verifyBackoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+verifyPath, bytes.NewReader(raw))
		if err != nil {
			return newError(OperationVerify, CategoryInternal, 0, "build request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		body, err := c.do(req, OperationVerify)
		if err != nil {
			return err
		}
		resp, err := decodeVerifyResponse(body)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		c.logger.ErrorContext(ctx, "error sending COP verify request to HMRC",
			"error", err,
			"error_kind", string(GetCategory(err)),
			"message_code", "FAILED_VERIFYING_ACCOUNT",
			"attempts", Attempts(err),
		)
		return nil, err
	}

	c.logger.DebugContext(ctx, "received response from HMRC COP verify request",
		"accountNumberIsWellFormatted", out.AccountNumberIsWellFormatted,
		"accountExists", out.AccountExists,
		"nameMatches", out.NameMatches,
		"nonStandardAccountDetailsRequiredForBacs", out.NonStandardAccountDetailsRequiredForBacs,
		"sortCodeIsPresentOnEISCD", out.SortCodeIsPresentOnEISCD,
		"sortCodeSupportsDirectDebit", out.SortCodeSupportsDirectDebit,
		"sortCodeSupportsDirectCredit", out.SortCodeSupportsDirectCredit,
	)
	span.SetAttributes(
		attribute.String("hmrc.name_matches", out.NameMatches),
		attribute.String("hmrc.account_exists", out.AccountExists),
	)
	return out, nil
}

func decodeVerifyResponse(body []byte) (*VerifyResponse, error) {
	// presence check first: an absent signal must not decode to ""
	var signals struct {
		NameMatches   *string `json:"nameMatches"`
		AccountExists *string `json:"accountExists"`
	}
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, newError(OperationVerify, CategoryMalformed, http.StatusOK, "decode verify response", err)
	}
	if signals.NameMatches == nil || signals.AccountExists == nil {
		return nil, newError(OperationVerify, CategoryMalformed, http.StatusOK, "verify response missing nameMatches or accountExists", nil)
	}
	var resp VerifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newError(OperationVerify, CategoryMalformed, http.StatusOK, "decode verify response", err)
	}
	return &resp, nil
}

// do sends one attempt and returns the body of a 2xx response.
func (c *Client) do(req *http.Request, op Operation) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, newError(op, CategoryTimeout, 0, "rate limiter wait", err)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveAttempt(op, "transport_error", time.Since(start))
		if isTimeout(err) {
			return nil, newError(op, CategoryTimeout, 0, "request timed out", err)
		}
		return nil, newError(op, CategoryRejected, 0, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.metrics.ObserveAttempt(op, statusClass(resp.StatusCode), time.Since(start))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newError(op, categoryForStatus(resp.StatusCode), resp.StatusCode, "unexpected status", nil)
	}
	if err != nil {
		return nil, newError(op, CategoryMalformed, resp.StatusCode, "read response body", err)
	}
	return body, nil
}

// withRetry runs call until it succeeds, fails non-transiently, or the retry
// budget is spent. The whole loop is bounded by the retry deadline.
func (c *Client) withRetry(ctx context.Context, op Operation, maxRetries int, backoff time.Duration, call func(context.Context) error) error {
	if c.retryDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.retryDeadline)
		defer cancel()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 1; ; attempt++ {
		err := call(ctx)
		if err == nil {
			return nil
		}

		var ve *VerifierError
		if !errors.As(err, &ve) {
			ve = newError(op, CategoryInternal, 0, "unexpected failure", err)
		}
		ve.Attempts = attempt
		if ve.Category != CategoryTransient {
			return ve
		}
		if attempt > maxRetries {
			return &VerifierError{
				Category:   CategoryExhausted,
				Operation:  op,
				StatusCode: ve.StatusCode,
				Attempts:   attempt,
				Message:    fmt.Sprintf("retries exhausted (max %d)", maxRetries),
				Underlying: ve,
			}
		}

		c.metrics.IncRetry(op)
		c.logger.WarnContext(ctx, "retrying HMRC call after server error",
			"operation", string(op),
			"status", ve.StatusCode,
			"retry_count", attempt,
			"backoff_ms", backoff.Milliseconds(),
		)
		if err := c.sleep(ctx, backoff); err != nil {
			return &VerifierError{
				Category:   CategoryTimeout,
				Operation:  op,
				StatusCode: ve.StatusCode,
				Attempts:   attempt,
				Message:    "retry deadline exceeded",
				Underlying: err,
			}
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func statusClass(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(GetCategory(err)))
}
