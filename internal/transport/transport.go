// Package transport issues HTTP requests to the miEAA API while keeping a
// minimum wall-clock gap between consecutive calls made through one Client.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultSafetyMargin is added to every minimum interval so a request never
// lands exactly on the server's throttle boundary.
const DefaultSafetyMargin = 100 * time.Millisecond

var tracer = otel.Tracer("mieaa/transport")

// File is a payload attached to a multipart request.
type File struct {
	Field   string
	Name    string
	Content io.Reader
}

// Request describes a single outbound call.
type Request struct {
	Method      string
	URL         string
	Endpoint    string // route template, used as metric/span label
	Query       url.Values
	Form        url.Values
	Files       []File
	MinInterval time.Duration
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// Options configures a Client. Zero values select defaults.
type Options struct {
	Timeout      time.Duration
	SafetyMargin time.Duration
	UserAgent    string
	HTTPClient   *http.Client
	Metrics      *Metrics
	Logger       *zap.Logger
}

// Client is a throttled HTTP client. The throttle timestamp belongs to the
// Client, so two Clients never delay each other.
type Client struct {
	client       *http.Client
	safetyMargin time.Duration
	userAgent    string
	metrics      *Metrics
	logger       *zap.Logger

	mu    sync.Mutex
	last  time.Time
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.SafetyMargin == 0 {
		opts.SafetyMargin = DefaultSafetyMargin
	}
	if opts.SafetyMargin < 0 {
		opts.SafetyMargin = 0
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		client:       hc,
		safetyMargin: opts.SafetyMargin,
		userAgent:    opts.UserAgent,
		metrics:      opts.Metrics,
		logger:       logger,
		last:         time.Now(),
		now:          time.Now,
		sleep:        Sleep,
	}
}

// Send waits out the throttle window, issues the request and reads the whole
// body. Non-2xx responses are returned as-is; only failures to talk to the
// server are errors, and those are never retried here.
func (c *Client) Send(ctx context.Context, r Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "mieaa.transport.send", trace.WithAttributes(
		attribute.String("http.method", r.Method),
		attribute.String("mieaa.endpoint", r.Endpoint),
	))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if wait := c.pending(r.MinInterval); wait > 0 {
		c.metrics.observeWait(wait)
		c.logger.Debug("throttling request",
			zap.String("endpoint", r.Endpoint),
			zap.Duration("wait", wait),
		)
		if err := c.sleep(ctx, wait); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	req, err := c.build(ctx, r)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.last = c.now()
		c.metrics.observeRequest(r.Method, r.Endpoint, outcomeNetwork, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.last = c.now()
	if err != nil {
		c.metrics.observeRequest(r.Method, r.Endpoint, outcomeNetwork, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       body,
	}
	outcome := outcomeOK
	if !out.OK() {
		outcome = outcomeHTTPError
		span.SetStatus(codes.Error, resp.Status)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.metrics.observeRequest(r.Method, r.Endpoint, outcome, time.Since(start))
	c.logger.Debug("request done",
		zap.String("method", r.Method),
		zap.String("endpoint", r.Endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)
	return out, nil
}

// pending returns how long the caller still has to wait. Caller holds c.mu.
func (c *Client) pending(minInterval time.Duration) time.Duration {
	if minInterval < 0 {
		minInterval = 0
	}
	window := minInterval + c.safetyMargin
	elapsed := c.now().Sub(c.last)
	if elapsed >= window {
		return 0
	}
	return window - elapsed
}

func (c *Client) build(ctx context.Context, r Request) (*http.Request, error) {
	target, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", r.URL, err)
	}
	if len(r.Query) > 0 {
		q := target.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case len(r.Files) > 0:
		buf, ct, err := encodeMultipart(r.Form, r.Files)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case r.Form != nil:
		body = strings.NewReader(r.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json, text/plain, text/csv")
	return req, nil
}

func encodeMultipart(form url.Values, files []File) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range form[k] {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", fmt.Errorf("write field %s: %w", k, err)
			}
		}
	}
	for _, f := range files {
		name := f.Name
		if name == "" {
			name = f.Field
		}
		part, err := w.CreateFormFile(f.Field, name)
		if err != nil {
			return nil, "", fmt.Errorf("create file part %s: %w", f.Field, err)
		}
		if f.Content != nil {
			if _, err := io.Copy(part, f.Content); err != nil {
				return nil, "", fmt.Errorf("copy file part %s: %w", f.Field, err)
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// CloseIdleConnections releases pooled connections held by the client.
func (c *Client) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
