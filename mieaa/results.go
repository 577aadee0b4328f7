package mieaa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/mieaa/internal/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const statusFailed = "FAILED"

// Progress of a remote job.
type Progress struct {
	Percent float64
	Failed  bool
}

// Done reports whether polling can stop.
func (p Progress) Done() bool { return p.Failed || p.Percent >= 100 }

func (p Progress) String() string {
	if p.Failed {
		return statusFailed
	}
	return strconv.FormatFloat(p.Percent, 'f', -1, 64)
}

// ResultOptions tune the wait for results. Zero values use the session's
// configured poll interval and retry bound.
type ResultOptions struct {
	PollInterval time.Duration
	MaxRetries   int
}

// Result is an enrichment result payload in the format it was fetched in.
type Result struct {
	Format Format
	Body   []byte
	// Failed is set when the remote job failed. Body is then "[]" for JSON
	// and empty for CSV.
	Failed bool
}

// Text returns the payload as a string.
func (r *Result) Text() string { return string(r.Body) }

// Rows decodes a JSON payload.
func (r *Result) Rows() ([]any, error) {
	if r.Format != JSON {
		return nil, fmt.Errorf("%w: rows are only available for json results", ErrInvalidRequest)
	}
	rows := []any{}
	if err := json.Unmarshal(r.Body, &rows); err != nil {
		return nil, &MalformedResponseError{Endpoint: endpointResults, Body: r.Text(), Err: err}
	}
	return rows, nil
}

func (r *Result) clone() *Result {
	out := *r
	out.Body = bytes.Clone(r.Body)
	return &out
}

func failedResult(format Format) *Result {
	if format == JSON {
		return &Result{Format: format, Body: []byte("[]"), Failed: true}
	}
	return &Result{Format: format, Body: []byte{}, Failed: true}
}

// Progress fetches the attached job's progress once.
func (s *Session) Progress(ctx context.Context) (Progress, error) {
	if err := s.enter(); err != nil {
		return Progress{}, err
	}
	defer s.leave()

	id, ok := s.JobID()
	if !ok {
		return Progress{}, ErrNoJob
	}
	return s.progress(ctx, id)
}

func (s *Session) progress(ctx context.Context, id string) (Progress, error) {
	resp, err := s.send(ctx, transport.Request{
		Method:   http.MethodGet,
		URL:      s.statusURL(id),
		Endpoint: endpointStatus,
	})
	if err != nil {
		return Progress{}, err
	}
	p, err := decodeProgress(resp.Body)
	if err != nil {
		return Progress{}, &MalformedResponseError{Endpoint: endpointStatus, Body: resp.Text(), Err: err}
	}
	return p, nil
}

// decodeProgress accepts {"status": <number | numeric string | "FAILED">}.
func decodeProgress(body []byte) (Progress, error) {
	var payload struct {
		Status json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Progress{}, err
	}
	raw := bytes.TrimSpace(payload.Status)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Progress{}, errors.New("status missing")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return Progress{Percent: f}, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return Progress{}, fmt.Errorf("unexpected status %s", raw)
	}
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, statusFailed) {
		return Progress{Failed: true}, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(text, "%"), 64)
	if err != nil {
		return Progress{}, fmt.Errorf("unexpected status %q", text)
	}
	return Progress{Percent: f}, nil
}

// Results waits for the attached job and returns its payload in format.
//
// A payload already fetched in the same format is returned without network
// access. A payload in the other format stays cached until a fetch in format
// succeeds. Otherwise the job is polled every PollInterval until it completes
// or fails; a failed job yields an empty Result with Failed set and no error.
// A dropped connection restarts the whole poll-and-fetch sequence, up to
// MaxRetries attempts, after which ErrRetriesExhausted is returned. HTTP
// errors, malformed answers and context cancellation are never retried.
func (s *Session) Results(ctx context.Context, format Format, opts ResultOptions) (res *Result, err error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.leave()

	if !format.valid() {
		return nil, fmt.Errorf("%w: unknown results format %q", ErrInvalidRequest, format)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = s.pollInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = s.maxRetries
	}

	s.mu.Lock()
	j := s.job
	if j == nil {
		s.mu.Unlock()
		return nil, ErrNoJob
	}
	if j.result != nil && j.result.Format == format {
		cached := j.result.clone()
		s.mu.Unlock()
		return cached, nil
	}
	j.polling = true
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "mieaa.Results")
	span.SetAttributes(attribute.String("mieaa.job_id", j.id), attribute.String("mieaa.format", string(format)))
	defer func() {
		s.mu.Lock()
		j.polling = false
		s.mu.Unlock()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := s.logger.With(zap.String("job_id", j.id), zap.String("format", string(format)))
	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		res, err := s.pollAndFetch(ctx, logger, j.id, format, opts.PollInterval)
		if err == nil {
			if !res.Failed {
				s.mu.Lock()
				if s.job == j {
					j.result = res
				}
				s.mu.Unlock()
			}
			return res.clone(), nil
		}
		if !connectionError(ctx, err) {
			return nil, err
		}
		lastErr = err
		logger.Warn("connection lost while waiting for results, restarting",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", opts.MaxRetries),
			zap.Error(err))
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, opts.MaxRetries, lastErr)
}

// pollAndFetch is one attempt: poll until the job is done, then fetch.
func (s *Session) pollAndFetch(ctx context.Context, logger *zap.Logger, id string, format Format, interval time.Duration) (*Result, error) {
	var p Progress
	for !p.Done() {
		if err := s.sleep(ctx, interval); err != nil {
			return nil, err
		}
		var err error
		if p, err = s.progress(ctx, id); err != nil {
			return nil, err
		}
		logger.Debug("job progress", zap.Stringer("progress", p))
	}
	if p.Failed {
		logger.Warn("remote job failed")
		return failedResult(format), nil
	}

	resp, err := s.send(ctx, transport.Request{
		Method:   http.MethodGet,
		URL:      s.resultsURL(id),
		Endpoint: endpointResults,
		Query:    url.Values{"format": {string(format)}},
	})
	if err != nil {
		return nil, err
	}
	if format == JSON && !json.Valid(resp.Body) {
		return nil, &MalformedResponseError{Endpoint: endpointResults, Body: resp.Text(), Err: errors.New("invalid json")}
	}
	logger.Info("results fetched", zap.Int("bytes", len(resp.Body)))
	return &Result{Format: format, Body: resp.Body}, nil
}

// ResultsJSON returns the decoded JSON rows. A failed job yields no rows.
func (s *Session) ResultsJSON(ctx context.Context, opts ResultOptions) ([]any, error) {
	res, err := s.Results(ctx, JSON, opts)
	if err != nil {
		return nil, err
	}
	return res.Rows()
}

// ResultsCSV returns the CSV text. A failed job yields "".
func (s *Session) ResultsCSV(ctx context.Context, opts ResultOptions) (string, error) {
	res, err := s.Results(ctx, CSV, opts)
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

// SaveResults writes the payload to w verbatim and returns it.
func (s *Session) SaveResults(ctx context.Context, w io.Writer, format Format, opts ResultOptions) (*Result, error) {
	res, err := s.Results(ctx, format, opts)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(res.Body); err != nil {
		return nil, fmt.Errorf("write results: %w", err)
	}
	return res, nil
}
