// Package mieaa is a client for the miEAA web service: miRBase and
// precursor/mature identifier conversion, and asynchronous ORA/GSEA
// enrichment jobs.
//
// A Session owns at most one enrichment job. Submit attaches a job, Results
// polls it and caches the payload, Invalidate detaches it so the session can
// be reused. Conversions and category lookups never touch the job.
//
// A Session is meant for one goroutine. Overlapping calls are rejected with
// ErrConcurrentUse; run independent analyses on independent sessions, which
// also have independent request throttles.
package mieaa

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/mieaa/config"
	"github.com/mohammad-safakhou/mieaa/internal/transport"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const (
	DefaultMinInterval  = time.Second
	DefaultPollInterval = 5 * time.Second
	DefaultMaxRetries   = 5
)

var tracer = otel.Tracer("mieaa/session")

// Options configures a Session. Zero values select defaults; a negative
// MinInterval disables the per-request interval (the safety margin remains).
type Options struct {
	BaseURL      string // e.g. https://host/mieaa_tool/api/v1/
	MinInterval  time.Duration
	SafetyMargin time.Duration
	Timeout      time.Duration
	UserAgent    string
	PollInterval time.Duration
	MaxRetries   int
	// CategoryTTL, when positive, memoises category lists for that long.
	// Zero fetches them on every lookup.
	CategoryTTL time.Duration
	HTTPClient   *http.Client
	Logger       *zap.Logger
	Registerer   prometheus.Registerer
}

// OptionsFromConfig maps the application configuration onto session options.
// Loaded configuration always carries defaults, so a zero interval there
// means none rather than default.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:      cfg.API.BaseURL(),
		MinInterval:  explicitZero(cfg.API.MinInterval),
		SafetyMargin: explicitZero(cfg.API.SafetyMargin),
		Timeout:      cfg.API.Timeout,
		UserAgent:    cfg.API.UserAgent,
		PollInterval: cfg.Jobs.PollInterval,
		MaxRetries:   cfg.Jobs.MaxRetries,
		CategoryTTL:  cfg.Jobs.CategoryTTL,
	}
}

func explicitZero(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

// Session is the client-side state of one miEAA job.
type Session struct {
	id           string
	baseURL      string
	minInterval  time.Duration
	pollInterval time.Duration
	maxRetries   int

	transport  *transport.Client
	categories *gocache.Cache
	logger     *zap.Logger
	sleep      func(context.Context, time.Duration) error

	busy atomic.Bool

	mu  sync.Mutex
	job *job // nil exactly when the session is empty
}

// job holds everything that only exists while a job id is attached.
type job struct {
	id      string
	params  Parameters
	polling bool
	result  *Result // last successfully fetched payload
}

// NewSession creates an empty session.
func NewSession(opts Options) (*Session, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = config.Default().API.BaseURL()
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	switch {
	case opts.MinInterval == 0:
		opts.MinInterval = DefaultMinInterval
	case opts.MinInterval < 0:
		opts.MinInterval = 0
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session_id", id))

	var metrics *transport.Metrics
	if opts.Registerer != nil {
		m, err := transport.NewMetrics(opts.Registerer)
		if err != nil {
			return nil, err
		}
		metrics = m
	}

	var categories *gocache.Cache
	if opts.CategoryTTL > 0 {
		categories = gocache.New(opts.CategoryTTL, 2*opts.CategoryTTL)
	}

	return &Session{
		id:           id,
		baseURL:      base,
		minInterval:  opts.MinInterval,
		pollInterval: opts.PollInterval,
		maxRetries:   opts.MaxRetries,
		transport: transport.New(transport.Options{
			Timeout:      opts.Timeout,
			SafetyMargin: opts.SafetyMargin,
			UserAgent:    opts.UserAgent,
			HTTPClient:   opts.HTTPClient,
			Metrics:      metrics,
			Logger:       logger,
		}),
		categories: categories,
		logger:     logger,
		sleep:      transport.Sleep,
	}, nil
}

// ID is a client-side identifier used to correlate log lines.
func (s *Session) ID() string { return s.id }

// State reports where the session is in the job lifecycle.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.state()
}

// JobID returns the attached job id.
func (s *Session) JobID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil {
		return "", false
	}
	return s.job.id, true
}

// Parameters returns the request fields of the attached job's submission.
func (s *Session) Parameters() (Parameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil {
		return Parameters{}, ErrNoJob
	}
	return s.job.params.clone(), nil
}

// Invalidate detaches the job, drops cached results and parameters and
// releases pooled connections. Results of the detached job become
// unreachable through this session. Calling it on an empty session is a no-op
// apart from releasing connections.
func (s *Session) Invalidate() {
	s.mu.Lock()
	prev := s.job
	s.job = nil
	s.mu.Unlock()

	if s.categories != nil {
		s.categories.Flush()
	}
	s.transport.CloseIdleConnections()
	if prev != nil {
		s.logger.Info("session invalidated", zap.String("job_id", prev.id))
	}
}

// enter marks the session busy for the duration of a network operation.
func (s *Session) enter() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrConcurrentUse
	}
	return nil
}

func (s *Session) leave() { s.busy.Store(false) }

func (s *Session) send(ctx context.Context, r transport.Request) (*transport.Response, error) {
	r.MinInterval = s.minInterval
	resp, err := s.transport.Send(ctx, r)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		target := r.URL
		if len(r.Query) > 0 {
			target += "?" + r.Query.Encode()
		}
		return resp, &HTTPError{
			Method:     r.Method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       resp.Text(),
		}
	}
	return resp, nil
}
