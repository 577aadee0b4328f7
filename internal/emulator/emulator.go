// Package emulator serves a local stand-in for the miEAA REST API. It answers
// every endpoint the client uses from in-memory fixtures, plays scripted job
// progress and can inject faults, so sessions and the CLI can be exercised
// without the real service.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// APIPrefix is the path the versioned API is served under.
const APIPrefix = "/api/v1/"

// Endpoint labels used in the call log.
const (
	EndpointCategories = "categories"
	EndpointMirbase    = "mirbase_converter"
	EndpointMirnaType  = "mirna_precursor_converter"
	EndpointSubmit     = "enrichment_analysis"
	EndpointStatus     = "job_status"
	EndpointResults    = "results"
)

// Category is a fixture row of the categories endpoint, without suffix.
type Category struct {
	Name        string
	Description string
}

// Faults make the emulator misbehave on purpose.
type Faults struct {
	// SubmitStatus, when non-zero, rejects submissions with this status.
	SubmitStatus int
	// OmitJobID answers submissions with 200 but no job_id.
	OmitJobID bool
	// DropStatusCalls lists 1-based indices of job_status calls, counted
	// across all jobs, whose connection is cut mid-response.
	DropStatusCalls []int
	// ResultsStatus, when non-zero, rejects results requests with this status.
	ResultsStatus int
}

// Options configure the fixtures.
type Options struct {
	// Progress is the status sequence every job reports, one entry per
	// status call; the last entry repeats. Entries are numbers or "FAILED".
	Progress []any
	// Categories offered for every species, keyed by entity type.
	Categories map[string][]Category
	// Mirbase maps ids between versions, keyed "FROM>TO" (e.g. "16>22").
	// A missing direction is answered by inverting the other one.
	Mirbase map[string]map[string][]string
	// Precursors maps mature ids to precursors; to_mirna inverts it.
	Precursors map[string][]string
	Faults     Faults
	Logger     *zap.Logger
}

// Call is one request seen by the emulator.
type Call struct {
	Time     time.Time
	Method   string
	Path     string
	Query    url.Values
	Endpoint string
}

// Job is a submission as the emulator recorded it.
type Job struct {
	ID       string
	Kind     string
	Species  string
	Entity   string
	Form     url.Values
	Files    map[string]string // upload field -> content
	Progress []any

	statusCalls int
}

// Server is an emulated miEAA API.
type Server struct {
	e      *echo.Echo
	logger *zap.Logger
	reg    *prometheus.Registry
	reqs   *prometheus.CounterVec

	mu          sync.Mutex
	opts        Options
	calls       []Call
	jobs        map[string]*Job
	statusCalls int
}

// New builds the server; defaults fill any fixture left empty.
func New(opts Options) *Server {
	if len(opts.Progress) == 0 {
		opts.Progress = []any{100}
	}
	if opts.Categories == nil {
		opts.Categories = DefaultCategories()
	}
	if opts.Mirbase == nil {
		opts.Mirbase = DefaultMirbase()
	}
	if opts.Precursors == nil {
		opts.Precursors = DefaultPrecursors()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		logger: logger,
		reg:    prometheus.NewRegistry(),
		opts:   opts,
		jobs:   map[string]*Job{},
	}
	s.reqs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mieaa_emulator_requests_total",
		Help: "Requests served by the emulator.",
	}, []string{"endpoint", "code"})
	s.reg.MustRegister(s.reqs)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Debug("request failed",
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err))
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})))

	api := e.Group(strings.TrimSuffix(APIPrefix, "/"))
	api.GET("/enrichment_categories/:species/:entity/", s.categories, s.track(EndpointCategories))
	api.POST("/mirbase_converter/", s.convertMirbase, s.track(EndpointMirbase))
	api.POST("/mirna_precursor_converter/", s.convertType, s.track(EndpointMirnaType))
	api.POST("/enrichment_analysis/:species/:entity/:kind/", s.submit, s.track(EndpointSubmit))
	api.GET("/job_status/:id/", s.status, s.track(EndpointStatus))
	api.GET("/enrichment_analysis/results/:id/", s.results, s.track(EndpointResults))

	s.e = e
	return s
}

// Handler exposes the routes, e.g. for httptest.NewServer.
func (s *Server) Handler() http.Handler { return s.e }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("emulator listening", zap.String("addr", addr))
	err := s.e.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// SetFaults replaces the injected faults.
func (s *Server) SetFaults(f Faults) {
	s.mu.Lock()
	s.opts.Faults = f
	s.mu.Unlock()
}

// SetProgress replaces the status sequence for jobs submitted afterwards.
func (s *Server) SetProgress(p ...any) {
	s.mu.Lock()
	s.opts.Progress = slices.Clone(p)
	s.mu.Unlock()
}

// Calls returns the request log, optionally filtered by endpoint.
func (s *Server) Calls(endpoint string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if endpoint == "" || c.Endpoint == endpoint {
			out = append(out, c)
		}
	}
	return out
}

// Job returns a copy of a recorded submission.
func (s *Server) Job(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	out := *j
	out.Form = maps.Clone(j.Form)
	out.Files = maps.Clone(j.Files)
	return out, true
}

// track logs the call and counts it once the handler is done.
func (s *Server) track(endpoint string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			s.mu.Lock()
			s.calls = append(s.calls, Call{
				Time:     time.Now(),
				Method:   req.Method,
				Path:     req.URL.Path,
				Query:    req.URL.Query(),
				Endpoint: endpoint,
			})
			s.mu.Unlock()

			err := next(c)
			code := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				code = he.Code
			}
			s.reqs.WithLabelValues(endpoint, fmt.Sprint(code)).Inc()
			return err
		}
	}
}

func suffix(entity string) string {
	if entity == "precursor" {
		return "_precursor"
	}
	return "_mature"
}

func validEntity(entity string) bool { return entity == "mirna" || entity == "precursor" }

func (s *Server) categories(c echo.Context) error {
	entity := c.Param("entity")
	if !validEntity(entity) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown entity type "+entity)
	}
	s.mu.Lock()
	fixture := slices.Clone(s.opts.Categories[entity])
	s.mu.Unlock()

	rows := make([][2]string, 0, len(fixture))
	for _, cat := range fixture {
		rows = append(rows, [2]string{cat.Name + suffix(entity), cat.Description})
	}
	return c.JSON(http.StatusOK, map[string]any{"categories": rows})
}

func (s *Server) newJobID() string { return uuid.NewString() }
