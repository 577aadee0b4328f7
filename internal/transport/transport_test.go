package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recorder struct {
	mu    sync.Mutex
	times []time.Time
	reqs  []*http.Request
	forms []map[string][]string
}

func (r *recorder) handler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		_ = req.ParseMultipartForm(1 << 20)
		r.mu.Lock()
		r.times = append(r.times, time.Now())
		r.reqs = append(r.reqs, req)
		r.forms = append(r.forms, req.Form)
		r.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestSendKeepsMinimumGap(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, "ok"))
	defer srv.Close()

	c := New(Options{SafetyMargin: 5 * time.Millisecond})
	interval := 40 * time.Millisecond
	for i := 0; i < 3; i++ {
		resp, err := c.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, MinInterval: interval})
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if resp.Text() != "ok" {
			t.Fatalf("unexpected body %q", resp.Text())
		}
	}
	if len(rec.times) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(rec.times))
	}
	for i := 1; i < len(rec.times); i++ {
		if gap := rec.times[i].Sub(rec.times[i-1]); gap < interval {
			t.Fatalf("gap %d too small: %v < %v", i, gap, interval)
		}
	}
}

func TestSendWaitsAfterNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	dead := srv.URL
	srv.Close()

	c := New(Options{SafetyMargin: time.Millisecond})
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	if _, err := c.Send(context.Background(), Request{Method: http.MethodGet, URL: dead, MinInterval: time.Hour}); err == nil {
		t.Fatalf("expected network error")
	}
	waits = nil
	if _, err := c.Send(context.Background(), Request{Method: http.MethodGet, URL: dead, MinInterval: time.Hour}); err == nil {
		t.Fatalf("expected network error")
	}
	if len(waits) != 1 || waits[0] < 59*time.Minute {
		t.Fatalf("failed call did not reset the throttle window: %v", waits)
	}
}

func TestPendingWindow(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(Options{SafetyMargin: 100 * time.Millisecond})
	c.last = base
	c.now = func() time.Time { return base.Add(400 * time.Millisecond) }

	if got := c.pending(time.Second); got != 700*time.Millisecond {
		t.Fatalf("pending = %v, want 700ms", got)
	}
	c.now = func() time.Time { return base.Add(2 * time.Second) }
	if got := c.pending(time.Second); got != 0 {
		t.Fatalf("pending = %v, want 0", got)
	}
}

func TestTwoClientsDoNotThrottleEachOther(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, "ok"))
	defer srv.Close()

	a := New(Options{SafetyMargin: time.Millisecond})
	b := New(Options{SafetyMargin: time.Millisecond})
	a.last = time.Time{}
	b.last = time.Time{}

	start := time.Now()
	if _, err := a.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, MinInterval: time.Second}); err != nil {
		t.Fatalf("a: %v", err)
	}
	if _, err := b.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, MinInterval: time.Second}); err != nil {
		t.Fatalf("b: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("independent clients waited on each other: %v", elapsed)
	}
}

func TestSendCancelledWhileThrottled(t *testing.T) {
	c := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Send(ctx, Request{Method: http.MethodGet, URL: "http://127.0.0.1:1", MinInterval: time.Hour})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSendFormAndMultipart(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, "{}"))
	defer srv.Close()

	c := New(Options{UserAgent: "mieaa-test"})
	c.last = time.Time{}

	form := map[string][]string{"categories": {"HMDD_mature", "mndr_mature"}, "testset": {"a;b"}}
	if _, err := c.Send(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Form: form}); err != nil {
		t.Fatalf("form send: %v", err)
	}
	c.last = time.Time{}
	files := []File{{Field: "testset_file", Name: "set.txt", Content: strings.NewReader("hsa-miR-1\nhsa-miR-2\n")}}
	if _, err := c.Send(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Form: form, Files: files}); err != nil {
		t.Fatalf("multipart send: %v", err)
	}

	if ct := rec.reqs[0].Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if got := rec.forms[0]["categories"]; len(got) != 2 || got[1] != "mndr_mature" {
		t.Fatalf("unexpected categories %v", got)
	}
	if ct := rec.reqs[1].Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/form-data") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if ua := rec.reqs[1].Header.Get("User-Agent"); ua != "mieaa-test" {
		t.Fatalf("unexpected user agent %q", ua)
	}
	fh := rec.reqs[1].MultipartForm.File["testset_file"]
	if len(fh) != 1 || fh[0].Filename != "set.txt" {
		t.Fatalf("file part missing: %v", fh)
	}
}

func TestNonSuccessIsNotAnError(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusBadRequest, "bad species"))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	c := New(Options{Metrics: m})
	c.last = time.Time{}
	resp, err := c.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, Endpoint: "status"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.OK() || resp.StatusCode != http.StatusBadRequest || resp.Text() != "bad species" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if v := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "status", outcomeHTTPError)); v != 1 {
		t.Fatalf("http_error counter = %v", v)
	}
}

func TestNewMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	first.observeRequest("GET", "x", outcomeOK, time.Millisecond)
	second.observeRequest("GET", "x", outcomeOK, time.Millisecond)
	if v := testutil.ToFloat64(first.requests.WithLabelValues("GET", "x", outcomeOK)); v != 2 {
		t.Fatalf("shared counter = %v, want 2", v)
	}
}
