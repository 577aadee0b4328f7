package mieaa

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentUseIsRejected(t *testing.T) {
	s, err := NewSession(Options{BaseURL: "http://127.0.0.1:1/api/v1"})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:1/api/v1/", s.baseURL)

	require.NoError(t, s.enter())
	defer s.leave()

	ctx := context.Background()
	_, err = s.Progress(ctx)
	assert.ErrorIs(t, err, ErrConcurrentUse)
	_, err = s.Results(ctx, JSON, ResultOptions{})
	assert.ErrorIs(t, err, ErrConcurrentUse)
	_, err = s.ToMirna(ctx, List("x"), nil, nil)
	assert.ErrorIs(t, err, ErrConcurrentUse)
	_, err = s.Submit(ctx, AnalysisRequest{})
	assert.ErrorIs(t, err, ErrConcurrentUse)
	assert.ErrorIs(t, err, ErrUsage)
}

func TestDecodeProgress(t *testing.T) {
	cases := []struct {
		body string
		want Progress
		err  bool
	}{
		{body: `{"status": 45}`, want: Progress{Percent: 45}},
		{body: `{"status": 100.0}`, want: Progress{Percent: 100}},
		{body: `{"status": "70"}`, want: Progress{Percent: 70}},
		{body: `{"status": "FAILED"}`, want: Progress{Failed: true}},
		{body: `{"status": "pending"}`, err: true},
		{body: `{"state": 10}`, err: true},
		{body: `{"status": null}`, err: true},
		{body: `{"status": ""}`, err: true},
		{body: `<html>`, err: true},
	}
	for _, tc := range cases {
		got, err := decodeProgress([]byte(tc.body))
		if tc.err {
			assert.Error(t, err, tc.body)
			continue
		}
		require.NoError(t, err, tc.body)
		assert.Equal(t, tc.want, got, tc.body)
	}
}

func TestDecodeJobID(t *testing.T) {
	id, err := decodeJobID([]byte(`{"job_id": "a1b2"}`))
	require.NoError(t, err)
	assert.Equal(t, "a1b2", id)

	id, err = decodeJobID([]byte(`{"job_id": 42}`))
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	for _, body := range []string{`{}`, `{"job_id": null}`, `{"job_id": ""}`, `{"job_id": [1]}`, `busy`} {
		_, err := decodeJobID([]byte(body))
		assert.Error(t, err, body)
	}
}

func TestConnectionError(t *testing.T) {
	ctx := context.Background()
	assert.True(t, connectionError(ctx, io.ErrUnexpectedEOF))
	assert.False(t, connectionError(ctx, nil))
	assert.False(t, connectionError(ctx, ErrNoJob))
	assert.False(t, connectionError(ctx, &HTTPError{StatusCode: 502}))
	assert.False(t, connectionError(ctx, &MalformedResponseError{Err: errors.New("bad")}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, connectionError(cancelled, io.ErrUnexpectedEOF))
}

func TestParseTabsep(t *testing.T) {
	got := parseTabsep([]string{
		"hsa-miR-29a\thsa-miR-29a-3p",
		"hsa-miR-199a\thsa-miR-199a-5p;hsa-miR-199a-3p",
		"hsa-miR-x\t-",
		"no tab here",
		"",
	})
	assert.Equal(t, map[string][]string{
		"hsa-miR-29a":  {"hsa-miR-29a-3p"},
		"hsa-miR-199a": {"hsa-miR-199a-5p", "hsa-miR-199a-3p"},
	}, got)
}

func TestInputNormalisation(t *testing.T) {
	ids, err := List("a", "b").identifiers()
	require.NoError(t, err)
	assert.Equal(t, "a;b", ids)

	ids, err = Delimited("a,b;").identifiers()
	require.NoError(t, err)
	assert.Equal(t, "a,b;", ids)

	ids, err = Stream("f", strings.NewReader("a\r\nb\rc\n")).identifiers()
	require.NoError(t, err)
	assert.Equal(t, "a;b;c", ids)

	raw, err := Stream("f", strings.NewReader("HMDD\nmndr\n")).raw()
	require.NoError(t, err)
	assert.Equal(t, "HMDD\nmndr\n", raw)

	assert.True(t, Input{}.IsZero())
	assert.Equal(t, []string{}, splitLines(""))
	assert.Equal(t, []string{"", "x"}, splitLines("\nx\n"))
}

func TestStateOfNilJob(t *testing.T) {
	var j *job
	assert.Equal(t, StateEmpty, j.state())
	assert.Equal(t, StateSubmitted, (&job{id: "x"}).state())
	assert.Equal(t, StatePolling, (&job{id: "x", polling: true}).state())
	assert.Equal(t, StateResultsCached, (&job{id: "x", result: &Result{}}).state())
}
