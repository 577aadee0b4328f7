package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/mieaa/internal/emulator"
)

// startEmulator points the CLI configuration at a fresh emulator.
func startEmulator(t *testing.T, opts emulator.Options) *emulator.Server {
	t.Helper()
	em := emulator.New(opts)
	srv := httptest.NewServer(em.Handler())
	t.Cleanup(srv.Close)

	t.Setenv("MIEAA_API_ROOT_URL", srv.URL+"/api/")
	t.Setenv("MIEAA_API_MIN_INTERVAL", "0s")
	t.Setenv("MIEAA_API_SAFETY_MARGIN", "0s")
	t.Setenv("MIEAA_JOBS_POLL_INTERVAL", "1ms")
	t.Setenv("MIEAA_LOGGING_LEVEL", "error")
	return em
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestORAPrintsJSON(t *testing.T) {
	em := startEmulator(t, emulator.Options{Progress: []any{50, 100}})
	code, stdout, stderr := runCLI(t, "ora", "hsa", "-p", "-m", "hsa-mir-21,hsa-mir-29a", "-c", "hmdd", "-c", "mndr", "-a", "holm", "-g")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(stdout), &rows); err != nil {
		t.Fatalf("stdout is not json: %v\n%s", err, stdout)
	}
	if len(rows) != 2 || rows[0]["category"] != "HMDD_precursor" || rows[1]["category"] != "mndr_precursor" {
		t.Fatalf("unexpected rows: %v", rows)
	}

	submits := em.Calls(emulator.EndpointSubmit)
	if len(submits) != 1 || submits[0].Path != "/api/v1/enrichment_analysis/hsa/precursor/ORA/" {
		t.Fatalf("unexpected submissions: %+v", submits)
	}
	if n := len(em.Calls(emulator.EndpointStatus)); n != 2 {
		t.Fatalf("expected 2 status calls, got %d", n)
	}
}

func TestORAAcceptsSpaceSeparatedSets(t *testing.T) {
	em := startEmulator(t, emulator.Options{})
	code, stdout, stderr := runCLI(t, "ora", "hsa", "-p", "-m", "hsa-mir-21", "hsa-mir-29a", "-c", "hmdd", "mirtarbase", "-r", "hsa-mir-21", "hsa-mir-29a", "hsa-mir-550b-1")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.HasPrefix(stdout, "[") {
		t.Fatalf("unexpected stdout %q", stdout)
	}
	submits := em.Calls(emulator.EndpointSubmit)
	if len(submits) != 1 {
		t.Fatalf("expected one submission, got %d", len(submits))
	}
	polls := em.Calls(emulator.EndpointStatus)
	if len(polls) == 0 {
		t.Fatalf("expected the job to be polled")
	}
	id := path.Base(polls[0].Path)
	job, ok := em.Job(id)
	if !ok {
		t.Fatalf("job %q not recorded", id)
	}
	if got := job.Form.Get("testset"); got != "hsa-mir-21;hsa-mir-29a" {
		t.Fatalf("unexpected testset %q", got)
	}
	if got := job.Form.Get("reference_set"); got != "hsa-mir-21;hsa-mir-29a;hsa-mir-550b-1" {
		t.Fatalf("unexpected reference set %q", got)
	}
	if got := job.Form["categories"]; len(got) != 2 || got[0] != "HMDD_precursor" || got[1] != "miRTarBase_precursor" {
		t.Fatalf("unexpected categories %v", got)
	}
}

func TestExpandSetArgs(t *testing.T) {
	cases := []struct {
		in   []string
		want []string
	}{
		{
			in:   []string{"-m", "a", "b", "-p"},
			want: []string{"-m", "a", "-m", "b", "-p"},
		},
		{
			in:   []string{"hsa", "--categories", "x", "y", "-s", "0.05", "-c=z", "w"},
			want: []string{"hsa", "--categories", "x", "--categories", "y", "-s", "0.05", "-c=z", "-c", "w"},
		},
		{
			in:   []string{"-ma", "b", "--", "c"},
			want: []string{"-ma", "-m", "b", "--", "c"},
		},
		{
			in:   []string{"-M", "ids.txt", "extra"},
			want: []string{"-M", "ids.txt", "extra"},
		},
	}
	for _, tc := range cases {
		got := expandSetArgs(tc.in)
		if strings.Join(got, " ") != strings.Join(tc.want, " ") {
			t.Fatalf("expandSetArgs(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestGSEASavesCSV(t *testing.T) {
	startEmulator(t, emulator.Options{})
	dir := t.TempDir()
	testset := filepath.Join(dir, "testset.txt")
	if err := os.WriteFile(testset, []byte("hsa-miR-21-5p\nhsa-miR-29a-3p\n"), 0o644); err != nil {
		t.Fatalf("write testset: %v", err)
	}
	outfile := filepath.Join(dir, "results.csv")

	code, stdout, stderr := runCLI(t, "gsea", "hsa", "-M", testset, "-c", "miRTarBase", "-o", outfile)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if stdout != "" {
		t.Fatalf("expected no stdout without -v, got %q", stdout)
	}
	data, err := os.ReadFile(outfile)
	if err != nil {
		t.Fatalf("read outfile: %v", err)
	}
	if !strings.HasPrefix(string(data), "Category,Subcategory") || !strings.Contains(string(data), "miRTarBase_mature") {
		t.Fatalf("unexpected csv:\n%s", data)
	}

	code, stdout, _ = runCLI(t, "gsea", "hsa", "-M", testset, "-c", "miRTarBase", "-o", outfile, "--json", "-v")
	if code != 0 || !strings.HasPrefix(stdout, "[") {
		t.Fatalf("verbose json run: exit %d, stdout %q", code, stdout)
	}
}

func TestSetFlagsAreExclusive(t *testing.T) {
	startEmulator(t, emulator.Options{})
	code, _, stderr := runCLI(t, "to_precursor", "-m", "hsa-miR-21-5p", "-M", "ids.txt")
	if code != 1 || !strings.Contains(stderr, "argument `-m` not allowed with argument `-M`") {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
	if !strings.Contains(stderr, "Usage:") {
		t.Fatalf("expected usage text, got %q", stderr)
	}

	code, _, stderr = runCLI(t, "ora", "hsa", "-m", "hsa-miR-21-5p")
	if code != 1 || !strings.Contains(stderr, "one of the arguments `-c` or `-C` is required") {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}

	code, _, stderr = runCLI(t, "ora", "xyz", "-m", "a", "-c", "b")
	if code != 1 || !strings.Contains(stderr, "invalid species") {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
}

func TestTypeConverters(t *testing.T) {
	startEmulator(t, emulator.Options{})
	code, stdout, stderr := runCLI(t, "to_precursor", "-m", "hsa-miR-21-5p", "-m", "hsa-miR-199a-5p", "--tabsep")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	want := "hsa-miR-21-5p\thsa-mir-21\nhsa-miR-199a-5p\thsa-mir-199a-1;hsa-mir-199a-2\n"
	if stdout != want {
		t.Fatalf("unexpected output %q", stdout)
	}

	code, stdout, stderr = runCLI(t, "to_precursor", "-m", "hsa-miR-21-5p", "hsa-miR-199a-5p", "--tabsep")
	if code != 0 || stdout != want {
		t.Fatalf("space separated set: exit %d, stdout %q, stderr %q", code, stdout, stderr)
	}

	code, stdout, _ = runCLI(t, "to_mirna", "-p", "-m", "hsa-mir-199a-1,hsa-mir-21", "-u")
	if code != 0 || stdout != "hsa-miR-199a-5p\nhsa-miR-21-5p\n" {
		t.Fatalf("exit %d, unexpected output %q", code, stdout)
	}
}

func TestConvertMirbase(t *testing.T) {
	startEmulator(t, emulator.Options{})
	outfile := filepath.Join(t.TempDir(), "converted.txt")
	code, stdout, stderr := runCLI(t, "convert_mirbase", "16", "-m", "hsa-miR-220a,hsa-miR-29a", "--newline", "-o", outfile, "-v")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if stdout != "hsa-miR-220\nhsa-miR-29a-3p\n" {
		t.Fatalf("unexpected output %q", stdout)
	}
	data, err := os.ReadFile(outfile)
	if err != nil || string(data) != "hsa-miR-220\nhsa-miR-29a-3p\n" {
		t.Fatalf("unexpected outfile %q: %v", data, err)
	}
}

func TestCategories(t *testing.T) {
	startEmulator(t, emulator.Options{})
	code, stdout, stderr := runCLI(t, "categories", "hsa", "--precursors")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.HasPrefix(stdout, "HMDD") || !strings.Contains(stdout, "Target genes (miRTarBase)") {
		t.Fatalf("unexpected output:\n%s", stdout)
	}
}

func TestSubmitErrorIsReported(t *testing.T) {
	startEmulator(t, emulator.Options{Faults: emulator.Faults{SubmitStatus: 500}})
	code, _, stderr := runCLI(t, "ora", "hsa", "-m", "hsa-miR-21-5p", "-c", "HMDD")
	if code != 1 || !strings.Contains(stderr, "Response: submission rejected by emulator") {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
}

func TestOpenPrintsURL(t *testing.T) {
	t.Setenv("MIEAA_WEB_URL", "https://example.org/mieaa_tool")
	code, stdout, _ := runCLI(t, "open", "--print")
	if code != 0 || stdout != "https://example.org/mieaa_tool/\n" {
		t.Fatalf("exit %d, stdout %q", code, stdout)
	}
	code, stdout, _ = runCLI(t, "open", "--print", "abc-123")
	if code != 0 || stdout != "https://example.org/mieaa_tool/results/abc-123/\n" {
		t.Fatalf("exit %d, stdout %q", code, stdout)
	}
}
