package emulator

import (
	"encoding/csv"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var (
	kinds   = []string{"ORA", "GSEA"}
	species = []string{"hsa", "mmu", "rno", "ath", "bta", "cel", "dme", "dre", "gga", "ssc"}
)

func (s *Server) submit(c echo.Context) error {
	kind, sp, entity := c.Param("kind"), c.Param("species"), c.Param("entity")
	if !slices.Contains(kinds, kind) || !slices.Contains(species, sp) || !validEntity(entity) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no enrichment endpoint for %s/%s/%s", sp, entity, kind))
	}

	s.mu.Lock()
	faults := s.opts.Faults
	progress := slices.Clone(s.opts.Progress)
	s.mu.Unlock()
	if faults.SubmitStatus != 0 {
		return c.String(faults.SubmitStatus, "submission rejected by emulator")
	}

	form, err := c.FormParams()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable form: "+err.Error())
	}
	if len(form["categories"]) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "categories: this field is required")
	}
	files := map[string]string{}
	for _, field := range []string{"testset_file", "reference_set_file"} {
		fh, err := c.FormFile(field)
		if err != nil {
			continue
		}
		content, err := readUpload(fh)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, field+": "+err.Error())
		}
		files[field] = content
	}
	if form.Get("testset") == "" && files["testset_file"] == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "testset: this field is required")
	}
	if _, err := strconv.ParseFloat(form.Get("significance_level"), 64); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "significance_level: a number is required")
	}

	job := &Job{
		ID:       s.newJobID(),
		Kind:     kind,
		Species:  sp,
		Entity:   entity,
		Form:     form,
		Files:    files,
		Progress: progress,
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	s.logger.Debug("job submitted", zap.String("job_id", job.ID), zap.String("kind", kind))

	if faults.OmitJobID {
		return c.JSON(http.StatusOK, map[string]any{"detail": "queued"})
	}
	return c.JSON(http.StatusOK, map[string]any{"job_id": job.ID})
}

func readUpload(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	return string(b), err
}

func (s *Server) status(c echo.Context) error {
	s.mu.Lock()
	job, ok := s.jobs[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		return echo.NewHTTPError(http.StatusNotFound, "unknown job")
	}
	s.statusCalls++
	drop := slices.Contains(s.opts.Faults.DropStatusCalls, s.statusCalls)
	idx := min(job.statusCalls, len(job.Progress)-1)
	if !drop {
		job.statusCalls++
	}
	status := job.Progress[idx]
	s.mu.Unlock()

	if drop {
		return dropConnection(c)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": status})
}

// dropConnection promises a body and hangs up after the first byte, so the
// client sees an unexpected EOF rather than a clean status.
func dropConnection(c echo.Context) error {
	conn, buf, err := c.Response().Hijack()
	if err != nil {
		return err
	}
	defer conn.Close()
	_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 100\r\n\r\n{")
	return buf.Flush()
}

func (s *Server) results(c echo.Context) error {
	s.mu.Lock()
	job, ok := s.jobs[c.Param("id")]
	faults := s.opts.Faults
	var cats []Category
	if ok {
		cats = s.opts.Categories[job.Entity]
	}
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown job")
	}
	if faults.ResultsStatus != 0 {
		return c.String(faults.ResultsStatus, "results unavailable")
	}

	rows := resultRows(job, cats)
	switch c.QueryParam("format") {
	case "json", "":
		return c.JSON(http.StatusOK, rows)
	case "csv":
		var sb strings.Builder
		w := csv.NewWriter(&sb)
		_ = w.Write([]string{"Category", "Subcategory", "Enrichment", "P-value", "P-adjusted", "Observed"})
		for _, r := range rows {
			_ = w.Write([]string{r.Category, r.Subcategory, r.Enrichment,
				strconv.FormatFloat(r.PValue, 'g', -1, 64),
				strconv.FormatFloat(r.PAdjusted, 'g', -1, 64),
				strconv.Itoa(r.Observed)})
		}
		w.Flush()
		return c.Blob(http.StatusOK, "text/csv", []byte(sb.String()))
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "format must be json or csv")
	}
}

type resultRow struct {
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
	Enrichment  string  `json:"enrichment"`
	PValue      float64 `json:"p_value"`
	PAdjusted   float64 `json:"p_adjusted"`
	Observed    int     `json:"observed"`
}

// resultRows derives deterministic rows from the submitted categories.
func resultRows(job *Job, known []Category) []resultRow {
	descriptions := map[string]string{}
	for _, cat := range known {
		descriptions[cat.Name+suffix(job.Entity)] = cat.Description
	}
	observed := len(splitIDs(job.Form.Get("testset")))
	if content, ok := job.Files["testset_file"]; ok {
		observed = len(splitIDs(content))
	}
	rows := make([]resultRow, 0, len(job.Form["categories"]))
	for i, cat := range job.Form["categories"] {
		sub, ok := descriptions[cat]
		if !ok {
			sub = "unknown category"
		}
		p := 0.001 * float64(i+1)
		rows = append(rows, resultRow{
			Category:    cat,
			Subcategory: sub,
			Enrichment:  "enriched",
			PValue:      p,
			PAdjusted:   min(1, p*float64(len(job.Form["categories"]))),
			Observed:    observed,
		})
	}
	return rows
}
