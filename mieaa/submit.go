package mieaa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/mieaa/internal/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// AnalysisRequest describes one enrichment job.
type AnalysisRequest struct {
	Kind         AnalysisKind
	TestSet      Input
	Categories   Input
	EntityType   EntityType
	Species      string
	ReferenceSet Input            // ORA only; ignored by RunGSEA
	Options      *AnalysisOptions // nil selects DefaultAnalysisOptions
}

// Submission is the answer to a submit call. A 2xx answer without a job id
// still yields a Submission, with HasJob false and the session left empty.
type Submission struct {
	JobID      string
	StatusCode int
	Raw        []byte
}

// HasJob reports whether the service assigned a job id.
func (s *Submission) HasJob() bool { return s != nil && s.JobID != "" }

// RunORA submits an over-representation analysis.
func (s *Session) RunORA(ctx context.Context, testSet, categories Input, entity EntityType, species string, referenceSet Input, opts *AnalysisOptions) (*Submission, error) {
	return s.Submit(ctx, AnalysisRequest{
		Kind:         ORA,
		TestSet:      testSet,
		Categories:   categories,
		EntityType:   entity,
		Species:      species,
		ReferenceSet: referenceSet,
		Options:      opts,
	})
}

// RunGSEA submits a miRNA set enrichment analysis. GSEA takes no reference set.
func (s *Session) RunGSEA(ctx context.Context, testSet, categories Input, entity EntityType, species string, opts *AnalysisOptions) (*Submission, error) {
	return s.Submit(ctx, AnalysisRequest{
		Kind:       GSEA,
		TestSet:    testSet,
		Categories: categories,
		EntityType: entity,
		Species:    species,
		Options:    opts,
	})
}

// Submit starts an enrichment job and attaches it to the session. The session
// must be empty; call Invalidate to drop a previous job first.
func (s *Session) Submit(ctx context.Context, req AnalysisRequest) (sub *Submission, err error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.leave()

	ctx, span := tracer.Start(ctx, "mieaa.Submit")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if _, ok := s.JobID(); ok {
		return nil, ErrJobActive
	}

	req.Kind = AnalysisKind(strings.ToUpper(strings.TrimSpace(string(req.Kind))))
	req.EntityType = normaliseEntity(req.EntityType)
	req.Species = normaliseSpecies(req.Species)
	if err := validateStruct(analysisTarget{Kind: req.Kind, EntityType: req.EntityType, Species: req.Species}); err != nil {
		return nil, err
	}
	opts := DefaultAnalysisOptions()
	if req.Options != nil {
		opts = *req.Options
	}
	if err := validateStruct(opts); err != nil {
		return nil, err
	}
	if req.TestSet.IsZero() {
		return nil, fmt.Errorf("%w: test set is required", ErrInvalidRequest)
	}
	if req.Categories.IsZero() {
		return nil, fmt.Errorf("%w: at least one category is required", ErrInvalidRequest)
	}
	if req.Kind == GSEA {
		req.ReferenceSet = Input{}
	}
	span.SetAttributes(
		attribute.String("mieaa.analysis", string(req.Kind)),
		attribute.String("mieaa.species", req.Species),
		attribute.String("mieaa.entity", string(req.EntityType)),
	)

	rawCategories, err := req.Categories.raw()
	if err != nil {
		return nil, err
	}
	canonical, err := s.canonicalCategories(ctx, req.EntityType, req.Species)
	if err != nil {
		return nil, fmt.Errorf("resolve categories: %w", err)
	}
	categories := ResolveCategories(rawCategories, req.EntityType, canonical)

	params := Parameters{
		Analysis:   req.Kind,
		Species:    req.Species,
		EntityType: req.EntityType,
		Categories: categories,
		Options:    opts,
		Files:      map[string]string{},
	}
	form := opts.form()
	form["categories"] = categories
	var files []transport.File

	if req.TestSet.IsStream() {
		files = append(files, transport.File{Field: "testset_file", Name: req.TestSet.displayName(), Content: req.TestSet.r})
		params.Files["testset_file"] = req.TestSet.displayName()
	} else {
		testSet, err := req.TestSet.identifiers()
		if err != nil {
			return nil, err
		}
		form.Set("testset", testSet)
		params.TestSet = testSet
	}

	if req.ReferenceSet.IsStream() {
		files = append(files, transport.File{Field: "reference_set_file", Name: req.ReferenceSet.displayName(), Content: req.ReferenceSet.r})
		params.Files["reference_set_file"] = req.ReferenceSet.displayName()
		form.Set("reference_set", "")
	} else {
		reference, err := req.ReferenceSet.identifiers()
		if err != nil {
			return nil, err
		}
		form.Set("reference_set", reference)
		params.ReferenceSet = reference
	}
	params.Form = form

	resp, err := s.send(ctx, transport.Request{
		Method:   http.MethodPost,
		URL:      s.enrichmentURL(req.Species, req.EntityType, req.Kind),
		Endpoint: endpointEnrichment,
		Form:     cloneValues(form),
		Files:    files,
	})
	if err != nil {
		return nil, err
	}

	sub = &Submission{StatusCode: resp.StatusCode, Raw: resp.Body}
	id, derr := decodeJobID(resp.Body)
	if derr != nil {
		s.logger.Warn("submission accepted without a job id",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(resp.Text(), 512)),
			zap.Error(derr))
		return sub, nil
	}
	sub.JobID = id

	s.mu.Lock()
	s.job = &job{id: id, params: params}
	s.mu.Unlock()

	span.SetAttributes(attribute.String("mieaa.job_id", id))
	s.logger.Info("analysis submitted",
		zap.String("job_id", id),
		zap.String("analysis", string(req.Kind)),
		zap.String("species", req.Species),
		zap.String("entity", string(req.EntityType)),
		zap.Strings("categories", categories))
	return sub, nil
}

// decodeJobID accepts the id as a JSON string or number.
func decodeJobID(body []byte) (string, error) {
	var payload struct {
		JobID json.RawMessage `json:"job_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", err
	}
	raw := bytes.TrimSpace(payload.JobID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("job_id missing")
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		if id == "" {
			return "", fmt.Errorf("job_id empty")
		}
		return id, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("job_id is neither string nor number: %s", raw)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return "", err
	}
	return n.String(), nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
