package mieaa

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/mohammad-safakhou/mieaa/internal/transport"
	"go.uber.org/zap"
)

// Conversion directions of the precursor/mature converter.
const (
	toPrecursor = "to_precursor"
	toMirna     = "to_mirna"
)

// ConvertMirbase maps identifiers from one miRBase version to another, e.g.
// from "16" to "22". The raw response is written to sink when it is non-nil;
// the returned slice holds its lines.
func (s *Session) ConvertMirbase(ctx context.Context, ids Input, from, to string, entity EntityType, opts *ConverterOptions, sink io.Writer) ([]string, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.leave()
	return s.convertMirbase(ctx, ids, from, to, entity, opts, sink)
}

func (s *Session) convertMirbase(ctx context.Context, ids Input, from, to string, entity EntityType, opts *ConverterOptions, sink io.Writer) ([]string, error) {
	entity = normaliseEntity(entity)
	if err := validateStruct(categoryTarget{EntityType: entity, Species: "hsa"}); err != nil {
		return nil, err
	}
	from, to = strings.TrimPrefix(strings.TrimSpace(from), "v"), strings.TrimPrefix(strings.TrimSpace(to), "v")
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: miRBase versions are required", ErrInvalidRequest)
	}
	form := url.Values{
		"input_type":             {string(entity)},
		"mirbase_input_version":  {"v" + from},
		"mirbase_output_version": {"v" + to},
	}
	return s.convert(ctx, endpointMirbaseConvert, s.mirbaseConverterURL(), ids, form, opts, sink)
}

// ToPrecursor maps mature miRNAs to their precursors.
func (s *Session) ToPrecursor(ctx context.Context, ids Input, opts *ConverterOptions, sink io.Writer) ([]string, error) {
	return s.convertType(ctx, ids, toPrecursor, opts, sink)
}

// ToMirna maps precursors to their mature miRNAs.
func (s *Session) ToMirna(ctx context.Context, ids Input, opts *ConverterOptions, sink io.Writer) ([]string, error) {
	return s.convertType(ctx, ids, toMirna, opts, sink)
}

func (s *Session) convertType(ctx context.Context, ids Input, direction string, opts *ConverterOptions, sink io.Writer) ([]string, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.leave()
	form := url.Values{"input_type": {direction}}
	return s.convert(ctx, endpointMirnaTypeConv, s.mirnaTypeConverterURL(), ids, form, opts, sink)
}

func (s *Session) convert(ctx context.Context, endpoint, target string, ids Input, form url.Values, opts *ConverterOptions, sink io.Writer) ([]string, error) {
	o := DefaultConverterOptions()
	if opts != nil {
		o = *opts
	}
	if err := validateStruct(o); err != nil {
		return nil, err
	}
	mirnas, err := ids.identifiers()
	if err != nil {
		return nil, err
	}
	for k, v := range o.form() {
		form[k] = v
	}
	form.Set("mirnas", mirnas)

	ctx, span := tracer.Start(ctx, "mieaa.Convert")
	defer span.End()

	resp, err := s.send(ctx, transport.Request{
		Method:   http.MethodPost,
		URL:      target,
		Endpoint: endpoint,
		Form:     form,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if sink != nil {
		if _, err := sink.Write(resp.Body); err != nil {
			return nil, fmt.Errorf("write conversion output: %w", err)
		}
	}
	lines := splitLines(resp.Text())
	s.logger.Debug("identifiers converted",
		zap.String("endpoint", endpoint),
		zap.String("input_type", form.Get("input_type")),
		zap.Int("lines", len(lines)))
	return lines, nil
}

// RoundTripReport compares identifiers converted from one miRBase version to
// another and back.
type RoundTripReport struct {
	// Forward maps every input id to its ids in the target version.
	Forward map[string][]string
	// Restored input ids came back unchanged.
	Restored []string
	// Lost input ids did not come back, either because they had no mapping
	// in the target version or because the way back led elsewhere.
	Lost []string
	// Collapsed lists target ids reached from more than one input id. Such
	// many-to-one mappings cannot be inverted.
	Collapsed map[string][]string
	// Returned is every id produced by the way back, sorted.
	Returned []string
}

// Lossless reports whether the round trip restored every id without
// collapsing any.
func (r *RoundTripReport) Lossless() bool {
	return len(r.Lost) == 0 && len(r.Collapsed) == 0
}

// RoundTrip converts ids from one miRBase version to another and back and
// reports which ids survived. Both legs use tab separated output so every
// answer line can be attributed to its input.
func (s *Session) RoundTrip(ctx context.Context, ids []string, from, to string, entity EntityType) (*RoundTripReport, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.leave()

	opts := &ConverterOptions{OutputFormat: "tabsep", ConversionType: "all"}
	inputs := dedupe(ids)

	lines, err := s.convertMirbase(ctx, List(inputs...), from, to, entity, opts, nil)
	if err != nil {
		return nil, fmt.Errorf("forward conversion: %w", err)
	}
	forward := parseTabsep(lines)

	sources := map[string][]string{}
	var targets []string
	for _, id := range inputs {
		for _, t := range forward[id] {
			if _, seen := sources[t]; !seen {
				targets = append(targets, t)
			}
			if !slices.Contains(sources[t], id) {
				sources[t] = append(sources[t], id)
			}
		}
	}

	backward := map[string][]string{}
	if len(targets) > 0 {
		lines, err = s.convertMirbase(ctx, List(targets...), to, from, entity, opts, nil)
		if err != nil {
			return nil, fmt.Errorf("backward conversion: %w", err)
		}
		backward = parseTabsep(lines)
	}

	report := &RoundTripReport{Forward: map[string][]string{}, Collapsed: map[string][]string{}}
	returned := map[string]bool{}
	for _, t := range targets {
		for _, id := range backward[t] {
			returned[id] = true
		}
		if len(sources[t]) > 1 {
			report.Collapsed[t] = slices.Clone(sources[t])
		}
	}
	for _, id := range inputs {
		report.Forward[id] = slices.Clone(forward[id])
		restored := false
		for _, t := range forward[id] {
			if slices.Contains(backward[t], id) {
				restored = true
				break
			}
		}
		if restored {
			report.Restored = append(report.Restored, id)
		} else {
			report.Lost = append(report.Lost, id)
		}
	}
	for id := range returned {
		report.Returned = append(report.Returned, id)
	}
	slices.Sort(report.Returned)

	if !report.Lossless() {
		s.logger.Warn("miRBase round trip is lossy",
			zap.String("from", from),
			zap.String("to", to),
			zap.Strings("lost", report.Lost),
			zap.Int("collapsed", len(report.Collapsed)))
	}
	return report, nil
}

// parseTabsep reads "input<TAB>output" lines. Outputs holding several ids are
// separated by ";" or further tabs. Lines without a tab and unmapped outputs
// ("", "-", "NA") are skipped.
func parseTabsep(lines []string) map[string][]string {
	out := map[string][]string{}
	for _, line := range lines {
		in, rest, ok := strings.Cut(line, "\t")
		in = strings.TrimSpace(in)
		if !ok || in == "" {
			continue
		}
		for _, id := range strings.FieldsFunc(rest, func(r rune) bool { return r == ';' || r == '\t' }) {
			id = strings.TrimSpace(id)
			switch id {
			case "", "-", "NA":
				continue
			}
			if !slices.Contains(out[in], id) {
				out[in] = append(out[in], id)
			}
		}
	}
	return out
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
