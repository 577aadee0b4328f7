package mieaa

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// EntityType is the kind of identifier in a set.
type EntityType string

const (
	Mature    EntityType = "mirna"
	Precursor EntityType = "precursor"
)

// Suffix is appended to category names scoped to this entity type.
func (e EntityType) Suffix() string {
	if e == Precursor {
		return "_precursor"
	}
	return "_mature"
}

// AnalysisKind selects the statistical test run by the service.
type AnalysisKind string

const (
	ORA  AnalysisKind = "ORA"  // over-representation analysis
	GSEA AnalysisKind = "GSEA" // miRNA set enrichment analysis
)

// Species codes accepted by the service.
var Species = []string{"hsa", "mmu", "rno", "ath", "bta", "cel", "dme", "dre", "gga", "ssc"}

// PValueAdjustments lists accepted values of AnalysisOptions.PValueAdjustment.
var PValueAdjustments = []string{"none", "fdr", "bonferroni", "BY", "hochberg", "holm", "hommel"}

// Format of enrichment results.
type Format string

const (
	JSON Format = "json"
	CSV  Format = "csv"
)

// ConverterOptions are sent with every conversion request.
type ConverterOptions struct {
	OutputFormat   string `validate:"oneof=oneline newline tabsep"`
	ConversionType string `validate:"oneof=all unique"`
}

// DefaultConverterOptions returns the converter defaults: oneline output with
// all mappings.
func DefaultConverterOptions() ConverterOptions {
	return ConverterOptions{OutputFormat: "oneline", ConversionType: "all"}
}

func (o ConverterOptions) form() url.Values {
	return url.Values{
		"output_format":   {o.OutputFormat},
		"conversion_type": {o.ConversionType},
	}
}

// AnalysisOptions are sent with every enrichment submission.
type AnalysisOptions struct {
	PValueAdjustment   string  `validate:"oneof=none fdr bonferroni BY hochberg holm hommel"`
	IndependentPAdjust bool    // adjust each category on its own instead of all together
	SignificanceLevel  float64 `validate:"gt=0,lte=1"`
	ThresholdLevel     int     `validate:"gte=0"` // minimum miRNAs per subcategory
}

// DefaultAnalysisOptions returns fdr adjustment per category, alpha 0.05 and
// a threshold of 2.
func DefaultAnalysisOptions() AnalysisOptions {
	return AnalysisOptions{
		PValueAdjustment:   "fdr",
		IndependentPAdjust: true,
		SignificanceLevel:  0.05,
		ThresholdLevel:     2,
	}
}

func (o AnalysisOptions) form() url.Values {
	return url.Values{
		"p_value_adjustment":   {o.PValueAdjustment},
		"independent_p_adjust": {pyBool(o.IndependentPAdjust)},
		"significance_level":   {strconv.FormatFloat(o.SignificanceLevel, 'f', -1, 64)},
		"threshold_level":      {strconv.Itoa(o.ThresholdLevel)},
	}
}

// The service parses form booleans the way they were first sent to it.
func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

type analysisTarget struct {
	Kind       AnalysisKind `validate:"oneof=ORA GSEA"`
	EntityType EntityType   `validate:"oneof=mirna precursor"`
	Species    string       `validate:"oneof=hsa mmu rno ath bta cel dme dre gga ssc"`
}

type categoryTarget struct {
	EntityType EntityType `validate:"oneof=mirna precursor"`
	Species    string     `validate:"oneof=hsa mmu rno ath bta cel dme dre gga ssc"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s=%v fails %s=%s", fe.Field(), fe.Value(), fe.Tag(), fe.Param()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

func normaliseEntity(e EntityType) EntityType {
	return EntityType(strings.ToLower(strings.TrimSpace(string(e))))
}

func normaliseSpecies(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (f Format) valid() bool { return f == JSON || f == CSV }
