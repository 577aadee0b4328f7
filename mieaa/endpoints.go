package mieaa

import (
	"fmt"
	"net/url"
)

// Endpoint names double as metric and span labels.
const (
	endpointCategories     = "categories"
	endpointMirbaseConvert = "mirbase_converter"
	endpointMirnaTypeConv  = "mirna_type_converter"
	endpointEnrichment     = "enrichment"
	endpointResults        = "results"
	endpointStatus         = "status"
)

func (s *Session) categoriesURL(species string, entity EntityType) string {
	return s.baseURL + fmt.Sprintf("enrichment_categories/%s/%s/", url.PathEscape(species), url.PathEscape(string(entity)))
}

func (s *Session) mirbaseConverterURL() string {
	return s.baseURL + "mirbase_converter/"
}

func (s *Session) mirnaTypeConverterURL() string {
	return s.baseURL + "mirna_precursor_converter/"
}

func (s *Session) enrichmentURL(species string, entity EntityType, kind AnalysisKind) string {
	return s.baseURL + fmt.Sprintf("enrichment_analysis/%s/%s/%s/",
		url.PathEscape(species), url.PathEscape(string(entity)), url.PathEscape(string(kind)))
}

func (s *Session) resultsURL(jobID string) string {
	return s.baseURL + fmt.Sprintf("enrichment_analysis/results/%s/", url.PathEscape(jobID))
}

func (s *Session) statusURL(jobID string) string {
	return s.baseURL + fmt.Sprintf("job_status/%s/", url.PathEscape(jobID))
}
