package mieaa

import (
	"maps"
	"net/url"
	"slices"
)

// State is the position of a session in the job lifecycle.
//
//	empty -> submitted -> polling -> results_cached
//	                  ^------'  (remote job failed or connection gave up)
//
// A failed wait leaves a payload cached earlier in another format in place.
//
// Invalidate returns to empty from any state.
type State string

const (
	// StateEmpty has no job attached; Submit is the only job operation allowed.
	StateEmpty State = "empty"
	// StateSubmitted has a job id but no cached results.
	StateSubmitted State = "submitted"
	// StatePolling is inside Results, waiting for the job to complete.
	StatePolling State = "polling"
	// StateResultsCached holds the payload of the last successful Results call.
	StateResultsCached State = "results_cached"
)

func (j *job) state() State {
	switch {
	case j == nil:
		return StateEmpty
	case j.polling:
		return StatePolling
	case j.result != nil:
		return StateResultsCached
	default:
		return StateSubmitted
	}
}

// Parameters are the request fields used for a job's submission.
type Parameters struct {
	Analysis     AnalysisKind
	Species      string
	EntityType   EntityType
	Categories   []string
	TestSet      string // inline test set, empty when uploaded as a file
	ReferenceSet string // inline reference set, empty when absent or uploaded
	Options      AnalysisOptions
	// Files maps upload fields (testset_file, reference_set_file) to the
	// name of the stream that was attached.
	Files map[string]string
	// Form is the exact form payload that was posted, file parts excluded.
	Form url.Values
}

func (p Parameters) clone() Parameters {
	out := p
	out.Categories = slices.Clone(p.Categories)
	out.Files = maps.Clone(p.Files)
	if p.Form != nil {
		out.Form = cloneValues(p.Form)
	}
	return out
}
