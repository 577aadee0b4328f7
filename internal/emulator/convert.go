package emulator

import (
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

var idSeparators = regexp.MustCompile(`[;,\s]+`)

func splitIDs(s string) []string {
	var out []string
	for _, id := range idSeparators.Split(s, -1) {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func (s *Server) convertMirbase(c echo.Context) error {
	if !validEntity(c.FormValue("input_type")) {
		return echo.NewHTTPError(http.StatusBadRequest, "input_type must be mirna or precursor")
	}
	from := strings.TrimPrefix(c.FormValue("mirbase_input_version"), "v")
	to := strings.TrimPrefix(c.FormValue("mirbase_output_version"), "v")
	if from == "" || to == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mirbase versions are required")
	}

	s.mu.Lock()
	mapping := lookupMapping(s.opts.Mirbase, from, to)
	s.mu.Unlock()
	return s.writeConversion(c, mapping)
}

func (s *Server) convertType(c echo.Context) error {
	s.mu.Lock()
	precursors := s.opts.Precursors
	s.mu.Unlock()

	var mapping map[string][]string
	switch c.FormValue("input_type") {
	case "to_precursor":
		mapping = precursors
	case "to_mirna":
		mapping = invert(precursors)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "input_type must be to_precursor or to_mirna")
	}
	return s.writeConversion(c, mapping)
}

// lookupMapping returns the FROM>TO table, inverting TO>FROM when only that
// one exists. Equal versions map every id onto itself.
func lookupMapping(tables map[string]map[string][]string, from, to string) map[string][]string {
	if from == to {
		return nil
	}
	if m, ok := tables[from+">"+to]; ok {
		return m
	}
	if m, ok := tables[to+">"+from]; ok {
		return invert(m)
	}
	return map[string][]string{}
}

func invert(m map[string][]string) map[string][]string {
	out := map[string][]string{}
	for k, vs := range m {
		for _, v := range vs {
			if !slices.Contains(out[v], k) {
				out[v] = append(out[v], k)
			}
		}
	}
	for k := range out {
		slices.Sort(out[k])
	}
	return out
}

// writeConversion renders the mapping of the posted ids. A nil mapping is
// the identity.
func (s *Server) writeConversion(c echo.Context, mapping map[string][]string) error {
	format := c.FormValue("output_format")
	if format == "" {
		format = "oneline"
	}
	unique := c.FormValue("conversion_type") == "unique"

	var lines []string
	for _, id := range splitIDs(c.FormValue("mirnas")) {
		out := []string{id}
		if mapping != nil {
			out = mapping[id]
		}
		if unique && len(out) > 1 {
			out = nil
		}
		switch format {
		case "oneline":
			lines = append(lines, orDash(strings.Join(out, ";")))
		case "newline":
			if len(out) == 0 {
				lines = append(lines, "-")
			}
			lines = append(lines, out...)
		case "tabsep":
			lines = append(lines, id+"\t"+orDash(strings.Join(out, ";")))
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "unknown output_format "+format)
		}
	}
	body := strings.Join(lines, "\n")
	if body != "" {
		body += "\n"
	}
	return c.String(http.StatusOK, body)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
