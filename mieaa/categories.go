package mieaa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/mieaa/internal/transport"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

// Category is an enrichment category offered by the service.
type Category struct {
	Name        string // suffixed, e.g. HMDD_precursor
	Description string
}

// Words, as in the service's own category tokenizer.
var categoryToken = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// ListCategories returns category descriptions keyed by name for an entity
// type and species. Names carry the entity suffix only when withSuffix is set.
// Every call fetches the list, unless the session memoises lists with a
// category TTL; a memo lasts until the TTL or Invalidate.
func (s *Session) ListCategories(ctx context.Context, entity EntityType, species string, withSuffix bool) (map[string]string, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.leave()

	entity = normaliseEntity(entity)
	species = normaliseSpecies(species)
	if err := validateStruct(categoryTarget{EntityType: entity, Species: species}); err != nil {
		return nil, err
	}
	cats, err := s.categoryList(ctx, entity, species)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(cats))
	for _, c := range cats {
		name := c.Name
		if !withSuffix {
			name = strings.TrimSuffix(name, entity.Suffix())
		}
		out[name] = c.Description
	}
	return out, nil
}

// canonicalCategories returns the unsuffixed category names for a pair.
func (s *Session) canonicalCategories(ctx context.Context, entity EntityType, species string) ([]string, error) {
	cats, err := s.categoryList(ctx, entity, species)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, strings.TrimSuffix(c.Name, entity.Suffix()))
	}
	return names, nil
}

func (s *Session) categoryList(ctx context.Context, entity EntityType, species string) ([]Category, error) {
	key := string(entity) + "/" + species
	if s.categories != nil {
		if v, ok := s.categories.Get(key); ok {
			return v.([]Category), nil
		}
	}

	resp, err := s.send(ctx, transport.Request{
		Method:   http.MethodGet,
		URL:      s.categoriesURL(species, entity),
		Endpoint: endpointCategories,
	})
	if err != nil {
		return nil, err
	}
	cats, err := decodeCategories(resp.Body)
	if err != nil {
		return nil, &MalformedResponseError{Endpoint: endpointCategories, Body: resp.Text(), Err: err}
	}
	if s.categories != nil {
		s.categories.Set(key, cats, gocache.DefaultExpiration)
	}
	s.logger.Debug("categories fetched",
		zap.String("entity", string(entity)),
		zap.String("species", species),
		zap.Int("count", len(cats)))
	return cats, nil
}

// decodeCategories reads {"categories": [[name, description], ...]}.
func decodeCategories(body []byte) ([]Category, error) {
	var payload struct {
		Categories *[][]string `json:"categories"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if payload.Categories == nil {
		return nil, errors.New("categories missing")
	}
	out := make([]Category, 0, len(*payload.Categories))
	for _, pair := range *payload.Categories {
		if len(pair) == 0 || pair[0] == "" {
			continue
		}
		c := Category{Name: pair[0]}
		if len(pair) > 1 {
			c.Description = pair[1]
		}
		out = append(out, c)
	}
	return out, nil
}

// ResolveCategories turns free text into category names for entity. Every
// word becomes one name: the entity suffix is appended unless already
// present, and a caseless match against canonical takes the canonical
// spelling. Words without a match are kept as written. canonical may hold
// names with or without the suffix.
func ResolveCategories(raw string, entity EntityType, canonical []string) []string {
	suffix := entity.Suffix()
	fold := cases.Fold()

	cased := make(map[string]string, len(canonical))
	for _, name := range canonical {
		if !strings.HasSuffix(name, suffix) {
			name += suffix
		}
		cased[fold.String(name)] = name
	}

	tokens := categoryToken.FindAllString(raw, -1)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !strings.HasSuffix(tok, suffix) {
			tok += suffix
		}
		if name, ok := cased[fold.String(tok)]; ok {
			tok = name
		}
		out = append(out, tok)
	}
	return out
}
