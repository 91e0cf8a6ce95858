// Package motherfile manages the global library of default fase headings and
// media. The record is a singleton on the hosted backend; where it lives has
// moved between collections over time, so it is located through a fallback
// chain and the result is cached.
package motherfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pinkmilk/starzzz/internal/cache"
	"github.com/pinkmilk/starzzz/internal/fase"
	"github.com/pinkmilk/starzzz/internal/pocketbase"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnavailable = errors.New("motherfile unavailable")
	ErrNoFiles     = errors.New("no files to upload")
)

const (
	// WellKnownID is the record id used when the singleton is seeded by hand.
	WellKnownID = "motherfile00001"
	MediaField  = "media"
	cacheKey    = "motherfile:location"
)

// DefaultCollections are tried after the configured collection name.
var DefaultCollections = []string{"motherfile", "Motherfile", "mother_file"}

type Location struct {
	Collection string `json:"collection"`
	RecordID   string `json:"recordId"`
}

func (l Location) String() string { return l.Collection + "/" + l.RecordID }

func parseLocation(s string) (Location, bool) {
	c, id, ok := strings.Cut(s, "/")
	if !ok || c == "" || id == "" {
		return Location{}, false
	}
	return Location{Collection: c, RecordID: id}, true
}

// Record is the motherfile as stored on the backend.
type Record struct {
	ID             string        `json:"id"`
	CollectionName string        `json:"collectionName"`
	Created        string        `json:"created,omitempty"`
	Updated        string        `json:"updated,omitempty"`
	Fases          fase.Headings `json:"fases"`
	Media          []string      `json:"media"`
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID             string          `json:"id"`
		CollectionName string          `json:"collectionName"`
		Created        string          `json:"created"`
		Updated        string          `json:"updated"`
		Fases          json.RawMessage `json:"fases"`
		Media          json.RawMessage `json:"media"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	fases, err := fase.DecodeStored(raw.Fases)
	if err != nil {
		return err
	}
	*r = Record{
		ID:             raw.ID,
		CollectionName: raw.CollectionName,
		Created:        raw.Created,
		Updated:        raw.Updated,
		Fases:          fases,
		Media:          decodeMedia(raw.Media),
	}
	return nil
}

// media is a single- or multi-file field depending on the collection schema.
func decodeMedia(b json.RawMessage) []string {
	var list []string
	if json.Unmarshal(b, &list) == nil && list != nil {
		return list
	}
	var one string
	if json.Unmarshal(b, &one) == nil && one != "" {
		return []string{one}
	}
	return []string{}
}

// ResolveError lists every collection that was tried.
type ResolveError struct {
	Collections []string
	Last        error
}

func (e *ResolveError) Error() string {
	msg := fmt.Sprintf("motherfile not found (tried collections: %s)", strings.Join(e.Collections, ", "))
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *ResolveError) Unwrap() []error { return []error{ErrUnavailable, e.Last} }

type Config struct {
	Client *pocketbase.Client
	// Collection is tried before DefaultCollections.
	Collection string
	// KnownID is the id of the production record.
	KnownID string
	// ExplicitID comes from PB_MOTHERFILE_ID.
	ExplicitID string
	Cache      cache.Store
}

type Service struct {
	pb          *pocketbase.Client
	collections []string
	ids         []string
	cache       cache.Store

	mu   sync.RWMutex
	last Location
}

func New(cfg Config) (*Service, error) {
	if cfg.Client == nil {
		return nil, errors.New("pocketbase client cannot be nil")
	}
	s := &Service{pb: cfg.Client, cache: cfg.Cache}
	if s.cache == nil {
		s.cache = cache.NewMemory(0)
	}
	s.collections = dedupe(append([]string{strings.TrimSpace(cfg.Collection)}, DefaultCollections...))
	s.ids = dedupe([]string{cfg.KnownID, cfg.ExplicitID, WellKnownID})
	return s, nil
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Resolve finds the singleton: cached location, then per candidate
// collection the known, explicit and well-known ids, then the first listed
// record. If no record exists anywhere one is created in the first
// collection that exists.
func (s *Service) Resolve(ctx context.Context) (Location, error) {
	if v, err := s.cache.Get(ctx, cacheKey); err == nil {
		if loc, ok := parseLocation(v); ok {
			s.mu.Lock()
			s.last = loc
			s.mu.Unlock()
			return loc, nil
		}
	}

	var last error
	creatable := ""
	for _, col := range s.collections {
		loc, exists, err := s.probe(ctx, col)
		if err == nil {
			s.remember(ctx, loc)
			return loc, nil
		}
		last = err
		if exists && creatable == "" {
			creatable = col
		}
	}

	if creatable != "" {
		var rec Record
		if err := s.pb.Create(ctx, creatable, map[string]any{"fases": map[string]any{}}, &rec); err != nil {
			last = err
		} else {
			loc := Location{Collection: creatable, RecordID: rec.ID}
			log.Info().Str("collection", creatable).Str("id", rec.ID).Msg("created motherfile record")
			s.remember(ctx, loc)
			return loc, nil
		}
	}
	return Location{}, &ResolveError{Collections: s.collections, Last: last}
}

// probe looks for the record inside one collection. exists reports whether
// the collection itself answered.
func (s *Service) probe(ctx context.Context, col string) (Location, bool, error) {
	var last error
	for _, id := range s.ids {
		var rec Record
		err := s.pb.GetOne(ctx, col, id, &rec)
		if err == nil {
			return Location{Collection: col, RecordID: rec.ID}, true, nil
		}
		last = err
	}
	res, err := s.pb.List(ctx, col, pocketbase.ListOptions{Page: 1, PerPage: 1})
	if err != nil {
		log.Debug().Str("collection", col).Err(err).Msg("motherfile candidate failed")
		return Location{}, false, err
	}
	if len(res.Items) == 0 {
		if last == nil {
			last = errors.New("empty collection")
		}
		return Location{}, true, fmt.Errorf("%s: no records: %w", col, last)
	}
	var rec Record
	if err := json.Unmarshal(res.Items[0], &rec); err != nil {
		return Location{}, true, err
	}
	return Location{Collection: col, RecordID: rec.ID}, true, nil
}

func (s *Service) remember(ctx context.Context, loc Location) {
	s.mu.Lock()
	s.last = loc
	s.mu.Unlock()
	if err := s.cache.Set(ctx, cacheKey, loc.String()); err != nil {
		log.Warn().Err(err).Msg("failed to cache motherfile location")
	}
}

// Invalidate forgets the cached location.
func (s *Service) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.last = Location{}
	s.mu.Unlock()
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		log.Warn().Err(err).Msg("failed to drop cached motherfile location")
	}
}

// withRecord runs fn against the resolved location and re-resolves once if
// the cached record has disappeared.
func (s *Service) withRecord(ctx context.Context, fn func(Location) error) (Location, error) {
	loc, err := s.Resolve(ctx)
	if err != nil {
		return Location{}, err
	}
	err = fn(loc)
	if pocketbase.IsNotFound(err) {
		s.Invalidate(ctx)
		if loc, err = s.Resolve(ctx); err != nil {
			return Location{}, err
		}
		err = fn(loc)
	}
	return loc, err
}

func (s *Service) Get(ctx context.Context) (*Record, Location, error) {
	var rec Record
	loc, err := s.withRecord(ctx, func(l Location) error {
		return s.pb.GetOne(ctx, l.Collection, l.RecordID, &rec)
	})
	if err != nil {
		return nil, Location{}, err
	}
	return &rec, loc, nil
}

// Fases returns the motherfile headings.
func (s *Service) Fases(ctx context.Context) (fase.Headings, error) {
	rec, _, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if rec.Fases == nil {
		return fase.Headings{}, nil
	}
	return rec.Fases, nil
}

func (s *Service) UpdateFases(ctx context.Context, fases fase.Headings) (*Record, Location, error) {
	if err := fases.Validate(); err != nil {
		return nil, Location{}, err
	}
	if fases == nil {
		fases = fase.Headings{}
	}
	var rec Record
	loc, err := s.withRecord(ctx, func(l Location) error {
		return s.pb.Update(ctx, l.Collection, l.RecordID, map[string]any{"fases": fases}, &rec)
	})
	if err != nil {
		return nil, Location{}, err
	}
	return &rec, loc, nil
}

// UploadMedia appends files to the media field.
func (s *Service) UploadMedia(ctx context.Context, files []pocketbase.File) (*Record, Location, error) {
	if len(files) == 0 {
		return nil, Location{}, ErrNoFiles
	}
	var rec Record
	loc, err := s.withRecord(ctx, func(l Location) error {
		return s.pb.UpdateMultipart(ctx, l.Collection, l.RecordID, nil, files, &rec)
	})
	if err != nil {
		return nil, Location{}, err
	}
	return &rec, loc, nil
}

// MediaURL serves a motherfile media file from the hosted backend. It uses
// the last resolved location and returns "" before the first resolution.
func (s *Service) MediaURL(name string) string {
	s.mu.RLock()
	loc := s.last
	s.mu.RUnlock()
	return s.pb.FileURL(loc.Collection, loc.RecordID, name)
}
