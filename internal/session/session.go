// Package session stores show sessions ("ranking" records): the roster with
// its team prefixes, the per-show heading overrides and the live fase
// pointer.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/pinkmilk/starzzz/internal/fase"
	"github.com/pinkmilk/starzzz/internal/pocketbase"
	"github.com/pinkmilk/starzzz/internal/team"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidInput    = errors.New("invalid session input")
)

// Collection holds one record per show.
const Collection = "ranking"

type Session struct {
	ID          string        `json:"id"`
	Created     string        `json:"created,omitempty"`
	Updated     string        `json:"updated,omitempty"`
	Showname    string        `json:"showname"`
	City        string        `json:"city"`
	Photocircle string        `json:"photocircle"`
	Teamname    string        `json:"teamname,omitempty"`
	NrTeams     int           `json:"nr_teams"`
	NrPlayers   int           `json:"nr_players"`
	Playernames string        `json:"playernames"`
	Headings    fase.Headings `json:"headings"`
	CurrentFase fase.Key      `json:"current_fase"`
}

// UnmarshalJSON accepts headings stored either as an encoded string or as an
// object. A malformed document fails the decode.
func (s *Session) UnmarshalJSON(b []byte) error {
	type plain Session
	var raw struct {
		plain
		Headings json.RawMessage `json:"headings"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	h, err := fase.DecodeStored(raw.Headings)
	if err != nil {
		return fmt.Errorf("session %s: %w", raw.ID, err)
	}
	*s = Session(raw.plain)
	s.Headings = h
	return nil
}

// Teams groups the roster by team prefix.
func (s *Session) Teams() map[int][]string {
	return team.Parse(s.Playernames, s.NrTeams)
}

type CreateInput struct {
	Showname    string `json:"showname" binding:"required"`
	City        string `json:"city" binding:"required"`
	Photocircle string `json:"photocircle" binding:"required"`
	NrTeams     int    `json:"nr_teams" binding:"min=0,max=99"`
	Playernames string `json:"playernames"`
}

func (in *CreateInput) Validate() error {
	var missing []string
	if strings.TrimSpace(in.Showname) == "" {
		missing = append(missing, "showname")
	}
	if strings.TrimSpace(in.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(in.Photocircle) == "" {
		missing = append(missing, "photocircle")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalidInput, strings.Join(missing, ", "))
	}
	if in.NrTeams < 0 {
		return fmt.Errorf("%w: nr_teams must not be negative", ErrInvalidInput)
	}
	if in.NrTeams == 0 && team.Count(in.Playernames) > 0 {
		return fmt.Errorf("%w: players need at least one team", ErrInvalidInput)
	}
	return nil
}

// Stats summarises a list of sessions for the presenter overview.
type Stats struct {
	TotalSessions int `json:"totalSessions"`
	TotalPlayers  int `json:"totalPlayers"`
	TotalTeams    int `json:"totalTeams"`
	UniqueCities  int `json:"uniqueCities"`
}

func ComputeStats(sessions []*Session) Stats {
	st := Stats{TotalSessions: len(sessions)}
	cities := map[string]bool{}
	for _, s := range sessions {
		st.TotalPlayers += s.NrPlayers
		st.TotalTeams += s.NrTeams
		cities[s.City] = true
	}
	st.UniqueCities = len(cities)
	return st
}

// HeadingSource supplies the headings new sessions start from.
type HeadingSource interface {
	Fases(ctx context.Context) (fase.Headings, error)
}

type Repository struct {
	pb      *pocketbase.Client
	catalog *fase.Catalog
	seed    HeadingSource
	rng     *rand.Rand
}

type Option func(*Repository)

// WithHeadingSource seeds new sessions from the motherfile.
func WithHeadingSource(src HeadingSource) Option {
	return func(r *Repository) { r.seed = src }
}

// WithRand fixes the shuffle used for team assignment.
func WithRand(rng *rand.Rand) Option {
	return func(r *Repository) { r.rng = rng }
}

func NewRepository(pb *pocketbase.Client, catalog *fase.Catalog, opts ...Option) *Repository {
	if catalog == nil {
		catalog = fase.Default()
	}
	r := &Repository{pb: pb, catalog: catalog}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Create assigns teams once and stores the prefixed roster; the prefixes are
// never recomputed afterwards.
func (r *Repository) Create(ctx context.Context, in CreateInput) (*Session, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	names := team.SplitRoster(in.Playernames)
	assigned := team.Assign(names, in.NrTeams, r.rng)

	headings := r.seedHeadings(ctx)
	body := map[string]any{
		"showname":     strings.TrimSpace(in.Showname),
		"city":         strings.TrimSpace(in.City),
		"photocircle":  strings.TrimSpace(in.Photocircle),
		"nr_teams":     in.NrTeams,
		"nr_players":   len(names),
		"playernames":  team.JoinRoster(assigned),
		"headings":     headings.Encode(),
		"current_fase": string(r.catalog.First()),
	}
	var s Session
	if err := r.pb.Create(ctx, Collection, body, &s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &s, nil
}

func (r *Repository) seedHeadings(ctx context.Context) fase.Headings {
	if r.seed != nil {
		h, err := r.seed.Fases(ctx)
		if err == nil && len(h) > 0 {
			return h
		}
	}
	return r.catalog.DefaultHeadings()
}

func (r *Repository) Get(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := r.pb.GetOne(ctx, Collection, id, &s); err != nil {
		return nil, notFound(id, err)
	}
	return &s, nil
}

// List returns sessions newest first, optionally filtered on show name or
// city.
func (r *Repository) List(ctx context.Context, query string) ([]*Session, error) {
	opts := pocketbase.ListOptions{Sort: "-created"}
	if q := strings.TrimSpace(query); q != "" {
		opts.Filter = fmt.Sprintf("showname ~ %s || city ~ %s", pocketbase.Quote(q), pocketbase.Quote(q))
	}
	items, err := r.pb.FullList(ctx, Collection, opts)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*Session, 0, len(items))
	for _, raw := range items {
		var s Session
		if err := json.Unmarshal(raw, &s); err != nil {
			log.Warn().Err(err).Msg("skipping unreadable session")
			continue
		}
		out = append(out, &s)
	}
	return out, nil
}

// Latest is the most recently created session; displays open it by default.
func (r *Repository) Latest(ctx context.Context) (*Session, error) {
	res, err := r.pb.List(ctx, Collection, pocketbase.ListOptions{Page: 1, PerPage: 1, Sort: "-created"})
	if err != nil {
		return nil, fmt.Errorf("latest session: %w", err)
	}
	if len(res.Items) == 0 {
		return nil, ErrSessionNotFound
	}
	var s Session
	if err := json.Unmarshal(res.Items[0], &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SetFase writes only current_fase.
func (r *Repository) SetFase(ctx context.Context, id string, key fase.Key) error {
	if !key.Valid() {
		return fmt.Errorf("%w: fase %q", ErrInvalidInput, key)
	}
	if err := r.pb.Update(ctx, Collection, id, map[string]any{"current_fase": string(key)}, nil); err != nil {
		return notFound(id, err)
	}
	return nil
}

// SaveHeadings replaces the session's headings document.
func (r *Repository) SaveHeadings(ctx context.Context, id string, h fase.Headings) (*Session, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	var s Session
	if err := r.pb.Update(ctx, Collection, id, map[string]any{"headings": h.Encode()}, &s); err != nil {
		return nil, notFound(id, err)
	}
	return &s, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.pb.Delete(ctx, Collection, id); err != nil {
		return notFound(id, err)
	}
	return nil
}

// Catalog is the fase catalog sessions are sequenced against.
func (r *Repository) Catalog() *fase.Catalog { return r.catalog }

func notFound(id string, err error) error {
	if pocketbase.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return err
}
