package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pinkmilk/starzzz/internal/fase"
	"github.com/pinkmilk/starzzz/internal/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrShowNotLoaded = errors.New("show not loaded")
	ErrUnknownFase   = errors.New("unknown fase")
	ErrNoMotherfile  = errors.New("motherfile not configured")
)

const persistTimeout = 10 * time.Second

// ShowManager keeps one live Show per session id.
type ShowManager struct {
	mu      sync.RWMutex
	shows   map[string]*Show
	catalog *fase.Catalog

	sessions SessionStore
	mother   MotherStore

	motherMu sync.RWMutex
	motherH  fase.Headings

	lmu       sync.RWMutex
	listeners []func(*Show)

	persists sync.WaitGroup
}

func NewShowManager(sessions SessionStore, mother MotherStore, catalog *fase.Catalog) *ShowManager {
	if catalog == nil {
		catalog = fase.Default()
	}
	return &ShowManager{
		shows:    make(map[string]*Show),
		catalog:  catalog,
		sessions: sessions,
		mother:   mother,
		motherH:  fase.Headings{},
	}
}

func (m *ShowManager) Catalog() *fase.Catalog { return m.catalog }

// OnChange registers fn for every state change of any show.
func (m *ShowManager) OnChange(fn func(*Show)) {
	m.lmu.Lock()
	m.listeners = append(m.listeners, fn)
	m.lmu.Unlock()
}

func (m *ShowManager) notify(s *Show) {
	m.lmu.RLock()
	ls := append([]func(*Show){}, m.listeners...)
	m.lmu.RUnlock()
	for _, fn := range ls {
		fn(s)
	}
}

// Open returns the loaded show or loads it from the store.
func (m *ShowManager) Open(ctx context.Context, id string) (*Show, error) {
	if s, err := m.Get(id); err == nil {
		return s, nil
	}
	return m.Reload(ctx, id)
}

func (m *ShowManager) Get(id string) (*Show, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.shows[id]
	if s == nil {
		return nil, ErrShowNotLoaded
	}
	return s, nil
}

// Reload fetches the session again and replaces the live state, dropping
// unsaved heading edits.
func (m *ShowManager) Reload(ctx context.Context, id string) (*Show, error) {
	rec, err := m.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.RefreshMotherfile(ctx)

	m.mu.Lock()
	s := m.shows[id]
	if s == nil {
		s = &Show{m: m}
		m.shows[id] = s
	}
	m.mu.Unlock()

	s.mu.Lock()
	s.load(rec)
	s.working = s.saved.Clone()
	s.dirty = false
	s.mu.Unlock()
	m.notify(s)
	return s, nil
}

// Apply takes a session record observed on the backend (realtime or poll).
// The last observed record wins. It reports whether anything visible
// changed.
func (m *ShowManager) Apply(rec *session.Session) (*Show, bool) {
	m.mu.Lock()
	s := m.shows[rec.ID]
	if s == nil {
		s = &Show{m: m}
		m.shows[rec.ID] = s
	}
	m.mu.Unlock()

	s.mu.Lock()
	before := s.current
	beforeH := s.saved.Encode()
	fresh := s.sess.ID == ""
	s.load(rec)
	if !s.dirty {
		s.working = s.saved.Clone()
	}
	changed := fresh || before != s.current || beforeH != s.saved.Encode()
	s.mu.Unlock()

	if changed {
		m.notify(s)
	}
	return s, changed
}

// Forget drops a show, e.g. after its session was deleted.
func (m *ShowManager) Forget(id string) {
	m.mu.Lock()
	delete(m.shows, id)
	m.mu.Unlock()
}

func (m *ShowManager) Shows() []*Show {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Show, 0, len(m.shows))
	for _, s := range m.shows {
		out = append(out, s)
	}
	return out
}

// RefreshMotherfile reloads the fallback headings. On failure the previous
// copy stays in use.
func (m *ShowManager) RefreshMotherfile(ctx context.Context) {
	if m.mother == nil {
		return
	}
	h, err := m.mother.Fases(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("motherfile unavailable, keeping previous headings")
		return
	}
	m.motherMu.Lock()
	m.motherH = h
	m.motherMu.Unlock()
}

func (m *ShowManager) motherHeadings() fase.Headings {
	m.motherMu.RLock()
	defer m.motherMu.RUnlock()
	return m.motherH
}

func (m *ShowManager) mediaURL(name string) string {
	if m.mother == nil {
		return ""
	}
	return m.mother.MediaURL(name)
}

// Wait blocks until background fase writes are done.
func (m *ShowManager) Wait() { m.persists.Wait() }

// Show is the live state of one session.
type Show struct {
	m  *ShowManager
	mu sync.Mutex

	sess    session.Session
	current fase.Key
	saved   fase.Headings
	working fase.Headings
	dirty   bool
	updated time.Time

	// fase writer; at most one runs per show and it writes the newest key
	pending fase.Key
	writing bool
}

// load copies rec into the show. Callers hold s.mu.
func (s *Show) load(rec *session.Session) {
	s.sess = *rec
	s.saved = rec.Headings.Clone()
	if s.writing {
		// our own write is still in flight, the record lags behind
		s.updated = time.Now().UTC()
		return
	}
	s.current = rec.CurrentFase
	if !s.m.catalog.Contains(s.current) {
		s.current = s.m.catalog.First()
	}
	s.updated = time.Now().UTC()
}

func (s *Show) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.ID
}

func (s *Show) Current() fase.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Session returns a copy of the session record as last loaded.
func (s *Show) Session() session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sess
	out.CurrentFase = s.current
	out.Headings = s.saved.Clone()
	return out
}

func (s *Show) Teams() map[int][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Teams()
}

func (s *Show) move(next fase.Key) fase.Key {
	s.mu.Lock()
	if next == s.current {
		s.mu.Unlock()
		return next
	}
	s.current = next
	s.updated = time.Now().UTC()
	s.pending = next
	start := !s.writing
	if start {
		s.writing = true
		s.m.persists.Add(1)
	}
	id := s.sess.ID
	s.mu.Unlock()

	if start {
		go s.writeFases(id)
	}
	s.m.notify(s)
	return next
}

// writeFases persists current_fase in the background, one write at a time.
// Keys queued while a write is running collapse into the newest one.
// Failures are logged and never retried; the local state stays ahead of the
// backend.
func (s *Show) writeFases(id string) {
	defer s.m.persists.Done()
	for {
		s.mu.Lock()
		key := s.pending
		if key == "" {
			s.writing = false
			s.mu.Unlock()
			return
		}
		s.pending = ""
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := s.m.sessions.SetFase(ctx, id, key)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("session", id).Str("fase", string(key)).Msg("failed to persist current fase")
		}
	}
}

// Advance steps inside the current group; the ends are clamped.
func (s *Show) Advance(dir fase.Direction) fase.Key {
	return s.move(s.m.catalog.Step(s.Current(), dir))
}

// JumpToGroup moves to the first fase of group ("7" or "07").
func (s *Show) JumpToGroup(group string) (fase.Key, error) {
	key, err := s.m.catalog.FirstOf(group)
	if err != nil {
		return s.Current(), err
	}
	return s.move(key), nil
}

// SetFase moves to any fase in the catalog.
func (s *Show) SetFase(key fase.Key) error {
	if !s.m.catalog.Contains(key) {
		return ErrUnknownFase
	}
	s.move(key)
	return nil
}

// EditHeading changes the working copy only; Save persists it.
func (s *Show) EditHeading(key fase.Key, heading, image string) error {
	if !key.Valid() {
		return ErrUnknownFase
	}
	s.mu.Lock()
	if s.working == nil {
		s.working = fase.Headings{}
	}
	s.working[key] = fase.Heading{Heading: heading, Image: image}
	s.dirty = true
	s.mu.Unlock()
	s.m.notify(s)
	return nil
}

// ReplaceHeadings swaps the whole working copy, e.g. from a bulk editor.
func (s *Show) ReplaceHeadings(h fase.Headings) error {
	if err := h.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.working = h.Clone()
	s.dirty = s.working.Encode() != s.saved.Encode()
	s.mu.Unlock()
	s.m.notify(s)
	return nil
}

// Headings returns the working copy shown in the editor.
func (s *Show) Headings() fase.Headings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working.Clone()
}

func (s *Show) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Save writes the working headings to the session and, when asked, to the
// motherfile. The two writes are independent and not atomic.
func (s *Show) Save(ctx context.Context, opts SaveOptions) SaveResult {
	s.mu.Lock()
	h := s.working.Clone()
	id := s.sess.ID
	s.mu.Unlock()

	res := SaveResult{Motherfile: opts.UpdateMotherfile}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, res.SessionErr = s.m.sessions.SaveHeadings(ctx, id, h)
	}()
	if opts.UpdateMotherfile {
		if s.m.mother == nil {
			res.MotherfileErr = ErrNoMotherfile
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, res.MotherfileErr = s.m.mother.UpdateFases(ctx, h)
			}()
		}
	}
	wg.Wait()

	if res.SessionErr != nil {
		log.Error().Err(res.SessionErr).Str("session", id).Msg("failed to save session headings")
	} else {
		s.mu.Lock()
		s.saved = h
		s.dirty = s.working.Encode() != h.Encode()
		s.mu.Unlock()
	}
	if opts.UpdateMotherfile {
		if res.MotherfileErr != nil {
			log.Error().Err(res.MotherfileErr).Str("session", id).Msg("failed to update motherfile")
		} else {
			s.m.motherMu.Lock()
			s.m.motherH = h.Clone()
			s.m.motherMu.Unlock()
		}
	}
	s.m.notify(s)
	return res
}

// View resolves what displays show for the current fase.
func (s *Show) View() fase.View {
	s.mu.Lock()
	key, saved := s.current, s.saved
	s.mu.Unlock()
	return s.m.catalog.Resolve(key, saved, s.m.motherHeadings(), s.m.mediaURL)
}

// ViewOf resolves any fase, using the working copy for editor previews.
func (s *Show) ViewOf(key fase.Key, preview bool) fase.View {
	s.mu.Lock()
	h := s.saved
	if preview {
		h = s.working
	}
	h = h.Clone()
	s.mu.Unlock()
	return s.m.catalog.Resolve(key, h, s.m.motherHeadings(), s.m.mediaURL)
}

func (s *Show) State() State {
	v := s.View()
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		SessionID: s.sess.ID,
		Showname:  s.sess.Showname,
		City:      s.sess.City,
		NrTeams:   s.sess.NrTeams,
		Fase:      v.Fase,
		Group:     v.Group,
		View:      v,
		Dirty:     s.dirty,
		UpdatedAt: s.updated,
	}
}
