// Package live keeps displays in step with the session record: it follows
// the backend's realtime feed for a session and falls back to polling when
// the feed is unavailable.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/pinkmilk/starzzz/internal/pocketbase"
	"github.com/pinkmilk/starzzz/internal/session"
	"github.com/rs/zerolog/log"
)

const DefaultInterval = 10 * time.Second

// resubscribeEvery is the number of polls between realtime retries.
const resubscribeEvery = 6

// Getter loads a session record.
type Getter interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// Subscriber opens a realtime feed.
type Subscriber interface {
	Subscribe(ctx context.Context, topics ...string) (<-chan pocketbase.Event, error)
}

// Handler receives every observed record. deleted is set when the record
// went away; rec is nil then. Events are delivered in arrival order and the
// last one wins.
type Handler func(id string, rec *session.Session, deleted bool)

type Watcher struct {
	id       string
	get      Getter
	sub      Subscriber
	interval time.Duration
	handle   Handler

	resubscribe int
	last        string
}

func NewWatcher(id string, get Getter, sub Subscriber, interval time.Duration, handle Handler) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{id: id, get: get, sub: sub, interval: interval, handle: handle, resubscribe: resubscribeEvery}
}

// Run blocks until ctx ends or the session is deleted. While the realtime
// feed is down it polls, trying to subscribe again every few polls.
func (w *Watcher) Run(ctx context.Context) {
	for {
		if w.sub != nil {
			events, err := w.sub.Subscribe(ctx, session.Collection+"/"+w.id)
			if err == nil {
				log.Debug().Str("session", w.id).Msg("realtime subscription open")
				if w.follow(ctx, events) {
					return
				}
				log.Warn().Str("session", w.id).Msg("realtime subscription dropped, polling")
			} else {
				log.Warn().Err(err).Str("session", w.id).Msg("realtime unavailable, polling")
			}
		}
		rounds := 0
		if w.sub != nil {
			rounds = w.resubscribe
		}
		if !w.poll(ctx, rounds) {
			return
		}
	}
}

// follow reports true when ctx ended, false when the feed closed.
func (w *Watcher) follow(ctx context.Context, events <-chan pocketbase.Event) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-events:
			if !ok {
				return ctx.Err() != nil
			}
			if ev.Action == "delete" {
				w.handle(w.id, nil, true)
				continue
			}
			var rec session.Session
			if err := json.Unmarshal(ev.Record, &rec); err != nil {
				log.Warn().Err(err).Str("session", w.id).Msg("unreadable realtime record")
				continue
			}
			w.last = signature(&rec)
			w.handle(w.id, &rec, false)
		}
	}
}

// poll reads the record every interval. With rounds > 0 it returns true
// after that many polls; false means ctx ended or the session is gone.
func (w *Watcher) poll(ctx context.Context, rounds int) bool {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for n := 1; ; n++ {
		rec, err := w.get.Get(ctx, w.id)
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			w.handle(w.id, nil, true)
			return false
		case err != nil:
			if ctx.Err() != nil {
				return false
			}
			log.Warn().Err(err).Str("session", w.id).Msg("poll failed")
		default:
			if sig := signature(rec); sig != w.last {
				w.last = sig
				w.handle(w.id, rec, false)
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
		if rounds > 0 && n >= rounds {
			return true
		}
	}
}

func signature(rec *session.Session) string {
	return rec.Updated + "|" + string(rec.CurrentFase) + "|" + rec.Headings.Encode()
}

// Hub runs at most one Watcher per session and stops it when the last
// viewer leaves.
type Hub struct {
	get      Getter
	sub      Subscriber
	interval time.Duration
	handle   Handler

	mu      sync.Mutex
	running map[string]*watch
	wg      sync.WaitGroup
}

type watch struct {
	refs   int
	cancel context.CancelFunc
}

func NewHub(get Getter, sub Subscriber, interval time.Duration, handle Handler) *Hub {
	return &Hub{get: get, sub: sub, interval: interval, handle: handle, running: map[string]*watch{}}
}

// Watch adds a viewer for id.
func (h *Hub) Watch(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w := h.running[id]; w != nil {
		w.refs++
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.running[id] = &watch{refs: 1, cancel: cancel}
	wt := NewWatcher(id, h.get, h.sub, h.interval, h.handle)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		wt.Run(ctx)
	}()
}

// Release removes a viewer for id.
func (h *Hub) Release(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w := h.running[id]
	if w == nil {
		return
	}
	if w.refs--; w.refs <= 0 {
		w.cancel()
		delete(h.running, id)
	}
}

// Watching reports the number of viewers of id.
func (h *Hub) Watching(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w := h.running[id]; w != nil {
		return w.refs
	}
	return 0
}

// Close stops every watcher and waits for them.
func (h *Hub) Close() {
	h.mu.Lock()
	for id, w := range h.running {
		w.cancel()
		delete(h.running, id)
	}
	h.mu.Unlock()
	h.wg.Wait()
}
