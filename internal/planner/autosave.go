package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SaveFunc persists one owner's week.
type SaveFunc func(ctx context.Context, owner, week string, tasks []Task) error

type boardKey struct{ owner, week string }

type pending struct {
	timer     *time.Timer
	tasks     []Task
	hash      string
	savedHash string
	inFlight  bool
}

// Autosaver debounces planner edits. A save that fires while the previous
// one for the same board is still running is skipped, and a payload equal
// to the last saved one is never sent. Failures are logged; the next edit
// tries again.
type Autosaver struct {
	save  SaveFunc
	delay time.Duration

	mu     sync.Mutex
	boards map[boardKey]*pending
	closed bool
	wg     sync.WaitGroup
}

func NewAutosaver(save SaveFunc, delay time.Duration) *Autosaver {
	if delay <= 0 {
		delay = 1200 * time.Millisecond
	}
	return &Autosaver{save: save, delay: delay, boards: map[boardKey]*pending{}}
}

// Schedule records the latest tasks for (owner, week) and restarts the
// debounce timer. It reports whether a save was scheduled.
func (a *Autosaver) Schedule(owner, week string, tasks []Task) bool {
	h := hashTasks(owner, week, tasks)
	k := boardKey{owner, week}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	p := a.boards[k]
	if p == nil {
		p = &pending{}
		a.boards[k] = p
	}
	if h == p.savedHash {
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		return false
	}
	p.tasks, p.hash = tasks, h
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(a.delay, func() { a.fire(k) })
	return true
}

func (a *Autosaver) fire(k boardKey) {
	a.mu.Lock()
	p := a.boards[k]
	if p == nil || a.closed {
		a.mu.Unlock()
		return
	}
	p.timer = nil
	if p.inFlight {
		a.mu.Unlock()
		log.Debug().Str("owner", k.owner).Str("week", k.week).Msg("planner save already running, skipped")
		return
	}
	p.inFlight = true
	tasks, h := p.tasks, p.hash
	a.wg.Add(1)
	a.mu.Unlock()

	defer a.wg.Done()
	err := a.save(context.Background(), k.owner, k.week, tasks)

	a.mu.Lock()
	p.inFlight = false
	if err == nil {
		p.savedHash = h
	}
	a.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("owner", k.owner).Str("week", k.week).Msg("planner autosave failed")
	}
}

// MarkSaved tells the autosaver that tasks are already stored, e.g. right
// after a load, so an identical edit is not written back.
func (a *Autosaver) MarkSaved(owner, week string, tasks []Task) {
	k := boardKey{owner, week}
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.boards[k]
	if p == nil {
		p = &pending{}
		a.boards[k] = p
	}
	p.savedHash = hashTasks(owner, week, tasks)
}

// Close stops pending timers and waits for running saves.
func (a *Autosaver) Close() {
	a.mu.Lock()
	a.closed = true
	for _, p := range a.boards {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func hashTasks(owner, week string, tasks []Task) string {
	b, _ := json.Marshal(struct {
		Owner string `json:"ownerId"`
		Week  string `json:"weekKey"`
		Tasks []Task `json:"tasks"`
	}{owner, week, tasks})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
