package console

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pinkmilk/starzzz/internal/game"
)

// Feed forwards show states to a running program. Push never blocks, so it
// is safe to call from a show listener that fires inside Update. Only the
// newest pending state is delivered.
type Feed struct {
	p      *tea.Program
	states chan game.State
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func NewFeed(p *tea.Program) *Feed {
	f := &Feed{p: p, states: make(chan game.State, 1), done: make(chan struct{})}
	f.wg.Add(1)
	go f.run()
	return f
}

func (f *Feed) run() {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		case st := <-f.states:
			f.p.Send(StateMsg(st))
		}
	}
}

func (f *Feed) Push(st game.State) {
	for {
		select {
		case f.states <- st:
			return
		default:
		}
		// drop the stale one
		select {
		case <-f.states:
		default:
		}
	}
}

// Close stops forwarding. Call it after the program has exited.
func (f *Feed) Close() {
	f.once.Do(func() { close(f.done) })
	f.wg.Wait()
}
