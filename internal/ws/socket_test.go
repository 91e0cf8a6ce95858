package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/pinkmilk/starzzz/internal/fase"
	"github.com/pinkmilk/starzzz/internal/game"
	"github.com/pinkmilk/starzzz/internal/planner"
	"github.com/pinkmilk/starzzz/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	event   string
	payload any
}

type fakeConn struct {
	socketio.Conn
	id  string
	ctx any

	mu     sync.Mutex
	events []emitted
	rooms  map[string]bool
}

func newConn(id string) *fakeConn { return &fakeConn{id: id, rooms: map[string]bool{}} }

func (c *fakeConn) ID() string               { return c.id }
func (c *fakeConn) Context() interface{}     { return c.ctx }
func (c *fakeConn) SetContext(v interface{}) { c.ctx = v }
func (c *fakeConn) Join(room string)         { c.rooms[room] = true }
func (c *fakeConn) Leave(room string)        { delete(c.rooms, room) }

func (c *fakeConn) Emit(event string, v ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var p any
	if len(v) > 0 {
		p = v[0]
	}
	c.events = append(c.events, emitted{event, p})
}

func (c *fakeConn) last(event string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].event == event {
			return c.events[i].payload, true
		}
	}
	return nil, false
}

type memSessions struct {
	mu   sync.Mutex
	recs map[string]*session.Session
}

func (m *memSessions) Get(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.recs[id]
	if r == nil {
		return nil, session.ErrSessionNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memSessions) SetFase(_ context.Context, id string, key fase.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[id].CurrentFase = key
	return nil
}

func (m *memSessions) SaveHeadings(_ context.Context, id string, h fase.Headings) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[id].Headings = h.Clone()
	cp := *m.recs[id]
	return &cp, nil
}

type countingWatcher struct {
	mu   sync.Mutex
	refs map[string]int
}

func (w *countingWatcher) Watch(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refs[id]++
}

func (w *countingWatcher) Release(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refs[id]--
}

func setup(t *testing.T, token string) (*Server, *game.ShowManager, *countingWatcher) {
	t.Helper()
	store := &memSessions{recs: map[string]*session.Session{
		"abc": {ID: "abc", Showname: "Kick-off", NrTeams: 2, CurrentFase: "07/05"},
	}}
	shows := game.NewShowManager(store, nil, nil)
	t.Cleanup(shows.Wait)
	srv := New(shows, nil, token)
	w := &countingWatcher{refs: map[string]int{}}
	srv.SetWatcher(w)
	return srv, shows, w
}

func TestWatchAndAdvanceBroadcasts(t *testing.T) {
	srv, _, w := setup(t, "")
	presenter, display := newConn("p"), newConn("d")

	ack := srv.watch(presenter, watchReq{SessionID: "abc", Role: "presenter"})
	require.NotContains(t, ack, "error")
	srv.watch(display, watchReq{SessionID: "abc", Role: "display"})
	assert.True(t, display.rooms["abc"])
	assert.Equal(t, 2, w.refs["abc"])

	st, ok := display.last("fase:state")
	require.True(t, ok)
	assert.Equal(t, fase.Key("07/05"), st.(game.State).Fase)

	ack = srv.advance(presenter, struct {
		Direction string `json:"direction"`
	}{"next"})
	assert.Equal(t, fase.Key("07/06"), ack["fase"])

	st, _ = display.last("fase:state")
	assert.Equal(t, fase.Key("07/06"), st.(game.State).Fase)
}

func TestDisplayCannotNavigate(t *testing.T) {
	srv, _, _ := setup(t, "")
	display := newConn("d")
	srv.watch(display, watchReq{SessionID: "abc", Role: "display"})

	ack := srv.jump(display, struct {
		Group string `json:"group"`
	}{"10"})
	assert.Equal(t, "presenter only", ack["error"])
	_, ok := display.last("error")
	assert.True(t, ok)
}

func TestWatchRejects(t *testing.T) {
	srv, _, _ := setup(t, "s3cret")
	c := newConn("x")

	assert.Equal(t, "invalid presenter token", srv.watch(c, watchReq{SessionID: "abc", Role: "presenter", Token: "nope"})["error"])
	assert.Equal(t, "unknown role", srv.watch(c, watchReq{SessionID: "abc", Role: "host"})["error"])
	assert.Equal(t, "Session not found", srv.watch(c, watchReq{SessionID: "missing", Role: "display"})["error"])
	assert.NotContains(t, srv.watch(c, watchReq{SessionID: "abc", Role: "presenter", Token: "s3cret"}), "error")
}

func TestHandleRecord(t *testing.T) {
	srv, shows, w := setup(t, "")
	display := newConn("d")
	srv.watch(display, watchReq{SessionID: "abc", Role: "display"})

	srv.HandleRecord("abc", &session.Session{ID: "abc", NrTeams: 2, CurrentFase: "13/02"}, false)
	st, _ := display.last("fase:state")
	assert.Equal(t, fase.Key("13/02"), st.(game.State).Fase)

	srv.HandleRecord("abc", nil, true)
	_, ok := display.last("show:ended")
	assert.True(t, ok)
	_, err := shows.Get("abc")
	assert.ErrorIs(t, err, game.ErrShowNotLoaded)

	srv.disconnect(display, "transport close")
	assert.Equal(t, 0, w.refs["abc"])
	assert.Empty(t, srv.conns("abc"))
}

func TestHeadingEditAndSave(t *testing.T) {
	srv, _, _ := setup(t, "")
	presenter, display := newConn("p"), newConn("d")
	srv.watch(presenter, watchReq{SessionID: "abc", Role: "presenter"})
	srv.watch(display, watchReq{SessionID: "abc", Role: "display"})

	ack := srv.editHeading(presenter, struct {
		Fase    string `json:"fase"`
		Heading string `json:"heading"`
		Image   string `json:"image"`
	}{"07/05", "Superfoods", "super.webp"})
	require.NotContains(t, ack, "error")
	assert.Equal(t, "Superfoods", ack["preview"].(fase.View).Heading)

	st, _ := presenter.last("fase:state")
	assert.True(t, st.(game.State).Dirty)
	st, _ = display.last("fase:state")
	assert.False(t, st.(game.State).Dirty)

	ack = srv.saveHeadings(presenter, game.SaveOptions{})
	assert.Equal(t, true, ack["ok"])
	assert.Nil(t, ack["session"])
	assert.NotContains(t, ack, "motherfile")

	ack = srv.saveHeadings(presenter, game.SaveOptions{UpdateMotherfile: true})
	assert.Equal(t, false, ack["ok"])
	assert.Equal(t, game.ErrNoMotherfile.Error(), ack["motherfile"])
}

func TestPlannerUpdate(t *testing.T) {
	store := &memSessions{recs: map[string]*session.Session{}}
	saved := make(chan string, 1)
	auto := planner.NewAutosaver(func(_ context.Context, owner, week string, _ []planner.Task) error {
		saved <- owner + "/" + week
		return nil
	}, 10*time.Millisecond)
	defer auto.Close()
	srv := New(game.NewShowManager(store, nil, nil), auto, "")
	c := newConn("c")

	type req = struct {
		OwnerID string         `json:"ownerId"`
		Week    string         `json:"week"`
		Tasks   []planner.Task `json:"tasks"`
	}
	assert.Contains(t, srv.plannerUpdate(c, req{Week: "2025-W10"}), "error")
	assert.Contains(t, srv.plannerUpdate(c, req{OwnerID: "u1", Week: "2025-10"}), "error")

	ack := srv.plannerUpdate(c, req{OwnerID: "u1", Week: "2025-W10", Tasks: []planner.Task{{ID: "t1", Title: "Bellen"}}})
	assert.Equal(t, true, ack["scheduled"])
	select {
	case got := <-saved:
		assert.Equal(t, "u1/2025-W10", got)
	case <-time.After(2 * time.Second):
		t.Fatal("autosave did not fire")
	}
}
