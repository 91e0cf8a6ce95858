package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/google/uuid"
	"github.com/pinkmilk/starzzz/internal/fase"
	"github.com/pinkmilk/starzzz/internal/game"
	"github.com/pinkmilk/starzzz/internal/planner"
	"github.com/pinkmilk/starzzz/internal/session"
	"github.com/rs/zerolog/log"
)

const openTimeout = 10 * time.Second

type ConnCtx struct {
	ClientID  string
	SessionID string
	Role      game.Role
}

// Watcher follows a session on the backend while someone is looking at it.
type Watcher interface {
	Watch(id string)
	Release(id string)
}

type Server struct {
	shows          *game.ShowManager
	autosave       *planner.Autosaver
	watcher        Watcher
	presenterToken string

	mu      sync.Mutex
	members map[string]map[string]socketio.Conn // sessionID -> socketID -> Conn
}

func New(shows *game.ShowManager, autosave *planner.Autosaver, presenterToken string) *Server {
	srv := &Server{
		shows:          shows,
		autosave:       autosave,
		presenterToken: presenterToken,
		members:        make(map[string]map[string]socketio.Conn),
	}
	shows.OnChange(srv.emitState)
	return srv
}

func (srv *Server) SetWatcher(w Watcher) { srv.watcher = w }

// HandleRecord takes records observed by the backend watcher.
func (srv *Server) HandleRecord(id string, rec *session.Session, deleted bool) {
	if deleted {
		srv.shows.Forget(id)
		srv.emitTo(id, "show:ended", map[string]any{"sessionId": id})
		log.Info().Str("session", id).Msg("session deleted")
		return
	}
	srv.shows.Apply(rec)
}

// Mount attaches the Socket.IO server to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{ClientID: uuid.NewString()})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	io.OnEvent("/", "show:watch", srv.watch)
	io.OnEvent("/", "fase:advance", srv.advance)
	io.OnEvent("/", "fase:jump", srv.jump)
	io.OnEvent("/", "fase:set", srv.setFase)
	io.OnEvent("/", "heading:edit", srv.editHeading)
	io.OnEvent("/", "heading:save", srv.saveHeadings)
	io.OnEvent("/", "planner:update", srv.plannerUpdate)

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", srv.disconnect)

	go func() {
		if err := io.Serve(); err != nil {
			log.Error().Err(err).Msg("socket.io server stopped")
		}
	}()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	// Basic CORS preflight for Socket.IO POST
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

type watchReq struct {
	SessionID string `json:"sessionId"`
	Role      string `json:"role"`
	Token     string `json:"token"`
}

func (srv *Server) watch(s socketio.Conn, req watchReq) map[string]any {
	role := game.Role(req.Role)
	if !role.Valid() {
		return srv.err(s, "bad_request", "unknown role")
	}
	if role == game.RolePresenter && srv.presenterToken != "" && req.Token != srv.presenterToken {
		return srv.err(s, "unauthorized", "invalid presenter token")
	}
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	show, err := srv.shows.Open(ctx, req.SessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return srv.err(s, "session_not_found", "Session not found")
	}
	if err != nil {
		log.Error().Err(err).Str("session", req.SessionID).Msg("failed to open show")
		return srv.err(s, "unavailable", "Session could not be loaded")
	}

	cc := connCtx(s)
	if cc.SessionID != "" && cc.SessionID != req.SessionID {
		srv.leave(s, cc.SessionID)
	}
	if cc.SessionID != req.SessionID {
		s.Join(req.SessionID)
		srv.addMember(req.SessionID, s)
		if srv.watcher != nil {
			srv.watcher.Watch(req.SessionID)
		}
	}
	cc.SessionID = req.SessionID
	cc.Role = role
	log.Info().Str("sid", s.ID()).Str("session", req.SessionID).Str("role", req.Role).Msg("show:watch")

	st := show.State()
	s.Emit("fase:state", st)
	return map[string]any{"clientId": cc.ClientID, "state": st}
}

// presenterShow returns the show of a presenter connection.
func (srv *Server) presenterShow(s socketio.Conn) (*game.Show, map[string]any) {
	cc := connCtx(s)
	if cc.SessionID == "" {
		return nil, srv.err(s, "bad_request", "watch a show first")
	}
	if cc.Role != game.RolePresenter {
		return nil, srv.err(s, "unauthorized", "presenter only")
	}
	show, err := srv.shows.Get(cc.SessionID)
	if err != nil {
		return nil, srv.err(s, "session_not_found", "Session not found")
	}
	return show, nil
}

func (srv *Server) advance(s socketio.Conn, req struct {
	Direction string `json:"direction"`
}) map[string]any {
	show, fail := srv.presenterShow(s)
	if fail != nil {
		return fail
	}
	dir, err := fase.ParseDirection(req.Direction)
	if err != nil {
		return srv.err(s, "bad_request", err.Error())
	}
	key := show.Advance(dir)
	log.Info().Str("session", show.ID()).Str("fase", string(key)).Msg("fase:advance")
	return map[string]any{"fase": key}
}

func (srv *Server) jump(s socketio.Conn, req struct {
	Group string `json:"group"`
}) map[string]any {
	show, fail := srv.presenterShow(s)
	if fail != nil {
		return fail
	}
	key, err := show.JumpToGroup(req.Group)
	if err != nil {
		return srv.err(s, "bad_request", err.Error())
	}
	log.Info().Str("session", show.ID()).Str("fase", string(key)).Msg("fase:jump")
	return map[string]any{"fase": key}
}

func (srv *Server) setFase(s socketio.Conn, req struct {
	Fase string `json:"fase"`
}) map[string]any {
	show, fail := srv.presenterShow(s)
	if fail != nil {
		return fail
	}
	if err := show.SetFase(fase.Key(req.Fase)); err != nil {
		return srv.err(s, "bad_request", err.Error())
	}
	return map[string]any{"fase": show.Current()}
}

func (srv *Server) editHeading(s socketio.Conn, req struct {
	Fase    string `json:"fase"`
	Heading string `json:"heading"`
	Image   string `json:"image"`
}) map[string]any {
	show, fail := srv.presenterShow(s)
	if fail != nil {
		return fail
	}
	key := fase.Key(req.Fase)
	if err := show.EditHeading(key, req.Heading, req.Image); err != nil {
		return srv.err(s, "bad_request", err.Error())
	}
	return map[string]any{"preview": show.ViewOf(key, true)}
}

func (srv *Server) saveHeadings(s socketio.Conn, req game.SaveOptions) map[string]any {
	show, fail := srv.presenterShow(s)
	if fail != nil {
		return fail
	}
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	res := show.Save(ctx, req)
	out := map[string]any{"ok": res.OK(), "session": errText(res.SessionErr)}
	if res.Motherfile {
		out["motherfile"] = errText(res.MotherfileErr)
	}
	return out
}

func (srv *Server) plannerUpdate(s socketio.Conn, req struct {
	OwnerID string         `json:"ownerId"`
	Week    string         `json:"week"`
	Tasks   []planner.Task `json:"tasks"`
}) map[string]any {
	if srv.autosave == nil {
		return srv.err(s, "unavailable", "planner not configured")
	}
	if req.OwnerID == "" {
		return srv.err(s, "bad_request", planner.ErrMissingOwner.Error())
	}
	week, err := planner.ParseWeekKey(req.Week)
	if err != nil {
		return srv.err(s, "bad_request", err.Error())
	}
	if err := planner.Validate(req.Tasks); err != nil {
		return srv.err(s, "bad_request", err.Error())
	}
	return map[string]any{"scheduled": srv.autosave.Schedule(req.OwnerID, week, req.Tasks)}
}

func (srv *Server) disconnect(s socketio.Conn, reason string) {
	if cc, ok := s.Context().(*ConnCtx); ok && cc.SessionID != "" {
		srv.leave(s, cc.SessionID)
	}
	log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
}

func (srv *Server) leave(s socketio.Conn, id string) {
	s.Leave(id)
	srv.removeMember(id, s)
	if srv.watcher != nil {
		srv.watcher.Release(id)
	}
}

func (srv *Server) addMember(id string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.members[id] == nil {
		srv.members[id] = make(map[string]socketio.Conn)
	}
	srv.members[id][c.ID()] = c
}

func (srv *Server) removeMember(id string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if m := srv.members[id]; m != nil {
		delete(m, c.ID())
		if len(m) == 0 {
			delete(srv.members, id)
		}
	}
}

func (srv *Server) conns(id string) []socketio.Conn {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]socketio.Conn, 0, len(srv.members[id]))
	for _, c := range srv.members[id] {
		out = append(out, c)
	}
	return out
}

func (srv *Server) emitTo(id, event string, payload any) {
	for _, c := range srv.conns(id) {
		c.Emit(event, payload)
	}
}

// emitState pushes the show state to every member of its room. Presenters
// also get the dirty flag of the heading editor; other roles never see
// unsaved edits anyway.
func (srv *Server) emitState(show *game.Show) {
	st := show.State()
	for _, c := range srv.conns(st.SessionID) {
		out := st
		if cc, ok := c.Context().(*ConnCtx); !ok || cc.Role != game.RolePresenter {
			out.Dirty = false
		}
		c.Emit("fase:state", out)
	}
}

func (srv *Server) err(s socketio.Conn, code, message string) map[string]any {
	s.Emit("error", map[string]any{"code": code, "message": message})
	return map[string]any{"error": message}
}

func connCtx(s socketio.Conn) *ConnCtx {
	if cc, ok := s.Context().(*ConnCtx); ok {
		return cc
	}
	cc := &ConnCtx{ClientID: uuid.NewString()}
	s.SetContext(cc)
	return cc
}

func errText(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}
