package httpapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pinkmilk/starzzz/internal/export"
	"github.com/pinkmilk/starzzz/internal/game"
	"github.com/pinkmilk/starzzz/internal/motherfile"
	"github.com/pinkmilk/starzzz/internal/planner"
	"github.com/pinkmilk/starzzz/internal/pocketbase"
	"github.com/pinkmilk/starzzz/internal/pocketbase/pbtest"
	"github.com/pinkmilk/starzzz/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	pb  *pbtest.Server
	api *Server
	r   *gin.Engine
	dir string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	pbs := pbtest.New()
	t.Cleanup(pbs.Close)
	pbs.AddCollection(session.Collection, planner.Collection, "motherfile")

	pb := pocketbase.New(pbs.URL)
	mother, err := motherfile.New(motherfile.Config{Client: pb})
	require.NoError(t, err)
	sessions := session.NewRepository(pb, nil, session.WithHeadingSource(mother))
	shows := game.NewShowManager(sessions, mother, nil)
	t.Cleanup(shows.Wait)

	dir := t.TempDir()
	api := New(Deps{
		Sessions: sessions,
		Shows:    shows,
		Mother:   mother,
		File:     &motherfile.FileStore{Path: filepath.Join(dir, "assets", "fases.json")},
		Planner:  planner.NewRepository(pb, nil),
		NewExport: func() (export.Target, error) {
			return export.FileTarget{Dir: filepath.Join(dir, "isp")}, nil
		},
		PocketBaseURL: pbs.URL,
		Admin:         pocketbase.Credentials{Token: pbs.Token},
		PublicURL:     "https://show.example.nl/",
	})
	r := gin.New()
	api.Register(r)
	return &env{pb: pbs, api: api, r: r, dir: dir}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Missing []string        `json:"missing"`
	Meta    map[string]any  `json:"meta"`
}

func (e *env) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	var out envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (e *env) createSession(t *testing.T) session.Session {
	t.Helper()
	code, out := e.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"showname":    "Bedrijfsuitje",
		"city":        "Utrecht",
		"photocircle": "https://join.photocircleapp.com/abc",
		"nr_teams":    2,
		"playernames": "Anna, Bram, Cas",
	})
	require.Equal(t, http.StatusOK, code, out.Error)
	return decode[session.Session](t, out.Data)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":true`)
}

func TestSessionLifecycle(t *testing.T) {
	e := newEnv(t)

	code, out := e.do(t, http.MethodGet, "/api/sessions/latest", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "null", string(out.Data))

	sess := e.createSession(t)
	assert.Equal(t, 3, sess.NrPlayers)
	assert.Equal(t, "01/01", string(sess.CurrentFase))

	code, out = e.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/teams", nil)
	require.Equal(t, http.StatusOK, code)
	teams := decode[struct {
		NrTeams int                 `json:"nrTeams"`
		Teams   map[string][]string `json:"teams"`
	}](t, out.Data)
	assert.Equal(t, 2, teams.NrTeams)
	assert.Len(t, teams.Teams["1"], 2)
	assert.Len(t, teams.Teams["2"], 1)

	code, out = e.do(t, http.MethodGet, "/api/sessions?q=utrecht", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]session.Session](t, out.Data), 1)

	code, out = e.do(t, http.MethodGet, "/api/sessions/stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, session.Stats{TotalSessions: 1, TotalPlayers: 3, TotalTeams: 2, UniqueCities: 1}, decode[session.Stats](t, out.Data))

	code, _ = e.do(t, http.MethodDelete, "/api/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusOK, code)
	code, out = e.do(t, http.MethodGet, "/api/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, out.Success)
}

func TestCreateSessionValidation(t *testing.T) {
	e := newEnv(t)
	code, out := e.do(t, http.MethodPost, "/api/sessions", map[string]any{"city": "Utrecht"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)

	code, _ = e.do(t, http.MethodPost, "/api/sessions", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestFaseNavigation(t *testing.T) {
	e := newEnv(t)
	sess := e.createSession(t)
	path := "/api/sessions/" + sess.ID + "/fase"

	code, out := e.do(t, http.MethodPost, path, map[string]string{"direction": "next"})
	require.Equal(t, http.StatusOK, code, out.Error)
	assert.Equal(t, "01/02", string(decode[game.State](t, out.Data).Fase))

	code, out = e.do(t, http.MethodPost, path, map[string]string{"group": "20"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "20/01", string(decode[game.State](t, out.Data).Fase))

	code, out = e.do(t, http.MethodPost, path, map[string]string{"direction": "next"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "20/01", string(decode[game.State](t, out.Data).Fase), "single-member group is clamped")

	code, _ = e.do(t, http.MethodPost, path, map[string]string{"direction": "sideways"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodPost, path, map[string]string{"group": "99"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodPost, path, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	e.api.Shows.Wait()
	assert.Equal(t, "20/01", e.pb.Record(session.Collection, sess.ID)["current_fase"])
}

type watchedSessions map[string]int

func (w watchedSessions) Watching(id string) int { return w[id] }

func TestViewFollowsBackendChanges(t *testing.T) {
	e := newEnv(t)
	sess := e.createSession(t)
	view := "/api/sessions/" + sess.ID + "/view"
	setFase := func(key string) {
		rec := e.pb.Record(session.Collection, sess.ID)
		rec["current_fase"] = key
		e.pb.Put(session.Collection, rec)
	}

	code, out := e.do(t, http.MethodGet, view, nil)
	require.Equal(t, http.StatusOK, code, out.Error)
	assert.Equal(t, "01/01", string(decode[game.State](t, out.Data).Fase))

	setFase("07/05")
	code, out = e.do(t, http.MethodGet, view, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "07/05", string(decode[game.State](t, out.Data).Fase))

	setFase("07/07")
	code, out = e.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/fase", map[string]string{"direction": "next"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "07/08", string(decode[game.State](t, out.Data).Fase), "steps from the stored fase")
	e.api.Shows.Wait()
	assert.Equal(t, "07/08", e.pb.Record(session.Collection, sess.ID)["current_fase"])

	// a watcher keeps the show current, no extra reads
	e.api.Live = watchedSessions{sess.ID: 1}
	setFase("10/01")
	code, out = e.do(t, http.MethodGet, view, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "07/08", string(decode[game.State](t, out.Data).Fase))
}

func TestHeadingsAndView(t *testing.T) {
	e := newEnv(t)
	sess := e.createSession(t)

	code, out := e.do(t, http.MethodPut, "/api/sessions/"+sess.ID+"/headings", map[string]any{
		"headings": map[string]any{
			"07/05": map[string]string{"heading": "Superfoods/nIk zweer erbij", "image": "RankingKreet.mp4"},
		},
		"updateMotherfile": true,
	})
	require.Equal(t, http.StatusOK, code, out.Error)
	res := decode[map[string]any](t, out.Data)
	assert.Equal(t, "saved", res["session"])
	assert.Equal(t, "saved", res["motherfile"])

	code, out = e.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/view?fase=07/05", nil)
	require.Equal(t, http.StatusOK, code)
	view := decode[struct {
		Lines []string `json:"lines"`
		Media struct {
			Kind string `json:"kind"`
		} `json:"media"`
	}](t, out.Data)
	assert.Equal(t, []string{"Superfoods", "Ik zweer erbij"}, view.Lines)
	assert.Equal(t, "video", view.Media.Kind)

	code, _ = e.do(t, http.MethodPut, "/api/sessions/"+sess.ID+"/headings", map[string]any{
		"headings": map[string]any{"7/5": map[string]string{"heading": "x"}},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodPut, "/api/sessions/"+sess.ID+"/headings", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/view?fase=nope", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPlayerOnboarding(t *testing.T) {
	e := newEnv(t)
	sess := e.createSession(t)
	path := "/api/sessions/" + sess.ID + "/player"

	code, out := e.do(t, http.MethodPost, path, map[string]any{
		"state":  map[string]any{"sessionId": sess.ID, "step": "team"},
		"action": map[string]any{"type": "chooseTeam", "team": 2},
	})
	require.Equal(t, http.StatusOK, code, out.Error)
	screen := decode[map[string]any](t, out.Data)
	assert.Equal(t, sess.Photocircle, screen["photocircle"])

	code, _ = e.do(t, http.MethodPost, path, map[string]any{
		"state":  map[string]any{"sessionId": sess.ID, "step": "team"},
		"action": map[string]any{"type": "chooseTeam", "team": 5},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodPost, path, map[string]any{"action": map[string]any{"team": 1}})
	assert.Equal(t, http.StatusBadRequest, code, "action type is required")
}

func TestJoinQR(t *testing.T) {
	e := newEnv(t)
	sess := e.createSession(t)
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID+"/qr.png", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
}

func TestWeekplanner(t *testing.T) {
	e := newEnv(t)

	code, out := e.do(t, http.MethodPost, "/api/weekplanner", map[string]any{"tasks": []any{}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, out.Error, "ownerId")

	code, _ = e.do(t, http.MethodPost, "/api/weekplanner", map[string]any{"ownerId": "u1", "tasks": "nope"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = e.do(t, http.MethodPut, "/api/weekplanner", map[string]any{
		"ownerId": "u1",
		"week":    "2025-W10",
		"tasks":   []map[string]any{{"id": "t1", "title": "Bellen", "day": 0, "slot": 3}},
	})
	require.Equal(t, http.StatusOK, code, out.Error)

	code, out = e.do(t, http.MethodGet, "/api/weekplanner?owner=u1&weekStart=2025-03-03", nil)
	require.Equal(t, http.StatusOK, code, out.Error)
	b := decode[planner.Board](t, out.Data)
	assert.Equal(t, "2025-W10", b.WeekKey)
	require.Len(t, b.Tasks, 1)
	assert.Equal(t, "Bellen", b.Tasks[0].Title)

	code, _ = e.do(t, http.MethodGet, "/api/weekplanner", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = e.do(t, http.MethodPost, "/api/weekplanner/place", map[string]any{
		"ownerId": "u1", "week": "2025-W10", "id": "t1", "day": 4, "slot": 0,
	})
	require.Equal(t, http.StatusOK, code, out.Error)
	b = decode[planner.Board](t, out.Data)
	require.NotEmpty(t, b.Tasks)
	assert.Equal(t, 4, *b.Tasks[0].Day)

	code, _ = e.do(t, http.MethodPost, "/api/weekplanner/place", map[string]any{
		"ownerId": "u1", "week": "2025-W10", "id": "t1", "day": 9, "slot": 0,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodPost, "/api/weekplanner/place", map[string]any{"ownerId": "u1", "id": "t1"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLocalMotherfile(t *testing.T) {
	e := newEnv(t)

	code, out := e.do(t, http.MethodGet, "/api/motherfile", nil)
	require.Equal(t, http.StatusOK, code, out.Error)
	assert.Equal(t, "{}", string(out.Data))

	code, out = e.do(t, http.MethodPut, "/api/motherfile", map[string]any{"01/01": map[string]string{"heading": "Intro"}})
	require.Equal(t, http.StatusOK, code, out.Error)
	_, err := os.Stat(e.api.File.Path)
	assert.NoError(t, err)

	code, _ = e.do(t, http.MethodPost, "/api/update-master-template", map[string]any{"01/01": map[string]string{"title": "Intro"}})
	assert.Equal(t, http.StatusBadRequest, code)

	e.api.File.Serverless = true
	code, out = e.do(t, http.MethodPut, "/api/motherfile", map[string]any{"01/02": map[string]string{"heading": "Welkom"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, motherfile.ServerlessNotice, out.Message)
	assert.Contains(t, string(out.Data), "Welkom")
}

func TestHostedMotherfile(t *testing.T) {
	e := newEnv(t)

	code, out := e.do(t, http.MethodPut, "/api/pb-motherfile", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, out.Error, "missing fases")

	code, out = e.do(t, http.MethodPut, "/api/pb-motherfile", map[string]any{
		"fases": map[string]any{"04/01": map[string]string{"heading": "Guilty", "image": "band.webp"}},
	})
	require.Equal(t, http.StatusOK, code, out.Error)
	assert.Equal(t, "motherfile", out.Meta["collection"])

	code, out = e.do(t, http.MethodGet, "/api/pb-motherfile", nil)
	require.Equal(t, http.StatusOK, code)
	rec := decode[motherfile.Record](t, out.Data)
	assert.Equal(t, "band.webp", rec.Fases["04/01"].Image)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("media", "intro.mp4")
	require.NoError(t, err)
	_, _ = part.Write([]byte("fake video"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/pb-motherfile", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "intro.mp4")
}

func TestSaveToISP(t *testing.T) {
	e := newEnv(t)

	code, out := e.do(t, http.MethodPost, "/api/save-to-isp", map[string]any{
		"data":     map[string]any{"01/01": map[string]string{"heading": "Intro"}},
		"filename": "show.json",
	})
	require.Equal(t, http.StatusOK, code, out.Error)
	b, err := os.ReadFile(filepath.Join(e.dir, "isp", "show.json"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "\n  \"01/01\"")

	code, _ = e.do(t, http.MethodPost, "/api/save-to-isp", map[string]any{"a": 1})
	assert.Equal(t, http.StatusOK, code)
	_, err = os.Stat(filepath.Join(e.dir, "isp", export.DefaultName))
	assert.NoError(t, err)

	code, _ = e.do(t, http.MethodPost, "/api/save-to-isp", "[1,2]")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodPost, "/api/save-to-isp", map[string]any{"data": map[string]any{}, "filename": "../x.json"})
	assert.Equal(t, http.StatusBadRequest, code)

	e.api.NewExport = func() (export.Target, error) {
		return export.NewFTPTarget(export.FTPConfig{Host: "ftp.example.nl"})
	}
	code, out = e.do(t, http.MethodPost, "/api/save-to-isp", map[string]any{"data": map[string]any{}})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, []string{"FTP_USER", "FTP_PASS", "FTP_REMOTE_DIR"}, out.Missing)
	assert.Contains(t, out.Error, "missing configuration")
}

func TestAuthTest(t *testing.T) {
	e := newEnv(t)

	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pb-auth-test", nil))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"mode":"token"`)

	e.api.Admin = pocketbase.Credentials{Email: e.pb.AdminEmail, Password: "wrong"}
	w = httptest.NewRecorder()
	e.r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pb-auth-test", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "password_auth_failed")

	e.api.Admin = pocketbase.Credentials{}
	w = httptest.NewRecorder()
	e.r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pb-auth-test", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "no_credentials")
}

func TestPagesBasicAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	spa := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("index")) })
	Pages(r, spa, gin.Accounts{"gm": "pw"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/presenter/abc", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/presenter/abc", nil)
	req.SetBasicAuth("gm", "pw")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "index", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/display/abc", nil))
	assert.Equal(t, "index", w.Body.String())
}
