package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pinkmilk/starzzz/internal/fase"
	"github.com/pinkmilk/starzzz/internal/game"
	"github.com/pinkmilk/starzzz/internal/player"
	"github.com/pinkmilk/starzzz/internal/session"
	"github.com/pinkmilk/starzzz/internal/team"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

func (s *Server) listSessions(c *gin.Context) {
	list, err := s.Sessions.List(c.Request.Context(), c.Query("q"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, list)
}

func (s *Server) createSession(c *gin.Context) {
	var in session.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, badRequest(err))
		return
	}
	sess, err := s.Sessions.Create(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, sess)
}

func (s *Server) sessionStats(c *gin.Context) {
	list, err := s.Sessions.List(c.Request.Context(), "")
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, session.ComputeStats(list))
}

// latestSession answers data: null when there are no sessions yet.
func (s *Server) latestSession(c *gin.Context) {
	sess, err := s.Sessions.Latest(c.Request.Context())
	if errors.Is(err, session.ErrSessionNotFound) {
		ok(c, nil)
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, sess)
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, sess)
}

func (s *Server) deleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.Sessions.Delete(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	s.Shows.Forget(id)
	ok(c, gin.H{"id": id})
}

func (s *Server) sessionTeams(c *gin.Context) {
	sess, err := s.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"nrTeams":   sess.NrTeams,
		"nrPlayers": sess.NrPlayers,
		"teams":     sess.Teams(),
		"players":   team.Names(sess.Playernames),
	})
}

// currentShow returns the show for id with the stored record applied, so
// pollers follow changes made on the backend. A watched show is kept
// current by its watcher.
func (s *Server) currentShow(ctx context.Context, id string) (*game.Show, error) {
	show, err := s.Shows.Get(id)
	if err != nil {
		return s.Shows.Reload(ctx, id)
	}
	if s.Live != nil && s.Live.Watching(id) > 0 {
		return show, nil
	}
	rec, err := s.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	show, _ = s.Shows.Apply(rec)
	return show, nil
}

// sessionView is what a display renders; ?fase= previews another fase with
// the saved headings.
func (s *Server) sessionView(c *gin.Context) {
	show, err := s.currentShow(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if k := c.Query("fase"); k != "" {
		key, _, _, err := fase.ParseKey(k)
		if err != nil {
			fail(c, badRequest(err))
			return
		}
		ok(c, show.ViewOf(key, false))
		return
	}
	ok(c, show.State())
}

type faseReq struct {
	Direction string `json:"direction"`
	Group     string `json:"group"`
	Fase      string `json:"fase"`
}

func (s *Server) sessionFase(c *gin.Context) {
	var req faseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, badRequest(err))
		return
	}
	show, err := s.currentShow(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	switch {
	case req.Direction != "":
		dir, err := fase.ParseDirection(req.Direction)
		if err != nil {
			fail(c, badRequest(err))
			return
		}
		show.Advance(dir)
	case req.Group != "":
		if _, err := show.JumpToGroup(req.Group); err != nil {
			fail(c, err)
			return
		}
	case req.Fase != "":
		if err := show.SetFase(fase.Key(req.Fase)); err != nil {
			fail(c, err)
			return
		}
	default:
		fail(c, badRequest(errors.New("one of direction, group or fase is required")))
		return
	}
	ok(c, show.State())
}

func (s *Server) sessionHeadings(c *gin.Context) {
	var req struct {
		Headings         json.RawMessage `json:"headings"`
		UpdateMotherfile bool            `json:"updateMotherfile"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, badRequest(err))
		return
	}
	if len(req.Headings) == 0 {
		fail(c, badRequest(errors.New("missing headings payload")))
		return
	}
	h, err := fase.DecodeHeadings(req.Headings)
	if err != nil {
		fail(c, err)
		return
	}
	show, err := s.currentShow(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := show.ReplaceHeadings(h); err != nil {
		fail(c, err)
		return
	}
	res := show.Save(c.Request.Context(), game.SaveOptions{UpdateMotherfile: req.UpdateMotherfile})
	if res.SessionErr != nil {
		fail(c, res.SessionErr)
		return
	}
	out := gin.H{"state": show.State(), "session": "saved"}
	if res.Motherfile {
		out["motherfile"] = "saved"
		if res.MotherfileErr != nil {
			out["motherfile"] = res.MotherfileErr.Error()
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": out})
}

// playerStep resumes the device's onboarding state and applies an optional
// action.
func (s *Server) playerStep(c *gin.Context) {
	var req struct {
		State  player.State   `json:"state"`
		Action *player.Action `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, badRequest(err))
		return
	}
	sess, err := s.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	st := player.Resume(req.State, sess)
	if req.Action != nil {
		if st, err = player.Apply(st, *req.Action, sess); err != nil {
			fail(c, err)
			return
		}
	}
	ok(c, player.ScreenFor(st, sess))
}

// joinQR renders the player join link of a session.
func (s *Server) joinQR(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.Sessions.Get(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	png, err := qrcode.Encode(s.joinURL(c, id), qrcode.Medium, qrSize)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) joinURL(c *gin.Context, id string) string {
	base := strings.TrimRight(s.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + "/player/" + id
}
