// Package httpapi serves the JSON routes of the show server. Every response
// uses the {success, data|error} envelope with status 200, 400 or 500.
package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pinkmilk/starzzz/internal/export"
	"github.com/pinkmilk/starzzz/internal/fase"
	"github.com/pinkmilk/starzzz/internal/game"
	"github.com/pinkmilk/starzzz/internal/motherfile"
	"github.com/pinkmilk/starzzz/internal/planner"
	"github.com/pinkmilk/starzzz/internal/player"
	"github.com/pinkmilk/starzzz/internal/pocketbase"
	"github.com/pinkmilk/starzzz/internal/session"
	"github.com/rs/zerolog/log"
)

var errBadRequest = errors.New("invalid request")

// Deps are the services behind the routes. Mother, Planner and Autosave may
// be nil in tests that do not touch them.
type Deps struct {
	Sessions *session.Repository
	Shows    *game.ShowManager
	Mother   *motherfile.Service
	File     *motherfile.FileStore
	Planner  *planner.Repository
	Autosave *planner.Autosaver

	// NewExport builds the upload target per request so that missing
	// configuration is reported to the caller instead of at startup.
	NewExport func() (export.Target, error)

	// Live tells which sessions have a running watcher. Shows without one
	// are re-read from the backend on every HTTP request. May be nil.
	Live Watching

	PocketBaseURL string
	Admin         pocketbase.Credentials
	PublicURL     string
}

type Watching interface {
	Watching(id string) int
}

type Server struct {
	Deps
}

func New(d Deps) *Server { return &Server{Deps: d} }

// Register mounts /health and the /api routes.
func (s *Server) Register(r gin.IRouter) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	api := r.Group("/api")
	api.GET("/fases", s.fases)

	api.GET("/motherfile", s.readMotherfile)
	api.PUT("/motherfile", s.writeMotherfile("Motherfile updated"))
	api.POST("/update-master-template", s.writeMotherfile("Master template updated in local assets folder"))

	api.GET("/pb-motherfile", s.getPBMotherfile)
	api.PUT("/pb-motherfile", s.putPBMotherfile)
	api.POST("/pb-motherfile", s.uploadPBMotherfile)
	api.POST("/save-to-isp", s.saveToISP)
	api.GET("/pb-auth-test", s.authTest)

	api.GET("/weekplanner", s.loadPlanner)
	api.POST("/weekplanner", s.savePlanner)
	api.PUT("/weekplanner", s.savePlanner)
	api.POST("/weekplanner/place", s.placeTask)

	sessions := api.Group("/sessions")
	sessions.GET("", s.listSessions)
	sessions.POST("", s.createSession)
	sessions.GET("/stats", s.sessionStats)
	sessions.GET("/latest", s.latestSession)
	sessions.GET("/:id", s.getSession)
	sessions.DELETE("/:id", s.deleteSession)
	sessions.GET("/:id/teams", s.sessionTeams)
	sessions.GET("/:id/view", s.sessionView)
	sessions.POST("/:id/fase", s.sessionFase)
	sessions.PUT("/:id/headings", s.sessionHeadings)
	sessions.POST("/:id/player", s.playerStep)
	sessions.GET("/:id/qr.png", s.joinQR)
}

// Pages serves the front-end for every route the API does not know.
// Presenter pages sit behind basic auth when accounts are given.
func Pages(r *gin.Engine, spa http.Handler, accounts gin.Accounts) {
	serve := func(c *gin.Context) { spa.ServeHTTP(c.Writer, c.Request) }
	if len(accounts) > 0 {
		auth := gin.BasicAuth(accounts)
		for _, p := range []string{"/presenter", "/sessions", "/motherfile", "/weekplanner"} {
			r.GET(p, auth, serve)
			r.GET(p+"/*any", auth, serve)
		}
	}
	r.NoRoute(serve)
}

// Logger logs every request except the socket.io transport.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		log.Info().Str("method", c.Request.Method).Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
	}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

func statusOf(err error) int {
	for _, target := range []error{
		errBadRequest,
		session.ErrInvalidInput,
		session.ErrSessionNotFound,
		fase.ErrMalformedHeadings,
		fase.ErrUnknownGroup,
		game.ErrUnknownFase,
		planner.ErrInvalidTask,
		planner.ErrInvalidWeek,
		planner.ErrMissingOwner,
		export.ErrInvalidName,
		motherfile.ErrNoFiles,
		player.ErrWrongStep,
		player.ErrUnknownTeam,
		player.ErrUnknownName,
		player.ErrBadAction,
	} {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := statusOf(err)
	body := gin.H{"success": false, "error": err.Error()}
	var missing *export.MissingConfigError
	if errors.As(err, &missing) {
		body["missing"] = missing.Keys
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, body)
}
