package httpapi

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/pinkmilk/starzzz/internal/planner"
)

// plannerWeek picks the week key from week or the legacy weekStart date.
func plannerWeek(week, weekStart string) (string, error) {
	if week == "" && weekStart != "" {
		return planner.KeyFromWeekStart(weekStart)
	}
	return week, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) loadPlanner(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	week, err := plannerWeek(c.Query("week"), c.Query("weekStart"))
	if err != nil {
		fail(c, err)
		return
	}
	owner := firstNonEmpty(c.Query("owner"), c.Query("ownerId"))
	b, err := s.Planner.Load(c.Request.Context(), owner, week)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, b)
}

func (s *Server) savePlanner(c *gin.Context) {
	var req struct {
		OwnerID   string          `json:"ownerId"`
		Week      string          `json:"week"`
		WeekStart string          `json:"weekStart"`
		Tasks     json.RawMessage `json:"tasks"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, badRequest(err))
		return
	}
	if req.OwnerID == "" {
		fail(c, planner.ErrMissingOwner)
		return
	}
	tasks, err := planner.DecodeTasks(req.Tasks)
	if err != nil {
		fail(c, err)
		return
	}
	week, err := plannerWeek(req.Week, req.WeekStart)
	if err != nil {
		fail(c, err)
		return
	}
	b, err := s.Planner.Save(c.Request.Context(), req.OwnerID, week, tasks)
	if err != nil {
		fail(c, err)
		return
	}
	if s.Autosave != nil {
		s.Autosave.MarkSaved(b.OwnerID, b.WeekKey, b.Tasks)
	}
	ok(c, b)
}

// placeTask is a server-side drop of one task into a day/slot.
func (s *Server) placeTask(c *gin.Context) {
	var req struct {
		OwnerID string `json:"ownerId"`
		Week    string `json:"week"`
		ID      string `json:"id" binding:"required"`
		Day     *int   `json:"day" binding:"required"`
		Slot    *int   `json:"slot" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, badRequest(err))
		return
	}
	b, err := s.Planner.Place(c.Request.Context(), req.OwnerID, req.Week, req.ID, *req.Day, *req.Slot)
	if err != nil {
		fail(c, err)
		return
	}
	if s.Autosave != nil {
		s.Autosave.MarkSaved(b.OwnerID, b.WeekKey, b.Tasks)
	}
	ok(c, b)
}
