package game

import (
	"context"
	"time"

	"github.com/pinkmilk/starzzz/internal/fase"
	"github.com/pinkmilk/starzzz/internal/motherfile"
	"github.com/pinkmilk/starzzz/internal/session"
)

type Role string

const (
	RolePresenter Role = "presenter"
	RoleDisplay   Role = "display"
	RolePlayer    Role = "player"
)

func (r Role) Valid() bool {
	switch r {
	case RolePresenter, RoleDisplay, RolePlayer:
		return true
	}
	return false
}

// State is the broadcast snapshot of one show.
type State struct {
	SessionID string    `json:"sessionId"`
	Showname  string    `json:"showname"`
	City      string    `json:"city"`
	NrTeams   int       `json:"nrTeams"`
	Fase      fase.Key  `json:"fase"`
	Group     string    `json:"group"`
	View      fase.View `json:"view"`
	Dirty     bool      `json:"dirty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type SaveOptions struct {
	UpdateMotherfile bool `json:"updateMotherfile"`
}

// SaveResult reports the session write and the optional motherfile write
// separately; one can fail while the other succeeds.
type SaveResult struct {
	SessionErr    error
	MotherfileErr error
	Motherfile    bool
}

func (r SaveResult) OK() bool { return r.SessionErr == nil && r.MotherfileErr == nil }

// SessionStore is the part of the session repository a show needs.
type SessionStore interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	SetFase(ctx context.Context, id string, key fase.Key) error
	SaveHeadings(ctx context.Context, id string, h fase.Headings) (*session.Session, error)
}

// MotherStore is the part of the motherfile service a show needs.
type MotherStore interface {
	Fases(ctx context.Context) (fase.Headings, error)
	UpdateFases(ctx context.Context, h fase.Headings) (*motherfile.Record, motherfile.Location, error)
	MediaURL(name string) string
}
