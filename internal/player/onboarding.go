// Package player runs the onboarding flow on a player's phone: pick a team,
// confirm the photo app, pick your own name. The device keeps the state and
// sends it back with every action, so a reload resumes at the same step.
package player

import (
	"errors"
	"fmt"
	"slices"

	"github.com/pinkmilk/starzzz/internal/session"
	"github.com/pinkmilk/starzzz/internal/team"
)

var (
	ErrWrongStep   = errors.New("action not allowed at this step")
	ErrUnknownTeam = errors.New("unknown team")
	ErrUnknownName = errors.New("name is not in this team")
	ErrBadAction   = errors.New("unknown action")
)

type Step string

const (
	StepTeam Step = "team"
	StepApp  Step = "app"
	StepName Step = "name"
	StepDone Step = "done"
)

type State struct {
	SessionID string `json:"sessionId"`
	Step      Step   `json:"step"`
	Team      int    `json:"team,omitempty"`
	Name      string `json:"name,omitempty"`
}

const (
	ActionChooseTeam = "chooseTeam"
	ActionConfirmApp = "confirmApp"
	ActionPickName   = "pickName"
	ActionChangeTeam = "changeTeam"
)

type Action struct {
	Type string `json:"type" binding:"required"`
	Team int    `json:"team,omitempty"`
	Name string `json:"name,omitempty"`
}

// Start is the state of a device that has not joined yet.
func Start(sess *session.Session) State {
	return State{SessionID: sess.ID, Step: StepTeam}
}

// Resume checks a stored state against the current session and rewinds to
// the first step that is no longer valid.
func Resume(st State, sess *session.Session) State {
	if st.SessionID != sess.ID {
		return Start(sess)
	}
	teams := sess.Teams()
	if _, ok := teams[st.Team]; !ok {
		return State{SessionID: sess.ID, Step: StepTeam}
	}
	switch st.Step {
	case StepApp:
		return State{SessionID: sess.ID, Step: StepApp, Team: st.Team}
	case StepName, StepDone:
		if st.Step == StepDone && slices.Contains(teams[st.Team], st.Name) {
			return st
		}
		return State{SessionID: sess.ID, Step: StepName, Team: st.Team}
	}
	return State{SessionID: sess.ID, Step: StepTeam}
}

// Apply runs one action against a resumed state.
func Apply(st State, a Action, sess *session.Session) (State, error) {
	st = Resume(st, sess)
	teams := sess.Teams()
	switch a.Type {
	case ActionChangeTeam:
		return State{SessionID: sess.ID, Step: StepTeam}, nil
	case ActionChooseTeam:
		if st.Step != StepTeam {
			return st, ErrWrongStep
		}
		if _, ok := teams[a.Team]; !ok {
			return st, fmt.Errorf("%w: %d", ErrUnknownTeam, a.Team)
		}
		return State{SessionID: sess.ID, Step: StepApp, Team: a.Team}, nil
	case ActionConfirmApp:
		if st.Step != StepApp {
			return st, ErrWrongStep
		}
		st.Step = StepName
		return st, nil
	case ActionPickName:
		if st.Step != StepName {
			return st, ErrWrongStep
		}
		if !slices.Contains(teams[st.Team], a.Name) {
			return st, fmt.Errorf("%w: %q", ErrUnknownName, a.Name)
		}
		st.Name = a.Name
		st.Step = StepDone
		return st, nil
	}
	return st, fmt.Errorf("%w: %q", ErrBadAction, a.Type)
}

// Screen is what the phone renders for a state.
type Screen struct {
	State       State    `json:"state"`
	Teams       []int    `json:"teams,omitempty"`
	Members     []string `json:"members,omitempty"`
	Photocircle string   `json:"photocircle,omitempty"`
}

func ScreenFor(st State, sess *session.Session) Screen {
	sc := Screen{State: st}
	switch st.Step {
	case StepTeam:
		for n := 1; n <= sess.NrTeams; n++ {
			sc.Teams = append(sc.Teams, n)
		}
	case StepApp:
		sc.Photocircle = sess.Photocircle
	case StepName, StepDone:
		sc.Members = team.Members(sess.Playernames, sess.NrTeams, st.Team)
	}
	return sc
}
