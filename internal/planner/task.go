// Package planner stores the weekly task board: six working days of eight
// hourly slots per owner and ISO week, plus an unplaced tray.
package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	Days  = 6 // Monday to Saturday
	Slots = 8 // 09:00 to 17:00
)

var ErrInvalidTask = errors.New("invalid task")

// Task is one block on the board. Day and Slot are both nil for tray tasks.
type Task struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Day       *int   `json:"day"`
	Slot      *int   `json:"slot"`
	Completed bool   `json:"completed,omitempty"`
}

func (t Task) Placed() bool { return t.Day != nil && t.Slot != nil }

func (t Task) Empty() bool {
	return strings.TrimSpace(t.Title) == "" && strings.TrimSpace(t.Body) == ""
}

type cell struct{ day, slot int }

// Validate checks ranges, id uniqueness and that no two open tasks share a
// slot.
func Validate(tasks []Task) error {
	ids := make(map[string]bool, len(tasks))
	taken := map[cell]string{}
	for i, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("%w: task %d has no id", ErrInvalidTask, i)
		}
		if ids[t.ID] {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidTask, t.ID)
		}
		ids[t.ID] = true
		if (t.Day == nil) != (t.Slot == nil) {
			return fmt.Errorf("%w: %s needs both day and slot", ErrInvalidTask, t.ID)
		}
		if !t.Placed() {
			continue
		}
		if *t.Day < 0 || *t.Day >= Days || *t.Slot < 0 || *t.Slot >= Slots {
			return fmt.Errorf("%w: %s is outside the board", ErrInvalidTask, t.ID)
		}
		if t.Completed {
			continue
		}
		c := cell{*t.Day, *t.Slot}
		if other, ok := taken[c]; ok {
			return fmt.Errorf("%w: %s and %s share day %d slot %d", ErrInvalidTask, other, t.ID, c.day, c.slot)
		}
		taken[c] = t.ID
	}
	return nil
}

// Normalize gives id-less tasks a fresh id.
func Normalize(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		out[i] = t
	}
	return out
}

// NewTrayTask is the empty block the board keeps available for typing.
func NewTrayTask() Task { return Task{ID: uuid.NewString()} }

// EnsureTray adds one empty tray block unless there already is one or every
// slot is filled.
func EnsureTray(tasks []Task) []Task {
	open := 0
	for _, t := range tasks {
		if !t.Placed() && !t.Completed && t.Empty() {
			return tasks
		}
		if t.Placed() && !t.Completed {
			open++
		}
	}
	if open >= Days*Slots {
		return tasks
	}
	return append(tasks, NewTrayTask())
}

// Place moves task id into a slot. An open task already there is dropped.
func Place(tasks []Task, id string, day, slot int) ([]Task, error) {
	if day < 0 || day >= Days || slot < 0 || slot >= Slots {
		return nil, fmt.Errorf("%w: day %d slot %d is outside the board", ErrInvalidTask, day, slot)
	}
	out := make([]Task, 0, len(tasks))
	found := false
	for _, t := range tasks {
		if t.ID == id {
			t.Day, t.Slot = ptr(day), ptr(slot)
			found = true
		} else if t.Placed() && !t.Completed && *t.Day == day && *t.Slot == slot {
			continue
		}
		out = append(out, t)
	}
	if !found {
		return nil, fmt.Errorf("%w: no task %s", ErrInvalidTask, id)
	}
	return out, nil
}

// Rollover starts a new week: completed tasks are dropped, open placed tasks
// move to Monday keeping their slot and tray tasks stay. When two tasks land
// in the same Monday slot the later one goes back to the tray.
func Rollover(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	monday := map[int]bool{}
	for _, t := range tasks {
		if t.Completed {
			continue
		}
		if t.Placed() {
			if monday[*t.Slot] {
				t.Day, t.Slot = nil, nil
			} else {
				monday[*t.Slot] = true
				t.Day = ptr(0)
			}
		}
		out = append(out, t)
	}
	return EnsureTray(out)
}

func ptr(v int) *int { return &v }
