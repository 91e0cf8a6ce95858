package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pinkmilk/starzzz/internal/pocketbase"
)

var ErrMissingOwner = errors.New("missing ownerId")

// Collection holds one record per owner.
const Collection = "weekplanner"

type WeekMeta struct {
	Timezone string `json:"timezone"`
	WeekKey  string `json:"weekKey"`
}

type Week struct {
	Meta  WeekMeta `json:"meta"`
	Tasks []Task   `json:"tasks"`
}

// Data is the record's data field. Tasks mirrors the current week for
// readers that predate Weeks.
type Data struct {
	Tasks []Task          `json:"tasks,omitempty"`
	Weeks map[string]Week `json:"weeks,omitempty"`
}

type record struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Data    *Data  `json:"data"`
}

// Board is what an owner sees for one week. ID is empty until the owner has
// saved once.
type Board struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	WeekKey string `json:"weekKey"`
	Tasks   []Task `json:"tasks"`
}

type Repository struct {
	pb  *pocketbase.Client
	loc *time.Location
	now func() time.Time
}

// NewRepository decides the current week in loc (Europe/Amsterdam when nil).
func NewRepository(pb *pocketbase.Client, loc *time.Location) *Repository {
	if loc == nil {
		var err error
		if loc, err = time.LoadLocation(DefaultTimezone); err != nil {
			loc = time.UTC
		}
	}
	return &Repository{pb: pb, loc: loc, now: time.Now}
}

// CurrentWeek is the week key of now.
func (r *Repository) CurrentWeek() string { return WeekKey(r.now(), r.loc) }

func (r *Repository) find(ctx context.Context, owner string) (*record, error) {
	var rec record
	err := r.pb.FirstListItem(ctx, Collection, "ownerId = "+pocketbase.Quote(owner), &rec)
	if pocketbase.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Data == nil {
		rec.Data = &Data{}
	}
	return &rec, nil
}

// Load returns the owner's tasks for week ("" = current week). An unsaved
// current week starts as the rollover of the latest earlier week; without
// one, the flat legacy tasks count for the current week only.
func (r *Repository) Load(ctx context.Context, owner, week string) (*Board, error) {
	owner, week, err := r.key(owner, week)
	if err != nil {
		return nil, err
	}
	b := &Board{OwnerID: owner, WeekKey: week, Tasks: []Task{}}
	rec, err := r.find(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load planner: %w", err)
	}
	if rec == nil {
		return b, nil
	}
	b.ID = rec.ID
	if w, ok := rec.Data.Weeks[week]; ok && w.Tasks != nil {
		b.Tasks = w.Tasks
		return b, nil
	}
	if week != r.CurrentWeek() {
		return b, nil
	}
	if prev, ok := latestBefore(rec.Data.Weeks, week); ok {
		b.Tasks = Rollover(prev.Tasks)
	} else if rec.Data.Tasks != nil {
		b.Tasks = rec.Data.Tasks
	}
	return b, nil
}

// latestBefore finds the newest stored week before week. Keys sort by time.
func latestBefore(weeks map[string]Week, week string) (Week, bool) {
	var (
		best  string
		found Week
	)
	for k, w := range weeks {
		if k < week && k > best {
			best, found = k, w
		}
	}
	return found, best != ""
}

// Place moves one task into a day/slot of the owner's week and saves it.
func (r *Repository) Place(ctx context.Context, owner, week, id string, day, slot int) (*Board, error) {
	b, err := r.Load(ctx, owner, week)
	if err != nil {
		return nil, err
	}
	tasks, err := Place(b.Tasks, id, day, slot)
	if err != nil {
		return nil, err
	}
	return r.Save(ctx, b.OwnerID, b.WeekKey, EnsureTray(tasks))
}

// Save replaces the owner's tasks for week. The last write wins.
func (r *Repository) Save(ctx context.Context, owner, week string, tasks []Task) (*Board, error) {
	owner, week, err := r.key(owner, week)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []Task{}
	}
	if err := Validate(tasks); err != nil {
		return nil, err
	}
	rec, err := r.find(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("save planner: %w", err)
	}

	data := &Data{}
	if rec != nil {
		data = rec.Data
	}
	if data.Weeks == nil {
		data.Weeks = map[string]Week{}
	}
	data.Weeks[week] = Week{Meta: WeekMeta{Timezone: r.loc.String(), WeekKey: week}, Tasks: tasks}
	if week == r.CurrentWeek() {
		data.Tasks = tasks
	}

	var out record
	if rec == nil {
		err = r.pb.Create(ctx, Collection, map[string]any{"ownerId": owner, "data": data}, &out)
	} else {
		err = r.pb.Update(ctx, Collection, rec.ID, map[string]any{"data": data}, &out)
	}
	if err != nil {
		return nil, fmt.Errorf("save planner: %w", err)
	}
	return &Board{ID: out.ID, OwnerID: owner, WeekKey: week, Tasks: tasks}, nil
}

func (r *Repository) key(owner, week string) (string, string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", "", ErrMissingOwner
	}
	if week == "" {
		return owner, r.CurrentWeek(), nil
	}
	week, err := ParseWeekKey(week)
	return owner, week, err
}

// DecodeTasks reads a tasks payload strictly. Tasks without an id get one.
func DecodeTasks(raw json.RawMessage) ([]Task, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: tasks must be an array", ErrInvalidTask)
	}
	var tasks []Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	return Normalize(tasks), nil
}
