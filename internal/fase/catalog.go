package fase

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidKey   = errors.New("invalid fase key")
	ErrUnknownGroup = errors.New("unknown fase group")
)

//go:embed catalog.yaml
var catalogYAML []byte

var keyRe = regexp.MustCompile(`^(\d{2})/(\d{2})$`)

// Key identifies one fase as "GG/NN" (group / number).
type Key string

// ParseKey validates s and returns its group and number.
func ParseKey(s string) (Key, int, int, error) {
	m := keyRe.FindStringSubmatch(s)
	if m == nil {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	g, _ := strconv.Atoi(m[1])
	n, _ := strconv.Atoi(m[2])
	return Key(s), g, n, nil
}

// Group returns the "GG" part of the key, or "" if the key is malformed.
func (k Key) Group() string {
	m := keyRe.FindStringSubmatch(string(k))
	if m == nil {
		return ""
	}
	return m[1]
}

func (k Key) Valid() bool { return keyRe.MatchString(string(k)) }

// Direction of a navigation step.
type Direction string

const (
	Next Direction = "next"
	Prev Direction = "prev"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Next, Prev:
		return Direction(s), nil
	}
	return "", fmt.Errorf("invalid direction %q", s)
}

type Group struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Members []Key  `json:"fases"`
}

// Catalog is the fixed, ordered list of fase groups.
type Catalog struct {
	Groups   []Group
	defaults Headings
}

type catalogFile struct {
	Groups []struct {
		Key   string `yaml:"key"`
		Name  string `yaml:"name"`
		Fases []struct {
			Key     string `yaml:"key"`
			Heading string `yaml:"heading"`
			Image   string `yaml:"image"`
		} `yaml:"fases"`
	} `yaml:"groups"`
}

var defaultCatalog = mustLoad(catalogYAML)

// Default returns the built-in show catalog.
func Default() *Catalog { return defaultCatalog }

// LoadCatalog parses a YAML catalog document.
func LoadCatalog(b []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.Groups) == 0 {
		return nil, errors.New("catalog has no groups")
	}
	c := &Catalog{defaults: Headings{}}
	seen := map[Key]bool{}
	for _, g := range f.Groups {
		if len(g.Fases) == 0 {
			return nil, fmt.Errorf("group %s has no fases", g.Key)
		}
		grp := Group{Key: g.Key, Name: g.Name}
		for _, fs := range g.Fases {
			k, _, _, err := ParseKey(fs.Key)
			if err != nil {
				return nil, err
			}
			if k.Group() != g.Key {
				return nil, fmt.Errorf("fase %s listed under group %s", k, g.Key)
			}
			if seen[k] {
				return nil, fmt.Errorf("duplicate fase %s", k)
			}
			seen[k] = true
			grp.Members = append(grp.Members, k)
			c.defaults[k] = Heading{Heading: fs.Heading, Image: fs.Image}
		}
		c.Groups = append(c.Groups, grp)
	}
	return c, nil
}

func mustLoad(b []byte) *Catalog {
	c, err := LoadCatalog(b)
	if err != nil {
		panic(err)
	}
	return c
}

// First is the first key of the first group.
func (c *Catalog) First() Key { return c.Groups[0].Members[0] }

// GroupOf finds the group that lists key as a member.
func (c *Catalog) GroupOf(key Key) (Group, int, bool) {
	for _, g := range c.Groups {
		for i, m := range g.Members {
			if m == key {
				return g, i, true
			}
		}
	}
	return Group{}, -1, false
}

func (c *Catalog) Contains(key Key) bool {
	_, _, ok := c.GroupOf(key)
	return ok
}

// Step moves one position inside the group containing current and clamps at
// both ends. An unknown key resets to First.
func (c *Catalog) Step(current Key, dir Direction) Key {
	g, i, ok := c.GroupOf(current)
	if !ok {
		return c.First()
	}
	switch dir {
	case Next:
		if i < len(g.Members)-1 {
			i++
		}
	case Prev:
		if i > 0 {
			i--
		}
	}
	return g.Members[i]
}

// FirstOf returns the first member of a group. Both "7" and "07" are accepted.
func (c *Catalog) FirstOf(group string) (Key, error) {
	g, ok := c.Group(group)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownGroup, group)
	}
	return g.Members[0], nil
}

func (c *Catalog) Group(group string) (Group, bool) {
	if n, err := strconv.Atoi(group); err == nil {
		group = fmt.Sprintf("%02d", n)
	}
	for _, g := range c.Groups {
		if g.Key == group {
			return g, true
		}
	}
	return Group{}, false
}

// DefaultHeadings returns a fresh copy of the seed headings.
func (c *Catalog) DefaultHeadings() Headings { return c.defaults.Clone() }
