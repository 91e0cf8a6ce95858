package fase

import "fmt"

// Media source names reported on a View.
const (
	SourceSession    = "session"
	SourceMotherfile = "motherfile"
)

type Media struct {
	Name   string    `json:"name"`
	URL    string    `json:"url"`
	Kind   MediaKind `json:"kind"`
	Source string    `json:"source"`
}

// View is what a display or player screen renders for one fase.
type View struct {
	Fase      Key      `json:"fase"`
	Group     string   `json:"group"`
	GroupName string   `json:"groupName,omitempty"`
	Heading   string   `json:"heading"`
	Lines     []string `json:"lines"`
	Media     *Media   `json:"media,omitempty"`
}

// URLFunc turns a media file name into a URL. Sessions only store file
// names; the files themselves live on the motherfile record.
type URLFunc func(name string) string

// Resolve picks heading and media for key: the session's own entry first, the
// motherfile entry when the session has no image, heading-only otherwise.
func (c *Catalog) Resolve(key Key, session, mother Headings, url URLFunc) View {
	v := View{Fase: key, Group: key.Group()}
	if g, _, ok := c.GroupOf(key); ok {
		v.GroupName = g.Name
	}

	own, hasOwn := session[key]
	fallback, hasFallback := mother[key]

	switch {
	case hasOwn && own.Heading != "":
		v.Heading = own.Heading
	case hasFallback && fallback.Heading != "":
		v.Heading = fallback.Heading
	default:
		v.Heading = fmt.Sprintf("Fase %s", key)
	}
	v.Lines = Lines(v.Heading)

	switch {
	case hasOwn && KindOf(own.Image) != MediaNone:
		v.Media = newMedia(own.Image, SourceSession, url)
	case hasFallback && KindOf(fallback.Image) != MediaNone:
		v.Media = newMedia(fallback.Image, SourceMotherfile, url)
	}
	return v
}

func newMedia(name, source string, url URLFunc) *Media {
	m := &Media{Name: name, Kind: KindOf(name), Source: source}
	if url != nil {
		m.URL = url(name)
	}
	return m
}
