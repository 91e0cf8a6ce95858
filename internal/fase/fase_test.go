package fase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogGroups(t *testing.T) {
	c := Default()
	var keys []string
	for _, g := range c.Groups {
		keys = append(keys, g.Key)
	}
	assert.Equal(t, []string{"01", "04", "07", "10", "13", "17", "20"}, keys)
	assert.Equal(t, Key("01/01"), c.First())

	g, _, ok := c.GroupOf("07/05")
	require.True(t, ok)
	assert.Equal(t, "Zitten en Staan", g.Name)
	assert.Len(t, g.Members, 12)
}

func TestStepClampsInsideGroup(t *testing.T) {
	c := Default()
	cases := []struct {
		from Key
		dir  Direction
		want Key
	}{
		{"01/01", Next, "01/02"},
		{"01/01", Prev, "01/01"},
		{"01/07", Next, "01/07"},
		{"07/01", Next, "07/05"},
		{"07/05", Prev, "07/01"},
		{"04/02", Next, "04/02"},
		{"20/01", Next, "20/01"},
		{"20/01", Prev, "20/01"},
		{"99/99", Next, "01/01"},
		{"01/00", Prev, "01/01"},
		{"", Next, "01/01"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.Step(tc.from, tc.dir), "%s %s", tc.from, tc.dir)
	}
}

func TestFirstOf(t *testing.T) {
	c := Default()
	k, err := c.FirstOf("17")
	require.NoError(t, err)
	assert.Equal(t, Key("17/01"), k)

	k, err = c.FirstOf("7")
	require.NoError(t, err)
	assert.Equal(t, Key("07/01"), k)

	_, err = c.FirstOf("05")
	assert.True(t, errors.Is(err, ErrUnknownGroup))
}

func TestParseKey(t *testing.T) {
	k, g, n, err := ParseKey("07/05")
	require.NoError(t, err)
	assert.Equal(t, Key("07/05"), k)
	assert.Equal(t, 7, g)
	assert.Equal(t, 5, n)
	assert.Equal(t, "07", k.Group())

	for _, bad := range []string{"7/5", "07-05", "07/5", "", "007/05"} {
		_, _, _, err := ParseKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestLoadCatalogRejectsMisfiledFase(t *testing.T) {
	_, err := LoadCatalog([]byte(`groups: [{key: "01", name: x, fases: [{key: "02/01"}]}]`))
	assert.Error(t, err)
	_, err = LoadCatalog([]byte(`groups: []`))
	assert.Error(t, err)
}

func TestParseHeadings(t *testing.T) {
	h, err := ParseHeadings(`{"07/05": {"heading": "Superfoods/nIk zweer erbij"}}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Superfoods", "Ik zweer erbij"}, Lines(h["07/05"].Heading))

	h, err = ParseHeadings("  ")
	require.NoError(t, err)
	assert.Empty(t, h)

	for _, bad := range []string{`{`, `[]`, `{"7/5": {"heading": "x"}}`, `{"07/05": {"heading": "x", "color": "red"}}`, `{} {}`} {
		_, err := ParseHeadings(bad)
		assert.ErrorIs(t, err, ErrMalformedHeadings, bad)
	}
}

func TestHeadingsEncodeRoundTrip(t *testing.T) {
	h := Headings{"01/01": {Heading: "Welkom"}, "01/04": {Heading: "Teamnaam", Image: "RankingNaam.mp4"}}
	back, err := ParseHeadings(h.Encode())
	require.NoError(t, err)
	assert.Equal(t, h, back)
	assert.Equal(t, "{}", Headings(nil).Encode())
}

func TestLines(t *testing.T) {
	assert.Equal(t, []string{"Superfoods", "Ik zweer erbij"}, Lines("Superfoods/nIk zweer erbij"))
	assert.Equal(t, []string{"een", "twee"}, Lines(" een /n/n twee /n"))
	assert.Empty(t, Lines(""))
	assert.Equal(t, []string{"zijn/haar"}, Lines("zijn/haar"))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, MediaVideo, KindOf("RankingKreet.mp4"))
	assert.Equal(t, MediaVideo, KindOf("clip.WEBM"))
	assert.Equal(t, MediaVideo, KindOf("a.m4v"))
	assert.Equal(t, MediaImage, KindOf("band.webp"))
	assert.Equal(t, MediaImage, KindOf("trailerzit"))
	assert.Equal(t, MediaNone, KindOf(""))
	assert.Equal(t, MediaNone, KindOf("  "))
}

func TestResolveFallsBackToMotherfile(t *testing.T) {
	c := Default()
	url := func(name string) string { return "https://pb/files/" + name }
	session := Headings{"07/05": {Heading: "Superfoods/nIk zweer erbij"}}
	mother := Headings{"07/05": {Heading: "Oud", Image: "Super.mp4"}}

	v := c.Resolve("07/05", session, mother, url)
	assert.Equal(t, "Superfoods/nIk zweer erbij", v.Heading)
	assert.Equal(t, []string{"Superfoods", "Ik zweer erbij"}, v.Lines)
	require.NotNil(t, v.Media)
	assert.Equal(t, SourceMotherfile, v.Media.Source)
	assert.Equal(t, MediaVideo, v.Media.Kind)
	assert.Equal(t, "https://pb/files/Super.mp4", v.Media.URL)
	assert.Equal(t, "Zitten en Staan", v.GroupName)
}

func TestResolvePrefersSessionMedia(t *testing.T) {
	c := Default()
	session := Headings{"01/04": {Heading: "Teamnaam", Image: "band.webp"}}
	mother := Headings{"01/04": {Heading: "x", Image: "RankingNaam.mp4"}}
	v := c.Resolve("01/04", session, mother, nil)
	require.NotNil(t, v.Media)
	assert.Equal(t, SourceSession, v.Media.Source)
	assert.Equal(t, MediaImage, v.Media.Kind)
	assert.Empty(t, v.Media.URL)
}

func TestResolveHeadingOnly(t *testing.T) {
	c := Default()
	v := c.Resolve("10/05", Headings{"10/05": {Heading: "Wie?"}}, Headings{}, nil)
	assert.Nil(t, v.Media)
	assert.Equal(t, []string{"Wie?"}, v.Lines)

	v = c.Resolve("10/06", nil, nil, nil)
	assert.Equal(t, "Fase 10/06", v.Heading)
	assert.Nil(t, v.Media)
}

func TestDefaultHeadingsIsACopy(t *testing.T) {
	c := Default()
	h := c.DefaultHeadings()
	require.Contains(t, h, Key("20/01"))
	h["20/01"] = Heading{Heading: "changed"}
	assert.Equal(t, "De Finale", c.DefaultHeadings()["20/01"].Heading)
}
