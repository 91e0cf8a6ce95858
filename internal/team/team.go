// Package team splits a show roster into numbered teams.
//
// The team number is stored in the roster itself as a zero-padded 3-digit
// prefix ("003 Alice"). Assign writes the prefix once when a show is created;
// Parse only reads it back, so every screen sees the same grouping.
package team

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
)

const separator = ", "

var prefixRe = regexp.MustCompile(`^(\d{3})\s+(\S.*)$`)

// SplitRoster splits a comma separated roster into trimmed, non-empty entries.
func SplitRoster(roster string) []string {
	parts := strings.Split(roster, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinRoster is the inverse of SplitRoster.
func JoinRoster(entries []string) string {
	return strings.Join(entries, separator)
}

// Count returns the number of roster entries.
func Count(roster string) int {
	return len(SplitRoster(roster))
}

// Assign shuffles names and prefixes each entry with its team number.
// Team k = (index mod nrTeams) + 1 after the shuffle.
func Assign(names []string, nrTeams int, rng *rand.Rand) []string {
	if nrTeams <= 0 || len(names) == 0 {
		return []string{}
	}
	clean := make([]string, 0, len(names))
	for _, n := range names {
		// commas would split the entry again on the next read
		n = strings.TrimSpace(strings.ReplaceAll(n, ",", " "))
		if n != "" {
			clean = append(clean, n)
		}
	}
	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	shuffle(len(clean), func(i, j int) { clean[i], clean[j] = clean[j], clean[i] })

	out := make([]string, len(clean))
	for i, n := range clean {
		out[i] = fmt.Sprintf("%03d %s", (i%nrTeams)+1, n)
	}
	return out
}

// Parse groups a prefixed roster by team number. Keys 1..nrTeams are always
// present. Entries without a prefix or with an out-of-range team are dropped.
func Parse(roster string, nrTeams int) map[int][]string {
	teams := make(map[int][]string, max(nrTeams, 0))
	if nrTeams <= 0 {
		return teams
	}
	for i := 1; i <= nrTeams; i++ {
		teams[i] = []string{}
	}
	for _, entry := range SplitRoster(roster) {
		n, name, ok := splitEntry(entry)
		if !ok || n < 1 || n > nrTeams {
			continue
		}
		teams[n] = append(teams[n], name)
	}
	return teams
}

// Members returns the display names of one team.
func Members(roster string, nrTeams, team int) []string {
	return Parse(roster, nrTeams)[team]
}

// Names strips the team prefix from every valid entry, in roster order.
func Names(roster string) []string {
	entries := SplitRoster(roster)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, name, ok := splitEntry(e); ok {
			out = append(out, name)
		}
	}
	return out
}

func splitEntry(entry string) (int, string, bool) {
	m := prefixRe.FindStringSubmatch(entry)
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return n, strings.TrimSpace(m[2]), true
}
