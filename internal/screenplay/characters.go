// internal/screenplay/characters.go
package screenplay

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Corphon/SceneBechdel/internal/models"
)

// DefaultRosterSize is how many characters a roster keeps.
const DefaultRosterSize = 20

// A name followed by an annotation, e.g. "JOHN (V.O.)" or "MARY (CONT'D)".
var annotatedCuePattern = regexp.MustCompile(`^[A-Za-z.\-]+.*\(.+`)

// ExtractName canonicalises a character cue line into a character name.
func ExtractName(cue string) string {
	trimmed := strings.TrimSpace(cue)
	if annotatedCuePattern.MatchString(trimmed) {
		return strings.TrimSpace(trimmed[:strings.Index(trimmed, "(")])
	}
	return trimmed
}

// CueNames returns the canonical name of every character cue, in order.
func CueNames(lines []models.ScriptLine) []string {
	var names []string
	for _, line := range lines {
		if line.Tag == models.TagCharacterCue {
			names = append(names, ExtractName(line.Text))
		}
	}
	return names
}

// SelectRoster keeps the n most frequent names, most frequent first.
// Names with equal counts keep the order in which they were first seen.
func SelectRoster(names []string, n int) models.Roster {
	if n < 1 {
		n = DefaultRosterSize
	}

	index := make(map[string]int)
	var roster models.Roster
	for _, name := range names {
		if i, ok := index[name]; ok {
			roster[i].Mentions++
			continue
		}
		index[name] = len(roster)
		roster = append(roster, models.Character{Name: name, Mentions: 1})
	}

	sort.SliceStable(roster, func(i, j int) bool {
		return roster[i].Mentions > roster[j].Mentions
	})

	if len(roster) > n {
		roster = roster[:n]
	}
	return roster
}

// ScriptRoster is SelectRoster over every cue of a tagged script.
func ScriptRoster(script *models.TaggedScript, n int) models.Roster {
	return SelectRoster(CueNames(script.Lines), n)
}
