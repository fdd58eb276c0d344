// internal/screenplay/tagger.go
package screenplay

import (
	"regexp"
	"strings"

	"github.com/Corphon/SceneBechdel/internal/models"
)

// DefaultLevels is the canonical number of structural indentation levels.
const DefaultLevels = 5

var (
	// Optional scene number ("12.", "4A" is not matched, "104.3" is) then INT./EXT.
	sceneHeadingPattern = regexp.MustCompile(`^([\d.]{2,})?\s*(INT|EXT)\..*$`)
	// Parenthetical direction such as "(beat)" or "(into phone)".
	parentheticalPattern = regexp.MustCompile(`^\(.+\)`)
)

// Tagger assigns structural tags from ranked indentation levels.
type Tagger struct {
	levels int
}

// NewTagger returns a tagger using k levels; k < 1 means DefaultLevels.
func NewTagger(k int) *Tagger {
	if k < 1 {
		k = DefaultLevels
	}
	return &Tagger{levels: k}
}

// Levels returns the configured K.
func (t *Tagger) Levels() int {
	return t.levels
}

// Tag profiles text and tags every non-blank line. Scripts with fewer than
// K distinct depths are still tagged; ranks that do not exist simply match
// nothing and the validator rejects the result.
func (t *Tagger) Tag(movieID, text string) *models.TaggedScript {
	return t.TagProfile(movieID, NewProfile(text))
}

// TagProfile tags an already computed profile.
func (t *Tagger) TagProfile(movieID string, profile *Profile) *models.TaggedScript {
	levels := profile.Levels(t.levels)

	rank := make(map[int]int, len(levels))
	for i, depth := range levels {
		rank[depth] = i
	}

	lines := make([]models.ScriptLine, len(profile.Lines))
	for i, raw := range profile.Lines {
		tag := models.TagUnclassified
		if r, ok := rank[raw.Depth]; ok {
			tag = tagForRank(r, strings.TrimSpace(raw.Text))
		}
		lines[i] = models.ScriptLine{Text: raw.Text, Depth: raw.Depth, Tag: tag}
	}

	return &models.TaggedScript{
		MovieID: movieID,
		Lines:   lines,
		Levels:  levels,
		Depths:  profile.Distinct(),
	}
}

func tagForRank(rank int, trimmed string) models.Tag {
	switch rank {
	case 0:
		if sceneHeadingPattern.MatchString(trimmed) {
			return models.TagSceneBoundary
		}
		return models.TagSceneDescription
	case 1:
		return models.TagDialogue
	case 2:
		return models.TagMetadata
	case 3:
		if parentheticalPattern.MatchString(trimmed) {
			return models.TagMetadata
		}
		return models.TagCharacterCue
	case 4:
		return models.TagMetadata
	default:
		return models.TagUnclassified
	}
}
