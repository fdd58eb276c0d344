// internal/models/script.go
package models

// Tag is the structural role assigned to one screenplay line.
type Tag int

const (
	TagUnclassified Tag = iota
	TagSceneBoundary
	TagSceneDescription
	TagMetadata
	TagCharacterCue
	TagDialogue
)

// AllTags lists every tag in declaration order.
var AllTags = []Tag{
	TagUnclassified,
	TagSceneBoundary,
	TagSceneDescription,
	TagMetadata,
	TagCharacterCue,
	TagDialogue,
}

// String returns the readable tag name.
func (t Tag) String() string {
	switch t {
	case TagSceneBoundary:
		return "scene_boundary"
	case TagSceneDescription:
		return "scene_description"
	case TagMetadata:
		return "metadata"
	case TagCharacterCue:
		return "character_cue"
	case TagDialogue:
		return "dialogue"
	default:
		return "unclassified"
	}
}

// Code returns the one-letter code used in debug dumps (S, N, M, C, D, U).
func (t Tag) Code() string {
	switch t {
	case TagSceneBoundary:
		return "S"
	case TagSceneDescription:
		return "N"
	case TagMetadata:
		return "M"
	case TagCharacterCue:
		return "C"
	case TagDialogue:
		return "D"
	default:
		return "U"
	}
}

// MarshalText lets tags appear by name in JSON payloads.
func (t Tag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ScriptLine is one non-blank screenplay line after tagging.
type ScriptLine struct {
	Text  string `json:"text"`
	Depth int    `json:"depth"` // leading whitespace characters
	Tag   Tag    `json:"tag"`
}

// TaggedScript is the tagged form of one movie's screenplay.
// Lines is never mutated once the tagger returns it.
type TaggedScript struct {
	MovieID string       `json:"movie_id"`
	Lines   []ScriptLine `json:"lines"`
	Levels  []int        `json:"levels"`          // selected depths, ascending (L0 first)
	Depths  int          `json:"distinct_depths"` // distinct depths seen in the whole script
}

// Len returns the number of tagged lines.
func (s *TaggedScript) Len() int {
	return len(s.Lines)
}

// TagCounts counts lines per tag.
func (s *TaggedScript) TagCounts() map[Tag]int {
	counts := make(map[Tag]int, len(AllTags))
	for _, line := range s.Lines {
		counts[line.Tag]++
	}
	return counts
}

// Scene is a read-only window over a TaggedScript, starting at a scene
// boundary (or at the top of the script for the preamble).
type Scene struct {
	Index int          `json:"index"`
	Lines []ScriptLine `json:"lines"`
}

// LinesTagged returns the text of every line in the scene carrying tag.
func (s Scene) LinesTagged(tag Tag) []string {
	var out []string
	for _, line := range s.Lines {
		if line.Tag == tag {
			out = append(out, line.Text)
		}
	}
	return out
}
