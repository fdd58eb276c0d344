// internal/gender/classifier.go
package gender

import (
	"context"
	"strings"
	"unicode"

	"github.com/Corphon/SceneBechdel/internal/models"
)

// Source names the signal a label was taken from.
type Source string

const (
	SourceEmptyName     Source = "empty_name"
	SourceSubtitle      Source = "subtitle"
	SourceBio           Source = "bio"
	SourcePerformerName Source = "performer_name"
	SourceCharacterName Source = "character_name"
)

// Decision is a label plus where it came from.
type Decision struct {
	Label  models.GenderLabel `json:"label"`
	Source Source             `json:"source"`
}

// Classifier labels characters, preferring what is known about the
// performer and backing off to the name model.
type Classifier struct {
	model  *Model
	lookup PerformerLookup
}

// NewClassifier builds a classifier. lookup may be nil, in which case every
// character is labelled from its own name.
func NewClassifier(model *Model, lookup PerformerLookup) *Classifier {
	return &Classifier{model: model, lookup: lookup}
}

// Model returns the backoff model.
func (c *Classifier) Model() *Model {
	return c.model
}

// Lookup returns the performer lookup, or nil.
func (c *Classifier) Lookup() PerformerLookup {
	return c.lookup
}

// Classify labels one character of movie with a single lookup attempt.
// Lookup failures fall back to the name model; Classify never fails.
func (c *Classifier) Classify(ctx context.Context, movie, character string) Decision {
	if character == "" {
		return Decision{Label: models.GenderMale, Source: SourceEmptyName}
	}
	if c.lookup == nil {
		return c.Decide(character, nil)
	}
	info, err := c.lookup.Lookup(ctx, movie, character)
	if err != nil {
		return c.Decide(character, nil)
	}
	return c.Decide(character, &info)
}

// Decide applies the decision chain to performer info that was already
// fetched; info is nil when the lookup failed or was skipped.
//
// An empty character name is always male. This mirrors the historic
// behaviour of the pipeline and is probably not what anyone wants.
func (c *Classifier) Decide(character string, info *PerformerInfo) Decision {
	if character == "" {
		return Decision{Label: models.GenderMale, Source: SourceEmptyName}
	}

	if info != nil {
		if d, ok := c.fromPerformer(*info); ok {
			return d
		}
	}

	return Decision{Label: c.model.Classify(titleCase(character)), Source: SourceCharacterName}
}

// fromPerformer reads the performer panel. A subtitle that names neither an
// actor nor an actress still shadows the bio and the display name.
func (c *Classifier) fromPerformer(info PerformerInfo) (Decision, bool) {
	if info.Subtitle != nil {
		switch {
		case strings.Contains(*info.Subtitle, "Actor"):
			return Decision{Label: models.GenderMale, Source: SourceSubtitle}, true
		case strings.Contains(*info.Subtitle, "Actress"):
			return Decision{Label: models.GenderFemale, Source: SourceSubtitle}, true
		}
		return Decision{}, false
	}

	if info.Bio != nil {
		bio := strings.ToLower(*info.Bio)
		switch {
		case strings.Contains(bio, "actress"):
			return Decision{Label: models.GenderFemale, Source: SourceBio}, true
		case strings.Contains(bio, "actor"):
			return Decision{Label: models.GenderMale, Source: SourceBio}, true
		}
		return Decision{}, false
	}

	if info.DisplayName != nil {
		if tokens := strings.Fields(*info.DisplayName); len(tokens) == 2 {
			first := strings.ToLower(tokens[0])
			return Decision{Label: c.model.Classify(first), Source: SourcePerformerName}, true
		}
	}
	return Decision{}, false
}

// titleCase upper-cases the first letter of every word and lower-cases the
// rest, so "MARY JANE" becomes "Mary Jane" and "O'NEIL" becomes "O'Neil".
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if prevLetter {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(unicode.ToTitle(r))
		}
		prevLetter = unicode.IsLetter(r)
	}
	return b.String()
}
