// internal/gender/lookup.go
package gender

import "context"

// PerformerInfo is what a search for "who plays <character> in <movie>"
// reveals about the performer. A nil field was not present on the page.
type PerformerInfo struct {
	Subtitle    *string `json:"subtitle,omitempty"`     // e.g. "American Actress"
	Bio         *string `json:"bio,omitempty"`          // short biography snippet
	DisplayName *string `json:"display_name,omitempty"` // performer's name
}

// PerformerLookup resolves a movie character to performer information.
type PerformerLookup interface {
	Lookup(ctx context.Context, movie, character string) (PerformerInfo, error)
}

// LookupFunc adapts a function to PerformerLookup.
type LookupFunc func(ctx context.Context, movie, character string) (PerformerInfo, error)

func (f LookupFunc) Lookup(ctx context.Context, movie, character string) (PerformerInfo, error) {
	return f(ctx, movie, character)
}

// Text returns a pointer to s, for building PerformerInfo values.
func Text(s string) *string {
	return &s
}
