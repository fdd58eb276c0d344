// internal/models/character.go
package models

import "strings"

// GenderLabel is the binary label produced by the gender classifier.
type GenderLabel string

const (
	GenderMale   GenderLabel = "male"
	GenderFemale GenderLabel = "female"
)

// ParseGenderLabel accepts "male"/"female" in any case.
func ParseGenderLabel(s string) (GenderLabel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(GenderMale):
		return GenderMale, true
	case string(GenderFemale):
		return GenderFemale, true
	}
	return "", false
}

// Character is a canonical name derived from one or more character cues.
type Character struct {
	Name     string `json:"name"`
	Mentions int    `json:"mentions"`
}

// Roster holds the most frequently cued characters of one movie,
// ordered by mention count descending. Names are unique.
type Roster []Character

// Names returns the roster names in rank order.
func (r Roster) Names() []string {
	names := make([]string, len(r))
	for i, c := range r {
		names[i] = c.Name
	}
	return names
}

// GenderMap maps a character name to its label.
type GenderMap map[string]GenderLabel

// Count returns how many entries carry label.
func (g GenderMap) Count(label GenderLabel) int {
	n := 0
	for _, l := range g {
		if l == label {
			n++
		}
	}
	return n
}

// RosterEntry is one persisted (name, label) pair.
type RosterEntry struct {
	Name   string      `json:"name"`
	Gender GenderLabel `json:"gender"`
}

// EntriesFor pairs roster names with their labels, in roster order.
// Names missing from genders are left out.
func EntriesFor(roster []string, genders GenderMap) []RosterEntry {
	entries := make([]RosterEntry, 0, len(roster))
	for _, name := range roster {
		if label, ok := genders[name]; ok {
			entries = append(entries, RosterEntry{Name: name, Gender: label})
		}
	}
	return entries
}

// SplitEntries turns persisted entries back into an ordered roster and a gender map.
func SplitEntries(entries []RosterEntry) ([]string, GenderMap) {
	names := make([]string, 0, len(entries))
	genders := make(GenderMap, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
		genders[e.Name] = e.Gender
	}
	return names, genders
}
