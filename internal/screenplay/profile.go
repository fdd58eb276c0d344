// internal/screenplay/profile.go
package screenplay

import (
	"sort"
	"strings"
	"unicode"
)

// RawLine is a non-blank input line with its indentation depth.
type RawLine struct {
	Text  string
	Depth int
}

// Profile is the indentation distribution of one script.
type Profile struct {
	Lines  []RawLine
	counts map[int]int
}

// DepthCount is one entry of the ranked distribution.
type DepthCount struct {
	Depth int `json:"depth"`
	Count int `json:"count"`
}

// NewProfile splits text into non-blank lines and counts their depths.
func NewProfile(text string) *Profile {
	p := &Profile{counts: make(map[int]int)}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		depth := Depth(line)
		p.Lines = append(p.Lines, RawLine{Text: line, Depth: depth})
		p.counts[depth]++
	}

	return p
}

// Depth counts leading whitespace characters.
func Depth(line string) int {
	n := 0
	for _, r := range line {
		if !unicode.IsSpace(r) {
			break
		}
		n++
	}
	return n
}

// Total returns the number of non-blank lines.
func (p *Profile) Total() int {
	return len(p.Lines)
}

// Distinct returns the number of distinct depths.
func (p *Profile) Distinct() int {
	return len(p.counts)
}

// Ranked returns every depth ordered by frequency, most frequent first.
// Equal frequencies put the smaller depth first.
func (p *Profile) Ranked() []DepthCount {
	ranked := make([]DepthCount, 0, len(p.counts))
	for depth, count := range p.counts {
		ranked = append(ranked, DepthCount{Depth: depth, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Depth < ranked[j].Depth
	})
	return ranked
}

// MostCommon returns the k most frequent depths in rank order.
func (p *Profile) MostCommon(k int) []int {
	ranked := p.Ranked()
	if k < len(ranked) {
		ranked = ranked[:k]
	}
	depths := make([]int, len(ranked))
	for i, dc := range ranked {
		depths[i] = dc.Depth
	}
	return depths
}

// Levels returns the k most frequent depths sorted ascending, so Levels[0]
// is L0, the least indented of the selected depths.
func (p *Profile) Levels(k int) []int {
	levels := p.MostCommon(k)
	sort.Ints(levels)
	return levels
}

// Coverage returns the share of lines sitting on the k most frequent depths.
func (p *Profile) Coverage(k int) float64 {
	if len(p.Lines) == 0 {
		return 0
	}
	covered := 0
	for _, depth := range p.MostCommon(k) {
		covered += p.counts[depth]
	}
	return float64(covered) / float64(len(p.Lines))
}
