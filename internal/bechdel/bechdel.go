// internal/bechdel/bechdel.go
package bechdel

import (
	"fmt"
	"strings"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/models"
	"github.com/Corphon/SceneBechdel/internal/screenplay"
)

// malePronouns are the tokens that always count as talking about a man.
var malePronouns = []string{"he", "him", "his", "man"}

// Input is everything the three stages need for one movie.
type Input struct {
	MovieID string
	Roster  []string
	Genders models.GenderMap
	Scenes  []models.Scene
}

// InputFromEntries builds an Input from a persisted roster and a script.
func InputFromEntries(movieID string, entries []models.RosterEntry, script *models.TaggedScript) Input {
	roster, genders := models.SplitEntries(entries)
	return Input{
		MovieID: movieID,
		Roster:  roster,
		Genders: genders,
		Scenes:  screenplay.Segment(script),
	}
}

// PassesTestOne reports whether at least two roster characters are female.
func PassesTestOne(roster []string, genders models.GenderMap) bool {
	females := 0
	for _, name := range roster {
		if genders[name] == models.GenderFemale {
			females++
		}
	}
	return females >= 2
}

// PassesTestTwo reports whether some scene has two different female
// characters speaking one after the other.
func PassesTestTwo(scenes []models.Scene, genders models.GenderMap) bool {
	for _, scene := range scenes {
		if femaleExchange(scene, genders) {
			return true
		}
	}
	return false
}

// PassesTestThree reports whether some scene passing test two has dialogue
// free of male pronouns and of the names in maleNames.
func PassesTestThree(scenes []models.Scene, genders models.GenderMap, maleNames []string) bool {
	banned := make(map[string]struct{}, len(maleNames)+len(malePronouns))
	for _, name := range maleNames {
		banned[strings.ToLower(name)] = struct{}{}
	}
	for _, p := range malePronouns {
		banned[p] = struct{}{}
	}

	for _, scene := range scenes {
		if femaleExchange(scene, genders) && !mentionsMen(scene, banned) {
			return true
		}
	}
	return false
}

// femaleExchange looks for consecutive cues naming two distinct women.
// Names missing from genders never match.
func femaleExchange(scene models.Scene, genders models.GenderMap) bool {
	cues := screenplay.CueNames(scene.Lines)
	for i := 0; i+1 < len(cues); i++ {
		c1, c2 := cues[i], cues[i+1]
		if c1 != c2 && genders[c1] == models.GenderFemale && genders[c2] == models.GenderFemale {
			return true
		}
	}
	return false
}

func mentionsMen(scene models.Scene, banned map[string]struct{}) bool {
	for _, line := range scene.LinesTagged(models.TagDialogue) {
		for _, token := range strings.Fields(line) {
			if _, ok := banned[strings.ToLower(token)]; ok {
				return true
			}
		}
	}
	return false
}

// MaleNames returns the roster members labelled male, in roster order.
func MaleNames(roster []string, genders models.GenderMap) []string {
	var males []string
	for _, name := range roster {
		if genders[name] == models.GenderMale {
			males = append(males, name)
		}
	}
	return males
}

// Stage evaluates a single test for in, regardless of earlier stages.
func Stage(test int, in Input) (bool, error) {
	switch test {
	case models.TestOne:
		return PassesTestOne(in.Roster, in.Genders), nil
	case models.TestTwo:
		return PassesTestTwo(in.Scenes, in.Genders), nil
	case models.TestThree:
		return PassesTestThree(in.Scenes, in.Genders, MaleNames(in.Roster, in.Genders)), nil
	}
	return false, apperrors.NewValidationError(fmt.Sprintf("test %d is not 1, 2 or 3", test), nil)
}

// Evaluate runs the stages in order and stops at the first failure, so a
// later stage has a result only when the one before it passed.
func Evaluate(in Input) []models.TestResult {
	var results []models.TestResult
	for test := models.TestOne; test <= models.TestThree; test++ {
		pass, _ := Stage(test, in)
		results = append(results, models.TestResult{MovieID: in.MovieID, Test: test, Pass: pass})
		if !pass {
			break
		}
	}
	return results
}

// ValidTest reports whether test names one of the three stages.
func ValidTest(test int) bool {
	return test >= models.TestOne && test <= models.TestThree
}

// Eligible filters movies down to those that may run test: every movie for
// test one, otherwise only movies whose prior result is a pass. Movies
// without a prior result were never tested and stay out.
func Eligible(test int, movies []string, prior []models.TestResult) []string {
	if test == models.TestOne {
		return movies
	}
	passed := make(map[string]bool, len(prior))
	for _, r := range prior {
		if r.Test != test-1 {
			continue
		}
		if _, seen := passed[r.MovieID]; !seen {
			passed[r.MovieID] = r.Pass
		}
	}

	var eligible []string
	for _, movie := range movies {
		if passed[movie] {
			eligible = append(eligible, movie)
		}
	}
	return eligible
}
