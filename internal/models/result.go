// internal/models/result.go
package models

import "time"

// Bechdel test stage numbers.
const (
	TestOne   = 1
	TestTwo   = 2
	TestThree = 3
)

// TestResult is the outcome of one stage for one movie. A movie has a
// result for stage N only if it passed stage N-1.
type TestResult struct {
	MovieID string `json:"movie_id"`
	Test    int    `json:"test"`
	Pass    bool   `json:"pass"`
}

// MovieOutcome collects everything a batch run learned about one movie.
type MovieOutcome struct {
	MovieID   string        `json:"movie_id"`
	Excluded  bool          `json:"excluded"`
	Reason    string        `json:"reason,omitempty"`
	Roster    []RosterEntry `json:"roster,omitempty"`
	Results   []TestResult  `json:"results,omitempty"`
	Partial   bool          `json:"partial,omitempty"` // gender lookups were cancelled before completion
	Processed time.Time     `json:"processed"`
}

// Result returns the stage result and whether the stage was evaluated.
func (o *MovieOutcome) Result(test int) (bool, bool) {
	for _, r := range o.Results {
		if r.Test == test {
			return r.Pass, true
		}
	}
	return false, false
}
