// internal/screenplay/validator.go
package screenplay

import (
	"fmt"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/models"
)

// Verdict is the validator's decision for one script.
type Verdict string

const (
	VerdictAccepted Verdict = "accepted"
	VerdictUnusable Verdict = "unusable"
	VerdictRejected Verdict = "rejected"
)

// ValidatorOptions are the gate thresholds.
type ValidatorOptions struct {
	Levels            int     // K used by the tagger
	CoverageLevels    int     // most frequent depths counted by the coverage gate
	CoverageMin       float64 // exclusive
	CoverageMax       float64 // exclusive
	MaxAnomalyPercent float64 // exclusive
}

// DefaultValidatorOptions returns the canonical thresholds.
func DefaultValidatorOptions() ValidatorOptions {
	return ValidatorOptions{
		Levels:            DefaultLevels,
		CoverageLevels:    3,
		CoverageMin:       0.90,
		CoverageMax:       0.995,
		MaxAnomalyPercent: 10,
	}
}

// Report describes how a script fared against both gates.
type Report struct {
	Lines          int     `json:"lines"`
	DistinctDepths int     `json:"distinct_depths"`
	Coverage       float64 `json:"coverage"`
	Anomalies      int     `json:"anomalies"`
	AnomalyPercent float64 `json:"anomaly_percent"`
	Verdict        Verdict `json:"verdict"`
	Reason         string  `json:"reason,omitempty"`
}

// Validator decides whether a tagged script is regular enough to trust.
type Validator struct {
	opts ValidatorOptions
}

func NewValidator(opts ValidatorOptions) *Validator {
	if opts.CoverageLevels < 1 {
		opts.CoverageLevels = 3
	}
	if opts.Levels < 1 {
		opts.Levels = DefaultLevels
	}
	return &Validator{opts: opts}
}

// Validate runs the coverage and adjacency gates. The returned error is a
// FormatUnusable or FormatRejected AppError; the report is always filled in.
func (v *Validator) Validate(script *models.TaggedScript) (*Report, error) {
	profile := profileOf(script)

	report := &Report{
		Lines:          len(script.Lines),
		DistinctDepths: profile.Distinct(),
	}

	minDepths := v.opts.CoverageLevels
	if v.opts.Levels > minDepths {
		minDepths = v.opts.Levels
	}
	if report.DistinctDepths < minDepths {
		report.Verdict = VerdictUnusable
		report.Reason = fmt.Sprintf("%d distinct indentation depths, need %d", report.DistinctDepths, minDepths)
		return report, apperrors.NewFormatUnusableError(report.Reason)
	}

	report.Coverage = profile.Coverage(v.opts.CoverageLevels)
	report.Anomalies = CountAnomalies(script.Lines)
	report.AnomalyPercent = 100 * float64(report.Anomalies) / float64(report.Lines)

	if !(report.Coverage > v.opts.CoverageMin && report.Coverage < v.opts.CoverageMax) {
		report.Verdict = VerdictRejected
		report.Reason = fmt.Sprintf("coverage %.4f outside (%.3f, %.3f)", report.Coverage, v.opts.CoverageMin, v.opts.CoverageMax)
		return report, apperrors.NewFormatRejectedError(report.Reason)
	}
	if report.AnomalyPercent >= v.opts.MaxAnomalyPercent {
		report.Verdict = VerdictRejected
		report.Reason = fmt.Sprintf("anomaly ratio %.2f%% not below %.2f%%", report.AnomalyPercent, v.opts.MaxAnomalyPercent)
		return report, apperrors.NewFormatRejectedError(report.Reason)
	}

	report.Verdict = VerdictAccepted
	return report, nil
}

// profileOf rebuilds the depth distribution from already tagged lines.
func profileOf(script *models.TaggedScript) *Profile {
	p := &Profile{counts: make(map[int]int)}
	for _, line := range script.Lines {
		p.Lines = append(p.Lines, RawLine{Text: line.Text, Depth: line.Depth})
		p.counts[line.Depth]++
	}
	return p
}

// CountAnomalies counts adjacency violations: a scene boundary followed by
// anything but a description or a cue, and a dialogue line with no cue
// above it before some other kind of line or the top of the script.
func CountAnomalies(lines []models.ScriptLine) int {
	anomalies := 0
	for i, line := range lines {
		switch line.Tag {
		case models.TagSceneBoundary:
			if i+1 >= len(lines) {
				continue
			}
			next := lines[i+1].Tag
			if next != models.TagSceneDescription && next != models.TagCharacterCue {
				anomalies++
			}
		case models.TagDialogue:
			if !hasSpeaker(lines, i) {
				anomalies++
			}
		}
	}
	return anomalies
}

// hasSpeaker walks upwards from lines[i] looking for its character cue.
func hasSpeaker(lines []models.ScriptLine, i int) bool {
	it := reverseFrom(lines, i)
	for {
		line, ok := it.next()
		if !ok {
			return false
		}
		switch line.Tag {
		case models.TagCharacterCue:
			return true
		case models.TagMetadata, models.TagSceneDescription, models.TagDialogue:
			continue
		default:
			return false
		}
	}
}

// reverseIter yields lines[start-1], lines[start-2], ... lines[0].
type reverseIter struct {
	lines []models.ScriptLine
	pos   int
}

func reverseFrom(lines []models.ScriptLine, start int) *reverseIter {
	if start > len(lines) {
		start = len(lines)
	}
	return &reverseIter{lines: lines, pos: start}
}

func (it *reverseIter) next() (models.ScriptLine, bool) {
	if it.pos <= 0 {
		return models.ScriptLine{}, false
	}
	it.pos--
	return it.lines[it.pos], true
}
