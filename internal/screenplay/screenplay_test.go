package screenplay

import (
	"reflect"
	"strings"
	"testing"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/models"
)

// scene returns one typeset scene: heading and action at 0, dialogue at 10,
// parenthetical at 15, cues at 20 and an optional transition at 40.
func scene(n int, heading, transition bool) []string {
	var lines []string
	if heading {
		lines = append(lines, "INT. KITCHEN - NIGHT")
	}
	lines = append(lines,
		"Rain hammers the windows. A kettle starts to whistle.",
		strings.Repeat(" ", 20)+"ANN",
		strings.Repeat(" ", 10)+"Did you hear that?",
		strings.Repeat(" ", 10)+"Somebody is at the door.",
		strings.Repeat(" ", 20)+"MARY (O.S.)",
	)
	if n%3 == 0 {
		lines = append(lines, strings.Repeat(" ", 15)+"(whispering)")
	}
	lines = append(lines,
		strings.Repeat(" ", 10)+"Stay where you are.",
		"She crosses to the window.",
	)
	if transition {
		lines = append(lines, strings.Repeat(" ", 40)+"CUT TO:")
	}
	return lines
}

func fixture(scenes int) string {
	var lines []string
	for i := 0; i < scenes; i++ {
		lines = append(lines, scene(i, true, i%4 == 1)...)
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func TestDepthCountsLeadingWhitespace(t *testing.T) {
	cases := map[string]int{
		"NAME":             0,
		"    NAME":         4,
		"\t\tNAME":         2,
		" \t NAME  ":       3,
		"\u00a0\u2003NAME": 2,
	}
	for line, want := range cases {
		if got := Depth(line); got != want {
			t.Errorf("Depth(%q) = %d, want %d", line, got, want)
		}
	}
}

func TestProfileSkipsBlankLinesAndRanks(t *testing.T) {
	p := NewProfile("a\n\n   \r\n  b\n  c\n    d\r\n    e\n")
	if p.Total() != 5 {
		t.Fatalf("Total = %d, want 5", p.Total())
	}
	if p.Lines[3].Text != "    d" {
		t.Fatalf("carriage return not trimmed: %q", p.Lines[3].Text)
	}
	// depth 2 and 4 both appear twice; the smaller depth ranks first
	if got := p.MostCommon(2); !reflect.DeepEqual(got, []int{2, 4}) {
		t.Fatalf("MostCommon(2) = %v", got)
	}
	if got := p.Levels(5); !reflect.DeepEqual(got, []int{0, 2, 4}) {
		t.Fatalf("Levels(5) = %v", got)
	}
	if got := p.Coverage(2); got != 0.8 {
		t.Fatalf("Coverage(2) = %v", got)
	}
}

func TestTagRoles(t *testing.T) {
	script := NewTagger(5).Tag("fixture", fixture(12))

	if !reflect.DeepEqual(script.Levels, []int{0, 10, 15, 20, 40}) {
		t.Fatalf("Levels = %v", script.Levels)
	}

	want := map[string]models.Tag{
		"INT. KITCHEN - NIGHT":       models.TagSceneBoundary,
		"She crosses to the window.": models.TagSceneDescription,
		"ANN":                        models.TagCharacterCue,
		"MARY (O.S.)":                models.TagCharacterCue,
		"Did you hear that?":         models.TagDialogue,
		"(whispering)":               models.TagMetadata,
		"CUT TO:":                    models.TagMetadata,
	}
	for _, line := range script.Lines {
		tag, ok := want[strings.TrimSpace(line.Text)]
		if ok && tag != line.Tag {
			t.Errorf("%q tagged %s, want %s", line.Text, line.Tag, tag)
		}
	}
}

func TestSceneHeadingPattern(t *testing.T) {
	cases := map[string]bool{
		"INT. KITCHEN - NIGHT":   true,
		"EXT. ROOFTOP":           true,
		"12. INT. HALLWAY":       true,
		"104.3 EXT. PIER - DAY":  true,
		"1 INT. HALLWAY":         false,
		"INTERIOR KITCHEN":       false,
		"She walks INT. nowhere": false,
	}
	for line, want := range cases {
		if got := sceneHeadingPattern.MatchString(line); got != want {
			t.Errorf("%q: got %v, want %v", line, got, want)
		}
	}
}

func TestTagCountsSumToLineCount(t *testing.T) {
	inputs := []string{
		fixture(7),
		"one\n  two\n\n    three\n",
		"",
		"\tINT. X\n  y\n     z\n        w\n  v\n",
	}
	for _, text := range inputs {
		for _, k := range []int{1, 3, 5} {
			script := NewTagger(k).Tag("m", text)
			sum := 0
			for _, n := range script.TagCounts() {
				sum += n
			}
			if sum != NewProfile(text).Total() || sum != script.Len() {
				t.Fatalf("k=%d: tag counts sum %d, lines %d", k, sum, script.Len())
			}
		}
	}
}

func TestTaggingIsDeterministic(t *testing.T) {
	text := fixture(9) + "\n   odd\n      odder\n"
	first := NewTagger(5).Tag("m", text)
	for i := 0; i < 20; i++ {
		again := NewTagger(5).Tag("m", text)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d produced a different tagging", i)
		}
	}
}

func TestMissingRanksAreUnclassified(t *testing.T) {
	script := NewTagger(5).Tag("m", "INT. A\n  b\n    c\n")
	// three depths: L0, L1, L2 exist; nothing sits on L3 or L4
	got := []models.Tag{script.Lines[0].Tag, script.Lines[1].Tag, script.Lines[2].Tag}
	want := []models.Tag{models.TagSceneBoundary, models.TagDialogue, models.TagMetadata}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tags = %v, want %v", got, want)
	}

	script = NewTagger(2).Tag("m", "a\na\n  b\n  b\n      c\n")
	if script.Lines[4].Tag != models.TagUnclassified {
		t.Fatalf("depth outside the selected levels tagged %s", script.Lines[4].Tag)
	}
}

func TestValidatorAcceptsWellFormedScript(t *testing.T) {
	script := NewTagger(5).Tag("fixture", fixture(12))
	report, err := NewValidator(DefaultValidatorOptions()).Validate(script)
	if err != nil {
		t.Fatalf("Validate: %v (report %+v)", err, report)
	}
	if report.Verdict != VerdictAccepted || report.Anomalies != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestValidatorTwoDepthsAlwaysUnusable(t *testing.T) {
	clean := "INT. A\nAction.\n          Hello.\nMore action.\n"
	// every dialogue line lacks a cue, so the anomaly ratio is high as well
	noisy := "          Hi.\n          Hello.\nINT. A\nINT. B\n          Bye.\n"

	v := NewValidator(DefaultValidatorOptions())
	for _, text := range []string{clean, noisy} {
		report, err := v.Validate(NewTagger(5).Tag("m", text))
		if !apperrors.IsFormatUnusable(err) {
			t.Fatalf("err = %v, want format unusable", err)
		}
		if report.Verdict != VerdictUnusable || report.DistinctDepths != 2 {
			t.Fatalf("report = %+v", report)
		}
	}
}

func TestValidatorNeedsKDepths(t *testing.T) {
	text := "INT. A\nx\n  y\n  y\n    z\n    z\n      w\n"
	_, err := NewValidator(DefaultValidatorOptions()).Validate(NewTagger(5).Tag("m", text))
	if !apperrors.IsFormatUnusable(err) {
		t.Fatalf("4 depths with K=5: err = %v", err)
	}
}

// synthetic builds a script of exactly total lines carrying exactly
// anomalies adjacency violations, with coverage inside the default gate.
func synthetic(total, anomalies int) *models.TaggedScript {
	line := func(depth int, tag models.Tag) models.ScriptLine {
		return models.ScriptLine{Text: strings.Repeat(" ", depth) + tag.Code(), Depth: depth, Tag: tag}
	}

	var lines []models.ScriptLine
	for i := 0; i < anomalies; i++ {
		lines = append(lines,
			line(0, models.TagSceneBoundary),
			line(0, models.TagSceneBoundary),
			line(0, models.TagSceneDescription))
	}

	extras := func(n, depth int) {
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			lines = append(lines,
				line(20, models.TagCharacterCue),
				line(depth, models.TagMetadata),
				line(10, models.TagDialogue))
		}
	}
	extras(total/100, 15)
	extras(total/200, 40)

	for len(lines) < total {
		lines = append(lines, line(0, models.TagSceneDescription))
	}
	return &models.TaggedScript{MovieID: "synthetic", Lines: lines}
}

func TestAnomalyRatioBoundary(t *testing.T) {
	v := NewValidator(DefaultValidatorOptions())

	cases := []struct {
		total, anomalies int
		accepted         bool
	}{
		{100, 10, false}, // exactly 10%
		{100, 9, true},
		{10000, 1000, false},
		{10000, 999, true}, // 9.99%
	}
	for _, tc := range cases {
		report, err := v.Validate(synthetic(tc.total, tc.anomalies))
		if report.Anomalies != tc.anomalies || report.Lines != tc.total {
			t.Fatalf("fixture: %+v", report)
		}
		if tc.accepted && err != nil {
			t.Errorf("%d/%d: unexpected error %v", tc.anomalies, tc.total, err)
		}
		if !tc.accepted && !apperrors.IsFormatRejected(err) {
			t.Errorf("%d/%d: err = %v, want format rejected", tc.anomalies, tc.total, err)
		}
	}
}

func TestCoverageGateIsExclusive(t *testing.T) {
	// two stray lines in 1002 leave coverage above the 0.995 bound
	script := synthetic(1000, 0)
	for i := range script.Lines {
		if d := script.Lines[i].Depth; d == 15 || d == 40 {
			script.Lines[i].Depth = 0
		}
	}
	script.Lines = append(script.Lines,
		models.ScriptLine{Text: "x", Depth: 3, Tag: models.TagUnclassified},
		models.ScriptLine{Text: "y", Depth: 5, Tag: models.TagUnclassified})

	report, err := NewValidator(DefaultValidatorOptions()).Validate(script)
	if !apperrors.IsFormatRejected(err) {
		t.Fatalf("coverage %.4f: err = %v", report.Coverage, err)
	}
}

func TestCountAnomaliesEdges(t *testing.T) {
	tl := func(tags ...models.Tag) []models.ScriptLine {
		lines := make([]models.ScriptLine, len(tags))
		for i, tag := range tags {
			lines[i] = models.ScriptLine{Tag: tag}
		}
		return lines
	}

	cases := []struct {
		name  string
		lines []models.ScriptLine
		want  int
	}{
		{"trailing boundary", tl(models.TagSceneDescription, models.TagSceneBoundary), 0},
		{"boundary then dialogue", tl(models.TagSceneBoundary, models.TagDialogue), 2},
		{"dialogue at top", tl(models.TagDialogue), 1},
		{"cue through metadata", tl(models.TagCharacterCue, models.TagMetadata, models.TagSceneDescription, models.TagDialogue, models.TagDialogue), 0},
		{"unclassified breaks the walk", tl(models.TagCharacterCue, models.TagUnclassified, models.TagDialogue), 1},
		{"empty", nil, 0},
	}
	for _, tc := range cases {
		if got := CountAnomalies(tc.lines); got != tc.want {
			t.Errorf("%s: %d anomalies, want %d", tc.name, got, tc.want)
		}
	}
}

func TestSegmentRoundTrip(t *testing.T) {
	inputs := []string{
		fixture(5),
		"Preamble line.\n" + fixture(3),
		"INT. ONLY",
		"no boundaries at all\n  just text\n",
		"",
	}
	for _, text := range inputs {
		script := NewTagger(5).Tag("m", text)
		scenes := Segment(script)

		var joined []models.ScriptLine
		for i, s := range scenes {
			if s.Index != i {
				t.Fatalf("scene %d has index %d", i, s.Index)
			}
			if i > 0 && s.Lines[0].Tag != models.TagSceneBoundary {
				t.Fatalf("scene %d does not start at a boundary", i)
			}
			joined = append(joined, s.Lines...)
		}
		if len(joined) != len(script.Lines) || (len(joined) > 0 && !reflect.DeepEqual(joined, script.Lines)) {
			t.Fatalf("round trip lost lines: %d vs %d", len(joined), len(script.Lines))
		}
	}
}

func TestSegmentKeepsEmptyPreamble(t *testing.T) {
	script := NewTagger(5).Tag("m", fixture(4))
	scenes := Segment(script)
	if len(scenes) != 5 {
		t.Fatalf("%d scenes, want preamble + 4", len(scenes))
	}
	if len(scenes[0].Lines) != 0 {
		t.Fatalf("preamble = %v", scenes[0].Lines)
	}
}

func TestExtractName(t *testing.T) {
	cases := map[string]string{
		"   ANN":            "ANN",
		"MARY (O.S.)":       "MARY",
		"DR. JONES (V.O.)":  "DR. JONES",
		"JEAN-LUC (CONT'D)": "JEAN-LUC",
		"(beat)":            "(beat)",
		"MARY":              "MARY",
		"  O'NEIL  ":        "O'NEIL",
	}
	for cue, want := range cases {
		if got := ExtractName(cue); got != want {
			t.Errorf("ExtractName(%q) = %q, want %q", cue, got, want)
		}
	}
}

func TestSelectRoster(t *testing.T) {
	names := []string{"BOB", "ANN", "CARL", "ANN", "BOB", "DEE", "ANN"}
	roster := SelectRoster(names, 3)

	want := models.Roster{{Name: "ANN", Mentions: 3}, {Name: "BOB", Mentions: 2}, {Name: "CARL", Mentions: 1}}
	if !reflect.DeepEqual(roster, want) {
		t.Fatalf("roster = %+v", roster)
	}

	var many []string
	for i := 0; i < 30; i++ {
		many = append(many, string(rune('A'+i%26))+strings.Repeat("X", i/26))
	}
	if got := len(SelectRoster(many, 0)); got != DefaultRosterSize {
		t.Fatalf("default roster size %d", got)
	}
}

func TestScriptRosterUsesCues(t *testing.T) {
	script := NewTagger(5).Tag("m", fixture(6))
	roster := ScriptRoster(script, 20)
	if !reflect.DeepEqual(roster.Names(), []string{"ANN", "MARY"}) {
		t.Fatalf("roster = %v", roster.Names())
	}
	if roster[0].Mentions != 6 || roster[1].Mentions != 6 {
		t.Fatalf("mentions = %+v", roster)
	}
}
