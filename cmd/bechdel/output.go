// cmd/bechdel/output.go
package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/schollz/progressbar/v2"

	"github.com/Corphon/SceneBechdel/internal/accuracy"
	"github.com/Corphon/SceneBechdel/internal/models"
	"github.com/Corphon/SceneBechdel/internal/services"
)

var (
	passColor  = color.New(color.FgGreen, color.Bold)
	failColor  = color.New(color.FgRed)
	warnColor  = color.New(color.FgYellow)
	titleColor = color.New(color.Bold)
	dimColor   = color.New(color.FgHiBlack)
)

// stageBars draws one progress bar per pipeline stage on stderr.
type stageBars struct {
	out     io.Writer
	stage   string
	bar     *progressbar.ProgressBar
	enabled bool
}

func newStageBars(enabled bool) *stageBars {
	return &stageBars{out: os.Stderr, enabled: enabled}
}

// Update is a services.ProgressFunc.
func (b *stageBars) Update(stage string, done, total int) {
	if !b.enabled || total == 0 {
		return
	}
	if stage != b.stage {
		b.Finish()
		b.stage = stage
		b.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(b.out),
			progressbar.OptionSetDescription(fmt.Sprintf("%-8s", stage)),
		)
	}
	b.bar.Set(done)
}

func (b *stageBars) Finish() {
	if b.bar != nil {
		b.bar.Finish()
		fmt.Fprintln(b.out)
		b.bar = nil
	}
}

func pad(s string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(s, width, "…"), width)
}

func titleWidth(titles []string) int {
	width := 5
	for _, t := range titles {
		width = max(width, runewidth.StringWidth(t))
	}
	return min(width, 48)
}

func verdict(pass bool) string {
	if pass {
		return passColor.Sprint("PASS")
	}
	return failColor.Sprint("FAIL")
}

func printExclusions(w io.Writer, excluded []services.Exclusion) {
	if len(excluded) == 0 {
		return
	}
	byReason := make(map[string][]string)
	for _, ex := range excluded {
		byReason[ex.Reason] = append(byReason[ex.Reason], ex.MovieID)
	}
	reasons := make([]string, 0, len(byReason))
	for r := range byReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)

	warnColor.Fprintf(w, "excluded %d movie(s)\n", len(excluded))
	for _, r := range reasons {
		fmt.Fprintf(w, "  %-22s %s\n", r, dimColor.Sprint(strings.Join(byReason[r], ", ")))
	}
}

// printResults prints one row per movie with a column per evaluated test.
func printResults(w io.Writer, results map[int][]models.TestResult) {
	byMovie := make(map[string]map[int]bool)
	var order []string
	for test := models.TestOne; test <= models.TestThree; test++ {
		for _, r := range results[test] {
			if _, ok := byMovie[r.MovieID]; !ok {
				byMovie[r.MovieID] = make(map[int]bool)
				order = append(order, r.MovieID)
			}
			byMovie[r.MovieID][test] = r.Pass
		}
	}
	if len(order) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}

	width := titleWidth(order)
	titleColor.Fprintf(w, "%s  T1    T2    T3\n", pad("movie", width))
	for _, movie := range order {
		row := pad(movie, width)
		for test := models.TestOne; test <= models.TestThree; test++ {
			pass, ok := byMovie[movie][test]
			if !ok {
				row += "  " + dimColor.Sprint("  - ")
				continue
			}
			row += "  " + verdict(pass)
		}
		fmt.Fprintln(w, row)
	}
}

func printAccuracy(w io.Writer, report *accuracy.Report) {
	titleColor.Fprintf(w, "test %d (%s)\n", report.Test, report.Rule)
	fmt.Fprintf(w, "  movies     %d\n", report.Total)
	fmt.Fprintf(w, "  accuracy   %s\n", percent(report.Accuracy))
	fmt.Fprintf(w, "  confusion  TP %d  FP %d  TN %d  FN %d\n",
		report.TruePositives, report.FalsePositives, report.TrueNegatives, report.FalseNegatives)
	fmt.Fprintf(w, "  positive   recall %s  precision %s\n", percent(report.PositiveRecall), percent(report.PositivePrecision))
	fmt.Fprintf(w, "  negative   recall %s  precision %s\n", percent(report.NegativeRecall), percent(report.NegativePrecision))
	if len(report.Unknown) > 0 {
		warnColor.Fprintf(w, "  %d movie(s) without ground truth\n", len(report.Unknown))
	}
	if len(report.Duplicates) > 0 {
		warnColor.Fprintf(w, "  %d duplicate result(s) ignored\n", len(report.Duplicates))
	}
}

func percent(v float64) string {
	return fmt.Sprintf("%5.1f%%", v*100)
}
