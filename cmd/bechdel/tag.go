// cmd/bechdel/tag.go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Corphon/SceneBechdel/internal/config"
	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/models"
	"github.com/Corphon/SceneBechdel/internal/screenplay"
	"github.com/Corphon/SceneBechdel/internal/services"
)

var tagCmd = &cobra.Command{
	Use:   "tag [flags] screenplay.txt",
	Short: "Tag a local screenplay and report whether its format is usable",
	Args:  cobra.ExactArgs(1),
	RunE:  runTag,
}

func init() {
	tagCmd.Flags().String("format", "pretty", "output format (pretty|json)")
	tagCmd.Flags().Bool("lines", false, "print every tagged line")
}

func runTag(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	showLines, _ := cmd.Flags().GetBool("lines")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	tagger := screenplay.NewTagger(cfg.Pipeline.Tagger.Levels)
	validator := screenplay.NewValidator(services.ValidatorOptions(cfg.Pipeline))

	movieID := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	script := tagger.Tag(movieID, string(raw))
	report, verr := validator.Validate(script)
	if verr != nil && !apperrors.IsExclusion(verr) {
		return verr
	}

	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"script": script,
			"report": report,
			"usable": verr == nil,
			"roster": screenplay.ScriptRoster(script, cfg.Pipeline.Roster.Size),
		})
	case "pretty":
		printTagReport(cmd, cfg, script, report, verr, showLines)
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func printTagReport(cmd *cobra.Command, cfg *config.AppConfig, script *models.TaggedScript, report *screenplay.Report, verr error, showLines bool) {
	w := cmd.OutOrStdout()

	if showLines {
		for _, line := range script.Lines {
			fmt.Fprintf(w, "%s %3d  %s\n", dimColor.Sprint(line.Tag.Code()), line.Depth, strings.TrimSpace(line.Text))
		}
		fmt.Fprintln(w)
	}

	titleColor.Fprintf(w, "%s\n", script.MovieID)
	fmt.Fprintf(w, "  lines       %d\n", report.Lines)
	fmt.Fprintf(w, "  depths      %d distinct, levels %v\n", report.DistinctDepths, script.Levels)
	fmt.Fprintf(w, "  coverage    %s\n", percent(report.Coverage))
	fmt.Fprintf(w, "  anomalies   %d (%.1f%%)\n", report.Anomalies, report.AnomalyPercent)

	counts := script.TagCounts()
	for _, tag := range models.AllTags {
		fmt.Fprintf(w, "  %-20s %d\n", tag.String(), counts[tag])
	}

	if verr != nil {
		failColor.Fprintf(w, "  unusable: %s\n", verr.Error())
		return
	}
	passColor.Fprintln(w, "  usable")

	scenes := screenplay.Segment(script)
	roster := screenplay.ScriptRoster(script, cfg.Pipeline.Roster.Size)
	fmt.Fprintf(w, "  scenes      %d\n", len(scenes))
	fmt.Fprintf(w, "  roster      ")
	for i, c := range roster {
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprintf(w, "%s (%d)", c.Name, c.Mentions)
	}
	fmt.Fprintln(w)
}
