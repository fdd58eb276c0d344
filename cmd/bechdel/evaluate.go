// cmd/bechdel/evaluate.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Corphon/SceneBechdel/internal/accuracy"
	"github.com/Corphon/SceneBechdel/internal/app"
	"github.com/Corphon/SceneBechdel/internal/config"
	"github.com/Corphon/SceneBechdel/internal/models"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [N]",
	Short: "Score stored results against the ground truth",
	Long: `Evaluate compares the stored results of test N (every test with results
when N is omitted) with the ground truth ranks and prints accuracy,
precision and recall.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEvaluate,
}

var movieCmd = &cobra.Command{
	Use:   "movie TITLE",
	Short: "Run the whole pipeline for one title without storing anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runMovie,
}

func init() {
	evaluateCmd.Flags().String("format", "pretty", "output format (pretty|json)")
	movieCmd.Flags().String("format", "pretty", "output format (pretty|json)")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")

	return withServices(cmd, func(ctx context.Context, cfg *config.AppConfig, s *app.Services) error {
		var reports []*accuracy.Report
		if len(args) == 1 {
			test, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("test must be 1, 2 or 3, got %q", args[0])
			}
			report, err := s.Reports.Evaluate(ctx, test)
			if err != nil {
				return err
			}
			reports = append(reports, report)
		} else {
			var err error
			if reports, err = s.Reports.EvaluateAll(ctx); err != nil {
				return err
			}
		}

		w := cmd.OutOrStdout()
		switch format {
		case "json":
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(reports)
		case "pretty":
			if len(reports) == 0 {
				fmt.Fprintln(w, "no stored results")
			}
			for i, r := range reports {
				if i > 0 {
					fmt.Fprintln(w)
				}
				printAccuracy(w, r)
			}
			return nil
		default:
			return fmt.Errorf("unknown format: %s", format)
		}
	})
}

func runMovie(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")

	return withServices(cmd, func(ctx context.Context, cfg *config.AppConfig, s *app.Services) error {
		ctx, stop := interruptible(ctx)
		defer stop()

		outcome, err := s.Batch.EvaluateMovie(ctx, args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		switch format {
		case "json":
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(outcome)
		case "pretty":
		default:
			return fmt.Errorf("unknown format: %s", format)
		}

		titleColor.Fprintf(w, "%s\n", outcome.MovieID)
		if outcome.Excluded {
			warnColor.Fprintf(w, "  excluded: %s\n", outcome.Reason)
			return nil
		}
		for _, e := range outcome.Roster {
			fmt.Fprintf(w, "  %s %s\n", pad(e.Name, 24), dimColor.Sprint(e.Gender))
		}
		for test := models.TestOne; test <= models.TestThree; test++ {
			pass, ok := outcome.Result(test)
			if !ok {
				break
			}
			fmt.Fprintf(w, "  test %d  %s\n", test, verdict(pass))
		}
		return nil
	})
}
