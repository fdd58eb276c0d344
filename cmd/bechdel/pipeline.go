// cmd/bechdel/pipeline.go
package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Corphon/SceneBechdel/internal/app"
	"github.com/Corphon/SceneBechdel/internal/config"
	"github.com/Corphon/SceneBechdel/internal/models"
)

var screenCmd = &cobra.Command{
	Use:   "screen [titles...]",
	Short: "Fetch scripts and store the titles whose format is usable",
	RunE:  runScreen,
}

var rostersCmd = &cobra.Command{
	Use:   "rosters",
	Short: "Build and store gender-labelled rosters for the screened titles",
	Args:  cobra.NoArgs,
	RunE:  runRosters,
}

var stageCmd = &cobra.Command{
	Use:   "stage N",
	Short: "Run Bechdel test N (1-3) over the stored rosters",
	Args:  cobra.ExactArgs(1),
	RunE:  runStage,
}

var runCmd = &cobra.Command{
	Use:   "run [titles...]",
	Short: "Screen, build rosters and run the test stages in one go",
	RunE:  runAll,
}

func init() {
	addTitleFlags(screenCmd)
	addTitleFlags(runCmd)
	runCmd.Flags().Int("stages", models.TestThree, "run tests 1..N")
}

// interruptible cancels ctx on SIGINT or SIGTERM so a batch stops between
// movies.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

func runScreen(cmd *cobra.Command, args []string) error {
	return withServices(cmd, func(ctx context.Context, cfg *config.AppConfig, s *app.Services) error {
		titles, err := titlesFrom(cmd, cfg, args)
		if err != nil {
			return err
		}
		ctx, stop := interruptible(ctx)
		defer stop()

		bars := newStageBars(!quiet(cmd))
		summary, err := s.Batch.Screen(ctx, titles, bars.Update)
		bars.Finish()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%d of %d titles parseable\n", len(summary.Parseable), len(titles))
		printExclusions(w, summary.Excluded)
		return nil
	})
}

func runRosters(cmd *cobra.Command, args []string) error {
	return withServices(cmd, func(ctx context.Context, cfg *config.AppConfig, s *app.Services) error {
		titles, err := s.Store.LoadParseable(ctx)
		if err != nil {
			return fmt.Errorf("%w (run screen first)", err)
		}
		ctx, stop := interruptible(ctx)
		defer stop()

		bars := newStageBars(!quiet(cmd))
		summary, err := s.Batch.BuildRosters(ctx, titles, bars.Update)
		bars.Finish()

		w := cmd.OutOrStdout()
		if summary != nil {
			fmt.Fprintf(w, "stored %d roster(s)\n", len(summary.Rosters))
			printExclusions(w, summary.Excluded)
			if len(summary.Partial) > 0 {
				warnColor.Fprintf(w, "%d roster(s) interrupted and not stored\n", len(summary.Partial))
			}
		}
		return err
	})
}

func runStage(cmd *cobra.Command, args []string) error {
	test, err := strconv.Atoi(args[0])
	if err != nil || test < models.TestOne || test > models.TestThree {
		return fmt.Errorf("test must be 1, 2 or 3, got %q", args[0])
	}

	return withServices(cmd, func(ctx context.Context, cfg *config.AppConfig, s *app.Services) error {
		ctx, stop := interruptible(ctx)
		defer stop()

		bars := newStageBars(!quiet(cmd))
		results, excluded, err := s.Batch.RunStage(ctx, test, nil, bars.Update)
		bars.Finish()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		printResults(w, map[int][]models.TestResult{test: results})
		printExclusions(w, excluded)
		return nil
	})
}

func runAll(cmd *cobra.Command, args []string) error {
	stages, _ := cmd.Flags().GetInt("stages")

	return withServices(cmd, func(ctx context.Context, cfg *config.AppConfig, s *app.Services) error {
		titles, err := titlesFrom(cmd, cfg, args)
		if err != nil {
			return err
		}
		ctx, stop := interruptible(ctx)
		defer stop()

		bars := newStageBars(!quiet(cmd))
		report, err := s.Batch.Run(ctx, titles, stages, bars.Update)
		bars.Finish()

		w := cmd.OutOrStdout()
		if report != nil {
			fmt.Fprintf(w, "%d titles, %d parseable, %d roster(s)\n", report.Titles, len(report.Parseable), report.Rosters)
			printResults(w, report.Results)
			printExclusions(w, report.Excluded)
		}
		if err != nil {
			return err
		}

		for test := models.TestOne; test <= stages; test++ {
			if r, err := s.Reports.Evaluate(ctx, test); err == nil {
				fmt.Fprintln(w)
				printAccuracy(w, r)
			}
		}
		return nil
	})
}
