// cmd/bechdel/main.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Corphon/SceneBechdel/internal/app"
	"github.com/Corphon/SceneBechdel/internal/config"
	"github.com/Corphon/SceneBechdel/internal/sources"
	"github.com/Corphon/SceneBechdel/internal/utils"
)

var rootCmd = &cobra.Command{
	Use:   "bechdel",
	Short: "Screenplay tagging and Bechdel test evaluation",
	Long: `bechdel tags screenplays by indentation, decides which ones are regular
enough to trust, builds character rosters with gender labels and runs the
three Bechdel test stages, optionally scoring them against ground truth.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupColor(cmd)
	},
}

func main() {
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(screenCmd)
	rootCmd.AddCommand(rostersCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(movieCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress progress output")
	rootCmd.PersistentFlags().String("pipeline", "", "pipeline tuning file (overrides PIPELINE_CONFIG)")
	rootCmd.PersistentFlags().String("store", "", "store backend, file or sqlite (overrides STORE_BACKEND)")
	rootCmd.PersistentFlags().Bool("no-lookup", false, "label genders from the name model only")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func setupColor(cmd *cobra.Command) {
	mode, _ := cmd.Root().PersistentFlags().GetString("color")
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		color.NoColor = !isTerminal(os.Stdout)
	}
}

func quiet(cmd *cobra.Command) bool {
	q, _ := cmd.Root().PersistentFlags().GetBool("quiet")
	return q
}

// loadConfig reads the environment and pipeline file, applying the global
// flag overrides.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	flags := cmd.Root().PersistentFlags()
	if path, _ := flags.GetString("pipeline"); path != "" {
		os.Setenv("PIPELINE_CONFIG", path)
	}
	if backend, _ := flags.GetString("store"); backend != "" {
		os.Setenv("STORE_BACKEND", backend)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		return nil, err
	}
	if noLookup, _ := flags.GetBool("no-lookup"); noLookup {
		cfg.LookupEnabled = false
	}
	return cfg, nil
}

// withServices builds the pipeline, runs fn and closes the store.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.AppConfig, s *app.Services) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	level := utils.WARNING
	if cfg.DebugMode {
		level = utils.DEBUG
	}
	logger := utils.NewLogger(os.Stderr, level)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := app.BuildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, cfg, s)
}

// titlesFrom collects titles from args, a --titles file or the ground truth.
func titlesFrom(cmd *cobra.Command, cfg *config.AppConfig, args []string) ([]string, error) {
	titles := append([]string(nil), args...)

	if path, _ := cmd.Flags().GetString("titles"); path != "" {
		fromFile, err := readTitles(path)
		if err != nil {
			return nil, err
		}
		titles = append(titles, fromFile...)
	}

	if fromRanks, _ := cmd.Flags().GetBool("from-ranks"); fromRanks {
		ranks, err := sources.LoadRankFile(cfg.GroundTruthFile)
		if err != nil {
			return nil, err
		}
		titles = append(titles, ranks.Titles()...)
	}

	if len(titles) == 0 {
		return nil, fmt.Errorf("no titles given (pass titles, --titles FILE or --from-ranks)")
	}
	return titles, nil
}

func readTitles(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var titles []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" && !strings.HasPrefix(line, "#") {
			titles = append(titles, line)
		}
	}
	return titles, scanner.Err()
}

func addTitleFlags(cmd *cobra.Command) {
	cmd.Flags().String("titles", "", "file with one movie title per line")
	cmd.Flags().Bool("from-ranks", false, "take titles from the ground truth file")
}
