// cmd/bechdel/train.go
package main

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/Corphon/SceneBechdel/internal/config"
	"github.com/Corphon/SceneBechdel/internal/gender"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the name model and save it",
	Long: `Train fits the Naive Bayes name model on the labelled name corpus and
writes it to MODEL_PATH (or --out). With --holdout a share of the corpus is
kept back and the model's accuracy on it is reported.`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().String("corpus", "", "directory holding male.txt and female.txt (embedded corpus when empty)")
	trainCmd.Flags().String("out", "", "model file to write (defaults to MODEL_PATH)")
	trainCmd.Flags().Float64("holdout", 0.1, "share of names kept back for evaluation")
	trainCmd.Flags().Int64("seed", 1, "shuffle seed for the holdout split")
}

func runTrain(cmd *cobra.Command, args []string) error {
	base, err := config.Load()
	if err != nil {
		return err
	}

	corpusDir, _ := cmd.Flags().GetString("corpus")
	if corpusDir == "" {
		corpusDir = base.CorpusDir
	}
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = base.ModelPath
	}
	holdout, _ := cmd.Flags().GetFloat64("holdout")
	if holdout < 0 || holdout >= 1 {
		return fmt.Errorf("--holdout must be in [0, 1), got %v", holdout)
	}
	seed, _ := cmd.Flags().GetInt64("seed")

	samples, err := gender.LoadCorpus(corpusDir)
	if err != nil {
		return err
	}

	train, test := samples, []gender.Sample(nil)
	if holdout > 0 {
		shuffled := append([]gender.Sample(nil), samples...)
		rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		n := int(float64(len(shuffled)) * holdout)
		test, train = shuffled[:n], shuffled[n:]
	}

	model, err := gender.Train(train)
	if err != nil {
		return err
	}
	if err := gender.SaveModel(out, model); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "trained on %d names, saved to %s\n", len(train), out)
	if len(test) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "held-out accuracy %s over %d names\n", percent(model.Accuracy(test)), len(test))
	}
	return nil
}
