// internal/gender/corpus.go
package gender

import (
	"bufio"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/models"
)

//go:embed corpus/male.txt corpus/female.txt
var seedCorpus embed.FS

// corpusFiles maps each label to its name list file.
var corpusFiles = []struct {
	file  string
	label models.GenderLabel
}{
	{"male.txt", models.GenderMale},
	{"female.txt", models.GenderFemale},
}

// LoadCorpus reads male.txt and female.txt from dir, or the embedded seed
// corpus when dir is empty. Files hold one name per line; blank lines and
// lines starting with '#' are skipped. Male names come first, which makes
// male the tie-winning label of a model trained on the result.
func LoadCorpus(dir string) ([]Sample, error) {
	var fsys fs.FS
	if dir == "" {
		sub, err := fs.Sub(seedCorpus, "corpus")
		if err != nil {
			return nil, err
		}
		fsys = sub
	} else {
		fsys = os.DirFS(dir)
	}

	var samples []Sample
	for _, cf := range corpusFiles {
		f, err := fsys.Open(cf.file)
		if err != nil {
			return nil, fmt.Errorf("failed to open corpus file %s: %w", cf.file, err)
		}
		names, err := readNames(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read corpus file %s: %w", cf.file, err)
		}
		for _, name := range names {
			samples = append(samples, Sample{Name: name, Label: cf.label})
		}
	}
	return samples, nil
}

func readNames(r io.Reader) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	return names, scanner.Err()
}

// TrainDefault trains a model on the corpus in dir (embedded when empty).
func TrainDefault(dir string) (*Model, error) {
	samples, err := LoadCorpus(dir)
	if err != nil {
		return nil, err
	}
	return Train(samples)
}

// LoadOrTrain loads the model artifact at path, falling back to training on
// the corpus when the artifact does not exist yet.
func LoadOrTrain(path, corpusDir string) (*Model, error) {
	if path != "" {
		m, err := LoadModel(path)
		if err == nil {
			return m, nil
		}
		if !apperrors.IsNotFoundError(err) {
			return nil, err
		}
	}
	return TrainDefault(corpusDir)
}
