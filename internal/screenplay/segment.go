// internal/screenplay/segment.go
package screenplay

import "github.com/Corphon/SceneBechdel/internal/models"

// Segment splits a tagged script into scenes. Every scene boundary closes the
// running scene and opens a new one, so scene 0 is the preamble (possibly
// empty) and each later scene starts with its boundary line. The scenes share
// the script's backing array and concatenate back to script.Lines exactly.
func Segment(script *models.TaggedScript) []models.Scene {
	var scenes []models.Scene
	start := 0

	for i, line := range script.Lines {
		if line.Tag != models.TagSceneBoundary {
			continue
		}
		scenes = append(scenes, models.Scene{
			Index: len(scenes),
			Lines: script.Lines[start:i:i],
		})
		start = i
	}

	return append(scenes, models.Scene{
		Index: len(scenes),
		Lines: script.Lines[start:len(script.Lines):len(script.Lines)],
	})
}
