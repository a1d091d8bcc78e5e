package merge

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/INLOpen/cmip6kit/internal/logging"
	"github.com/INLOpen/cmip6kit/sys"
)

// partialName is the hidden name a merged file has inside the dataset
// directory until the originals are gone.
func partialName(base string) string {
	return "." + base + ".partial"
}

// Relocate moves the staged merge into datasetDir, removes the original
// chunk files and gives the merge its canonical name (the staged file's
// base name). It returns the final path.
func (e *Engine) Relocate(datasetDir, staged string, files []string) (string, error) {
	base := filepath.Base(staged)
	final := filepath.Join(datasetDir, base)
	partial := filepath.Join(datasetDir, partialName(base))

	e.say(logging.SeverityInfo, "---> Moving newly created file to %s", datasetDir)
	if err := sys.Move(staged, partial); err != nil {
		return "", fmt.Errorf("moving %s into %s: %w", staged, datasetDir, err)
	}
	e.say(logging.SeverityInfo, "---> Removing original files")
	for _, f := range files {
		if filepath.Dir(f) == "." {
			f = filepath.Join(datasetDir, f)
		}
		if err := sys.RemoveWithRetry(f); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("removing original %s: %w", f, err)
		}
	}
	if err := sys.RenameWithRetry(partial, final); err != nil {
		return "", fmt.Errorf("renaming %s to %s: %w", partial, final, err)
	}
	e.logger.Info("Merged file relocated", "dir", datasetDir, "file", base, "removed", len(files))
	return final, nil
}
