package continuity

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/INLOpen/cmip6kit/sys"
)

// AllowList is the set of datasets an operator has reviewed and accepted.
// It is stored as one dataset path per line.
type AllowList struct {
	mu   sync.RWMutex
	path string
	set  map[string]struct{}
}

// AllowListPath is the cache file for a variable and experiment.
func AllowListPath(cacheDir, variable, experiment string) string {
	return filepath.Join(cacheDir, fmt.Sprintf("%s_%s.txt", variable, experiment))
}

// LoadAllowList reads path. A missing file is an empty list.
func LoadAllowList(path string) (*AllowList, error) {
	al := &AllowList{path: path, set: make(map[string]struct{})}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return al, nil
		}
		return nil, fmt.Errorf("failed to open allow list %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			al.set[line] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read allow list %s: %w", path, err)
	}
	return al, nil
}

// Path is the backing file.
func (a *AllowList) Path() string { return a.path }

// Contains reports whether dir was accepted before.
func (a *AllowList) Contains(dir string) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.set[dir]
	return ok
}

// Len is the number of accepted datasets.
func (a *AllowList) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.set)
}

// Add appends dir to the file unless already present.
func (a *AllowList) Add(dir string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.set[dir]; ok {
		return nil
	}
	if err := sys.AppendLine(a.path, dir); err != nil {
		return err
	}
	a.set[dir] = struct{}{}
	return nil
}
