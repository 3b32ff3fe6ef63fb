package sstable

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// sstableFileNamePattern recognizes the stamped filename Filename
// produces, adapted from FlashLogGo's segmentmanager package, which uses
// the same "regexp-match, parse the numeric id, sort entries by id"
// approach to discover its rotating log segments in creation order. Here
// there is no rotation — every matching file is a live, independent
// SSTable — but the same discovery shape applies: an SSTable's
// monotonically increasing stamp is its discovery order.
var sstableFileNamePattern = regexp.MustCompile(`^sstable-(\d+)\.db$`)

type discoveredFile struct {
	stamp int64
	path  string
}

type discoveredFiles []discoveredFile

func (d discoveredFiles) Len() int           { return len(d) }
func (d discoveredFiles) Swap(i, j int)      { d[i], d[j] = d[j], d[i] }
func (d discoveredFiles) Less(i, j int) bool { return d[i].stamp < d[j].stamp }

// Discover lists every SSTable file in dir, in ascending creation-stamp
// order. Entries whose name doesn't match the expected pattern (or whose
// stamp doesn't parse) are skipped rather than erroring — a stray file in
// sstable_dir shouldn't prevent the store from opening.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var found discoveredFiles
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		matches := sstableFileNamePattern.FindStringSubmatch(e.Name())
		if len(matches) != 2 {
			continue
		}
		stamp, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			continue
		}
		found = append(found, discoveredFile{stamp: stamp, path: filepath.Join(dir, e.Name())})
	}

	sort.Sort(found)

	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}
	return paths, nil
}
