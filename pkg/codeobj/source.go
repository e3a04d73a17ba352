package codeobj

import (
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

const sourceCacheSize = 64

// SourceCache caches the contents of source files referenced by line tables,
// split into lines. Missing files are not cached, a file that appears while
// a session is running will be picked up.
type SourceCache struct {
	files *lru.Cache
}

func NewSourceCache() *SourceCache {
	cache, _ := lru.New(sourceCacheSize)
	return &SourceCache{files: cache}
}

// Lines returns the lines of path, reading and caching the file on first
// use. The second return value is false when the file can not be read.
func (sc *SourceCache) Lines(path string) ([]string, bool) {
	if v, ok := sc.files.Get(path); ok {
		return v.([]string), true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	sc.files.Add(path, lines)
	return lines, true
}
