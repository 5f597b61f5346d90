package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/catflash/catflash/internal/selector"
)

const firmwareCacheSize = 16

// firmwareCache memoizes discovery per extracted tree. Entries are keyed by
// the tree path and the modification times of the tree and its firmware
// directory, so a fresh extraction misses.
type firmwareCache struct {
	subdir string
	cache  *lru.Cache[string, []selector.Candidate]
}

func newFirmwareCache(subdir string) (*firmwareCache, error) {
	c, err := lru.New[string, []selector.Candidate](firmwareCacheSize)
	if err != nil {
		return nil, err
	}
	if subdir == "" {
		subdir = "firmware"
	}
	return &firmwareCache{subdir: subdir, cache: c}, nil
}

func (c *firmwareCache) key(root string) (string, bool) {
	info, err := os.Stat(root)
	if err != nil {
		return "", false
	}
	key := fmt.Sprintf("%s|%d", root, info.ModTime().UnixNano())
	if fw, err := os.Stat(filepath.Join(root, c.subdir)); err == nil {
		key += fmt.Sprintf("|%d", fw.ModTime().UnixNano())
	}
	return key, true
}

// get returns the candidates under root, calling discover on a miss.
// A missing tree is not cached.
func (c *firmwareCache) get(root string, discover func() ([]selector.Candidate, error)) ([]selector.Candidate, error) {
	key, ok := c.key(root)
	if ok {
		if hit, found := c.cache.Get(key); found {
			return hit, nil
		}
	}
	candidates, err := discover()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if ok {
		c.cache.Add(key, candidates)
	}
	return candidates, nil
}

func (c *firmwareCache) len() int {
	return c.cache.Len()
}
