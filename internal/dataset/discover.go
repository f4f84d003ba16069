package dataset

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/pkg/errors"
)

// DiscoverShards returns the paths of <split>-NNNNNN.tar files beneath root,
// sorted. An empty split matches the generic shard-NNNNNN.tar naming.
func DiscoverShards(root string, split Split) ([]string, error) {
	prefix := "shard"
	if split != "" {
		prefix = string(split)
	}
	pattern, err := regexp.Compile(`^` + regexp.QuoteMeta(prefix) + `-[0-9]{6,}\.tar$`)
	if err != nil {
		return nil, errors.Wrap(err, "discover shards")
	}
	var entries []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && pattern.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "discover shards under %s", root)
	}
	sort.Strings(entries)
	return entries, nil
}
