package indexer

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Scan walks root and returns an index entry for every visible node below
// it. Hidden directories are not descended into; the root itself is not
// included. Unreadable subtrees are skipped rather than failing the scan.
func Scan(root string) ([]Entry, error) {
	var entries []Entry
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if path == root {
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		e := Entry{
			RelPath: rel,
			Name:    name,
			Depth:   strings.Count(rel, "/") + 1,
		}
		if d.IsDir() {
			e.Kind = KindDir
		} else {
			e.Kind = KindFile
			info, err := d.Info()
			if err != nil {
				return nil
			}
			e.Size = info.Size()
			e.MTime = float64(info.ModTime().UnixNano()) / 1e9
		}
		entries = append(entries, e)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return entries, nil
}

func hasHiddenSegment(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
