// Package seed provides the initial dataset the donation service loads into
// empty collections at startup.
package seed

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	"sangue/internal/docstore"
)

//go:embed data/*.json
var embedded embed.FS

// Load reads "<collection>.json" for every named collection.
// When dir is empty the embedded dataset is used. A collection without a
// file gets no seed documents.
func Load(dir string, collections ...string) (map[string][]docstore.Document, error) {
	var fsys fs.FS
	if dir == "" {
		sub, err := fs.Sub(embedded, "data")
		if err != nil {
			return nil, fmt.Errorf("open embedded seeds: %w", err)
		}
		fsys = sub
	} else {
		fsys = os.DirFS(dir)
	}
	return load(fsys, collections)
}

func load(fsys fs.FS, collections []string) (map[string][]docstore.Document, error) {
	seeds := make(map[string][]docstore.Document, len(collections))
	for _, name := range collections {
		if name == "" {
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Clean(name+".json"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read seed %s: %w", name, err)
		}
		var docs []docstore.Document
		if err := json.Unmarshal(raw, &docs); err != nil {
			return nil, fmt.Errorf("decode seed %s: %w", name, err)
		}
		seeds[name] = docs
	}
	return seeds, nil
}
