// Package sourcefile loads a task's candidate sources from YAML.
//
//	task_id: climate-2024
//	sources:
//	  - id: nyt-climate
//	    name: NYT Climate
//	    url: https://rss.nytimes.com/services/xml/rss/nyt/Climate.xml
//	    kind: rss
//	  - name: Carbon Brief
//	    url: https://www.carbonbrief.org
//	    selected: false
package sourcefile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/content-collector/internal/collector"
	"github.com/JakeFAU/content-collector/internal/hash/sha256"
)

var (
	// ErrNoSources indicates the file lists no sources.
	ErrNoSources = errors.New("no sources found in file")
	// ErrMissingURL indicates a source without a url.
	ErrMissingURL = errors.New("source url is required")
)

// File is a parsed source list.
type File struct {
	TaskID  string
	Sources []collector.Source
}

type fileDoc struct {
	TaskID  string      `yaml:"task_id"`
	Sources []sourceDoc `yaml:"sources"`
}

// sourceDoc mirrors collector.Source; selected defaults to true when absent.
type sourceDoc struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Kind     string `yaml:"kind"`
	Selected *bool  `yaml:"selected"`
}

// Load reads and parses path.
func Load(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open source file: %w", err)
	}
	defer f.Close()
	file, err := Parse(f)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// Parse decodes a source list. Sources without an id get one derived from
// their url, and duplicate ids are rejected.
func Parse(r io.Reader) (File, error) {
	var doc fileDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, ErrNoSources
		}
		return File{}, fmt.Errorf("decode source file: %w", err)
	}
	if len(doc.Sources) == 0 {
		return File{}, ErrNoSources
	}

	hasher := sha256.New()
	seen := make(map[string]int, len(doc.Sources))
	out := File{TaskID: doc.TaskID, Sources: make([]collector.Source, 0, len(doc.Sources))}
	for i, s := range doc.Sources {
		if s.URL == "" {
			return File{}, fmt.Errorf("source %d: %w", i+1, ErrMissingURL)
		}
		id := s.ID
		if id == "" {
			sum, err := hasher.Hash([]byte(s.URL))
			if err != nil {
				return File{}, fmt.Errorf("source %d: %w", i+1, err)
			}
			id = sum[:12]
		}
		if prev, dup := seen[id]; dup {
			return File{}, fmt.Errorf("source %d: id %q already used by source %d", i+1, id, prev)
		}
		seen[id] = i + 1
		selected := true
		if s.Selected != nil {
			selected = *s.Selected
		}
		out.Sources = append(out.Sources, collector.Source{
			ID:       id,
			TaskID:   doc.TaskID,
			Name:     s.Name,
			URL:      s.URL,
			Kind:     collector.ParseSourceKind(s.Kind),
			Selected: selected,
			Status:   collector.StatusUnknown,
		})
	}
	return out, nil
}
