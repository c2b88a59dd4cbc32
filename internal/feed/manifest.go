package feed

import (
	"fmt"
	"slices"

	"github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/appupdate/internal/appupdate"
)

// Manifest is the release list published at the root of a feed.
//
//	app: example
//	releases:
//	  - version: 1.2.0
//	    file: example-1.2.0.bin
//	    sha256: 9f86d0...
//	    notes_file: notes/1.2.0.html
type Manifest struct {
	App      string  `yaml:"app"`
	Releases []Entry `yaml:"releases"`
}

// Entry is one published release. Empty OS or Arch match every platform.
type Entry struct {
	Version   string `yaml:"version"`
	File      string `yaml:"file"`
	SHA256    string `yaml:"sha256"`
	Size      int64  `yaml:"size"`
	OS        string `yaml:"os"`
	Arch      string `yaml:"arch"`
	Notes     string `yaml:"notes"`
	NotesFile string `yaml:"notes_file"`
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	for i, e := range m.Releases {
		if e.Version == "" {
			return nil, fmt.Errorf("release %d: missing version", i)
		}
		if _, err := version.NewVersion(e.Version); err != nil {
			return nil, fmt.Errorf("release %d: %w", i, err)
		}
		if e.File == "" {
			return nil, fmt.Errorf("release %s: missing file", e.Version)
		}
	}
	return &m, nil
}

func (e Entry) matches(goos, goarch string) bool {
	return (e.OS == "" || e.OS == goos) && (e.Arch == "" || e.Arch == goarch)
}

// Pending returns the releases for goos/goarch newer than current, oldest
// first. With a nil current every matching release is pending. When a
// version is listed twice the first entry wins; unparseable versions are
// skipped.
func (m *Manifest) Pending(current *version.Version, goos, goarch string) []appupdate.Release {
	var out []appupdate.Release
	seen := make(map[string]bool)
	for _, e := range m.Releases {
		if !e.matches(goos, goarch) {
			continue
		}
		v, err := version.NewVersion(e.Version)
		if err != nil {
			continue
		}
		if current != nil && !v.GreaterThan(current) {
			continue
		}
		if seen[v.String()] {
			continue
		}
		seen[v.String()] = true
		out = append(out, e.release(v))
	}

	slices.SortStableFunc(out, func(a, b appupdate.Release) int {
		return a.Version.Compare(b.Version)
	})
	return out
}

// notesFiles maps each release version for goos/goarch to its notes document.
func (m *Manifest) notesFiles(goos, goarch string) map[string]string {
	files := make(map[string]string)
	for _, e := range m.Releases {
		if !e.matches(goos, goarch) {
			continue
		}
		v, err := version.NewVersion(e.Version)
		if err != nil || e.NotesFile == "" {
			continue
		}
		if _, ok := files[v.String()]; !ok {
			files[v.String()] = e.NotesFile
		}
	}
	return files
}

func (e Entry) release(v *version.Version) appupdate.Release {
	return appupdate.Release{
		Version:  v,
		Filename: e.File,
		SHA256:   e.SHA256,
		Size:     e.Size,
		Notes:    e.Notes,
	}
}
