package atlas

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/canonicalize"
)

// Loader reads atlas manifests and their pack content from a
// filesystem (an os directory tree, or an fstest/embed.FS in tests).
type Loader struct {
	fsys fs.FS
}

// NewLoader builds a Loader reading atlases rooted at fsys. Each
// atlas's base directory is a subtree of fsys; Load is given the
// relative path to that subtree's root.
func NewLoader(fsys fs.FS) *Loader {
	return &Loader{fsys: fsys}
}

// LoadError wraps a validation report or structural failure that
// makes a load fail atomically (§4.1: "Any error with severity error
// causes load to fail atomically").
type LoadError struct {
	BaseDir string
	Report  *ValidationReport
	Cause   error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("atlas: load %s: %v", e.BaseDir, e.Cause)
	}
	return fmt.Sprintf("atlas: load %s: manifest failed validation (%d issues)", e.BaseDir, len(e.Report.Issues))
}

func (e *LoadError) Unwrap() error { return e.Cause }

// Load reads atlas.json or atlas.yaml under baseDir, validates it, and
// reads each context pack's source file into memory. Pack file
// handles are released before Load returns (§5).
func (l *Loader) Load(baseDir string) (*Loaded, error) {
	manifest, err := l.readManifest(baseDir)
	if err != nil {
		return nil, &LoadError{BaseDir: baseDir, Cause: err}
	}

	report := Validate(manifest)
	if report.HasErrors() {
		return nil, &LoadError{BaseDir: baseDir, Report: report}
	}

	content := make(map[string][]byte, len(manifest.ContextPacks))
	contentHash := make(map[string]string, len(manifest.ContextPacks))
	for _, pack := range manifest.ContextPacks {
		data, err := fs.ReadFile(l.fsys, filepath.ToSlash(filepath.Join(baseDir, pack.Source)))
		if err != nil {
			return nil, &LoadError{BaseDir: baseDir, Cause: fmt.Errorf("read pack %s source %s: %w", pack.ID, pack.Source, err)}
		}
		content[pack.ID] = data
		contentHash[pack.ID] = canonicalize.HashBytes(data)
	}

	return &Loaded{
		Manifest:    *manifest,
		Content:     content,
		ContentHash: contentHash,
		Ref:         manifest.Ref(),
		LoadedAt:    time.Now().UTC(),
	}, nil
}

func (l *Loader) readManifest(baseDir string) (*Manifest, error) {
	for _, name := range []string{"atlas.json", "atlas.yaml", "atlas.yml"} {
		path := filepath.ToSlash(filepath.Join(baseDir, name))
		data, err := fs.ReadFile(l.fsys, path)
		if err != nil {
			continue
		}
		var m Manifest
		if filepath.Ext(name) == ".json" {
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
		} else {
			if err := yaml.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
		}
		return &m, nil
	}
	return nil, fmt.Errorf("no atlas.json or atlas.yaml found under %s", baseDir)
}
