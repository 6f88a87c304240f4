package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	perrors "github.com/p-blackswan/studyplan/internal/errors"
	"github.com/p-blackswan/studyplan/internal/fsutil"
)

// File names inside a project directory.
const (
	ProjectFile = "project.json"
	StateFile   = "state.json"
	TOCFile     = "toc.md"
	ReadmeFile  = "README.md"
	UnitsDir    = "units"
	BackupDir   = ".refinement_backups"
)

// UnitFileName returns the rendered file name for a unit index.
func UnitFileName(index int) string {
	return fmt.Sprintf("unit%02d.md", index)
}

// Save writes project.json atomically into dir.
func Save(dir string, p *Project) error {
	if err := fsutil.WriteJSONAtomic(filepath.Join(dir, ProjectFile), p); err != nil {
		return perrors.Persistence("save project", err)
	}
	return nil
}

// Load reads project.json from dir.
func Load(dir string) (*Project, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ProjectFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no project in %s: %w", dir, perrors.ErrNotFound)
		}
		return nil, perrors.Persistence("load project", err)
	}
	var p Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ProjectFile, err)
	}
	for i := range p.Units {
		if p.Units[i].Index != i+1 {
			return nil, fmt.Errorf("decode %s: unit at position %d has index %d", ProjectFile, i+1, p.Units[i].Index)
		}
	}
	return &p, nil
}
