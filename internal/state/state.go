// Package state is the authoritative record of unit completion and notes.
// It is independent of the rendered Markdown.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	perrors "github.com/p-blackswan/studyplan/internal/errors"
	"github.com/p-blackswan/studyplan/internal/fsutil"
	"github.com/p-blackswan/studyplan/internal/plan"
)

// State is the progress record of one project. Values are treated as
// immutable: every mutation returns a new State.
type State struct {
	ProjectID      string         `json:"project_id,omitempty"`
	UnitCount      int            `json:"unit_count"`
	CurrentUnit    int            `json:"current_unit"`
	CompletedUnits []int          `json:"completed_units"`
	Notes          map[int]string `json:"notes"`
}

// Empty returns the "no progress yet" state.
func Empty(unitCount int) State {
	return State{UnitCount: unitCount, CurrentUnit: 1, CompletedUnits: []int{}, Notes: map[int]string{}}
}

// IsDone reports whether index is in the completed set.
func (s State) IsDone(index int) bool {
	i := sort.SearchInts(s.CompletedUnits, index)
	return i < len(s.CompletedUnits) && s.CompletedUnits[i] == index
}

// StatusOf derives a unit's displayed status.
func (s State) StatusOf(index int) plan.Status {
	switch {
	case s.IsDone(index):
		return plan.StatusDone
	case index == s.CurrentUnit:
		return plan.StatusInProgress
	default:
		return plan.StatusNotStarted
	}
}

// Note returns the note for index, if any.
func (s State) Note(index int) string { return s.Notes[index] }

func (s State) clone() State {
	c := s
	c.CompletedUnits = append([]int{}, s.CompletedUnits...)
	c.Notes = make(map[int]string, len(s.Notes))
	for k, v := range s.Notes {
		c.Notes[k] = v
	}
	return c
}

func (s State) check(index int) error {
	if index < 1 || index > s.UnitCount {
		return perrors.Validationf("unit %d out of range [1, %d]", index, s.UnitCount)
	}
	return nil
}

// MarkDone adds index to the completed set and moves current_unit to the
// next unfinished unit. Marking a done unit again returns an equal State.
func MarkDone(s State, index int) (State, error) {
	if err := s.check(index); err != nil {
		return s, err
	}
	if s.IsDone(index) {
		return s, nil
	}
	next := s.clone()
	next.CompletedUnits = append(next.CompletedUnits, index)
	sort.Ints(next.CompletedUnits)
	if next.CurrentUnit == index {
		next = Advance(next)
	}
	return next, nil
}

// MarkInProgress makes index the current unit.
func MarkInProgress(s State, index int) (State, error) {
	if err := s.check(index); err != nil {
		return s, err
	}
	next := s.clone()
	next.CurrentUnit = index
	return next, nil
}

// SetNote stores text for index; empty text removes the note.
func SetNote(s State, index int, text string) (State, error) {
	if err := s.check(index); err != nil {
		return s, err
	}
	next := s.clone()
	if text == "" {
		delete(next.Notes, index)
	} else {
		next.Notes[index] = text
	}
	return next, nil
}

// Advance moves current_unit to the first unit that is not done. When every
// unit is done it stays on the last one.
func Advance(s State) State {
	next := s.clone()
	for i := 1; i <= s.UnitCount; i++ {
		if !s.IsDone(i) {
			next.CurrentUnit = i
			return next
		}
	}
	if s.UnitCount > 0 {
		next.CurrentUnit = s.UnitCount
	}
	return next
}

// Reconcile fits a loaded state to a project with unitCount units, dropping
// out-of-range indices. The returned note is empty when nothing changed.
func Reconcile(s State, unitCount int) (State, string) {
	next := s.clone()
	next.UnitCount = unitCount
	dropped := 0

	kept := next.CompletedUnits[:0]
	seen := map[int]bool{}
	for _, i := range next.CompletedUnits {
		if i < 1 || i > unitCount || seen[i] {
			dropped++
			continue
		}
		seen[i] = true
		kept = append(kept, i)
	}
	next.CompletedUnits = kept
	sort.Ints(next.CompletedUnits)

	for i := range next.Notes {
		if i < 1 || i > unitCount {
			delete(next.Notes, i)
			dropped++
		}
	}
	if next.CurrentUnit < 1 || next.CurrentUnit > unitCount {
		next = Advance(next)
		dropped++
	}
	if dropped == 0 && s.UnitCount == unitCount {
		return next, ""
	}
	return next, fmt.Sprintf("state reconciled to %d units (%d entries adjusted)", unitCount, dropped)
}

// LoadResult is the soft-failing outcome of Load.
type LoadResult struct {
	State     State
	Recovered bool   // the file was missing or unreadable and Empty was used
	Note      string // warning text when Recovered because of corruption
}

// fileState is the on-disk form. Note keys are decoded by hand so a bad key
// is reported as corruption with a readable message.
type fileState struct {
	ProjectID      string            `json:"project_id,omitempty"`
	UnitCount      int               `json:"unit_count"`
	CurrentUnit    int               `json:"current_unit"`
	CompletedUnits []int             `json:"completed_units"`
	Notes          map[string]string `json:"notes"`
}

// Load reads state.json from dir. A missing file yields Empty; a corrupt one
// yields Empty plus a warning note. Neither is an error.
func Load(dir string) LoadResult {
	raw, err := os.ReadFile(filepath.Join(dir, plan.StateFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return LoadResult{State: Empty(0), Recovered: true}
		}
		return corrupt(fmt.Errorf("read: %w", err))
	}

	var fs fileState
	if err := json.Unmarshal(raw, &fs); err != nil {
		return corrupt(err)
	}
	s := State{
		ProjectID:      fs.ProjectID,
		UnitCount:      fs.UnitCount,
		CurrentUnit:    fs.CurrentUnit,
		CompletedUnits: append([]int{}, fs.CompletedUnits...),
		Notes:          map[int]string{},
	}
	for k, v := range fs.Notes {
		i, err := strconv.Atoi(k)
		if err != nil {
			return corrupt(fmt.Errorf("note key %q is not a unit index", k))
		}
		s.Notes[i] = v
	}
	sort.Ints(s.CompletedUnits)
	if s.CurrentUnit == 0 {
		s.CurrentUnit = 1
	}
	return LoadResult{State: s}
}

func corrupt(err error) LoadResult {
	return LoadResult{
		State:     Empty(0),
		Recovered: true,
		Note:      fmt.Sprintf("%v: %v; treating as no progress", perrors.ErrCorruptState, err),
	}
}

// Save writes state.json atomically.
func Save(dir string, s State) error {
	fs := fileState{
		ProjectID:      s.ProjectID,
		UnitCount:      s.UnitCount,
		CurrentUnit:    s.CurrentUnit,
		CompletedUnits: append([]int{}, s.CompletedUnits...),
		Notes:          make(map[string]string, len(s.Notes)),
	}
	sort.Ints(fs.CompletedUnits)
	for k, v := range s.Notes {
		fs.Notes[strconv.Itoa(k)] = v
	}
	if err := fsutil.WriteJSONAtomic(filepath.Join(dir, plan.StateFile), fs); err != nil {
		return perrors.Persistence("save state", err)
	}
	return nil
}
