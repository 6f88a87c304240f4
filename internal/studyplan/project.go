package studyplan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	perrors "github.com/p-blackswan/studyplan/internal/errors"
	"github.com/p-blackswan/studyplan/internal/plan"
	"github.com/p-blackswan/studyplan/internal/refine"
	"github.com/p-blackswan/studyplan/internal/render"
	"github.com/p-blackswan/studyplan/internal/state"
)

// ResolveDir maps a project reference to its directory. ref may be a path to
// a project directory, a directory name under the projects root, or anything
// the catalog resolves (id, unique id prefix, slug).
func (s *Service) ResolveDir(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", perrors.Validationf("empty project reference")
	}
	for _, candidate := range []string{ref, filepath.Join(s.root, ref)} {
		if isProjectDir(candidate) {
			return candidate, nil
		}
	}
	if s.catalog != nil {
		e, err := s.catalog.Resolve(ctx, ref)
		switch {
		case err == nil && isProjectDir(e.Dir):
			return e.Dir, nil
		case err == nil:
			s.logger.Warn().Str("project", e.ID).Str("dir", e.Dir).Msg("catalogued project directory is missing")
		case errors.Is(err, perrors.ErrValidation):
			return "", err
		case !errors.Is(err, perrors.ErrNotFound):
			s.logger.Warn().Err(err).Msg("catalog lookup failed, scanning projects root")
		}
	}
	return s.resolveByScan(ref)
}

func (s *Service) resolveByScan(ref string) (string, error) {
	entries, err := s.scan()
	if err != nil {
		return "", err
	}
	slug := plan.GenerateSlug(ref)
	var matches []string
	for _, e := range entries {
		if strings.HasPrefix(e.ID, ref) || (slug != "" && e.Slug == slug) {
			matches = append(matches, e.Dir)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("project %q: %w", ref, perrors.ErrNotFound)
	case 1:
		return matches[0], nil
	}
	return "", perrors.Validationf("project %q is ambiguous (%d matches)", ref, len(matches))
}

func isProjectDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, plan.ProjectFile))
	return err == nil && !info.IsDir()
}

// PlanView is a project with its statuses taken from state.json.
type PlanView struct {
	Project *plan.Project
	State   state.State
	Dir     string
	Notes   []string
}

// Completed returns the number of done units.
func (v *PlanView) Completed() int { return len(v.State.CompletedUnits) }

// ShowPlan loads a project and its progress. A missing or corrupt state file
// reads as no progress.
func (s *Service) ShowPlan(ctx context.Context, ref string) (*PlanView, error) {
	dir, p, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	st, notes := s.loadState(dir, p)
	return &PlanView{Project: render.ApplyState(p, st), State: st, Dir: dir, Notes: notes}, nil
}

// UnitOptions are the mutations ShowUnit may apply. Zero value only shows.
type UnitOptions struct {
	MarkDone       bool
	Start          bool
	Note           string
	RefineFeedback string
}

func (o UnitOptions) mutatesState() bool {
	return o.MarkDone || o.Start || o.Note != ""
}

// UnitView is one unit after any requested mutation.
type UnitView struct {
	Project  *plan.Project
	Unit     plan.Unit
	State    state.State
	Dir      string
	Path     string
	Refined  bool
	Retitled bool
	Notes    []string
}

// ShowUnit returns unit index, applying the requested refinement first and
// then the state mutations. Files are re-rendered when anything changed.
func (s *Service) ShowUnit(ctx context.Context, ref string, index int, opts UnitOptions) (*UnitView, error) {
	dir, p, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := p.CheckIndex(index); err != nil {
		return nil, err
	}
	view := &UnitView{Dir: dir, Path: filepath.Join(dir, plan.UnitsDir, plan.UnitFileName(index))}

	if fb := strings.TrimSpace(opts.RefineFeedback); fb != "" {
		res, err := s.refiner(p).Refine(ctx, dir, p, index, fb)
		if err != nil {
			return nil, err
		}
		p = res.Project
		view.Refined = true
		view.Retitled = res.Retitled
		if res.Notes != "" {
			view.Notes = append(view.Notes, res.Notes)
		}
	}

	st, notes := s.loadState(dir, p)
	view.Notes = append(view.Notes, notes...)

	if opts.mutatesState() {
		if opts.Start {
			if st, err = state.MarkInProgress(st, index); err != nil {
				return nil, err
			}
		}
		if opts.Note != "" {
			if st, err = state.SetNote(st, index, opts.Note); err != nil {
				return nil, err
			}
		}
		if opts.MarkDone {
			if st, err = state.MarkDone(st, index); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := state.Save(dir, st); err != nil {
			return nil, err
		}
		p = render.ApplyState(p, st)
		if err := plan.Save(dir, p); err != nil {
			return nil, err
		}
		if err := s.rendererFor(p).Render(dir, p, st); err != nil {
			return nil, err
		}
	}
	if view.Refined || opts.mutatesState() {
		s.touch(ctx, p, dir)
	}

	p = render.ApplyState(p, st)
	u, err := p.Unit(index)
	if err != nil {
		return nil, err
	}
	view.Project = p
	view.Unit = u
	view.State = st
	return view, nil
}

// Sync re-applies state.json to every rendered file.
func (s *Service) Sync(ctx context.Context, ref string) (*render.SyncResult, error) {
	dir, p, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	res, err := s.rendererFor(p).SyncWithState(dir)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, res.Project, dir)
	return res, nil
}

// History lists the refinement snapshots of one unit, oldest first.
func (s *Service) History(ctx context.Context, ref string, index int) ([]refine.Snapshot, error) {
	dir, p, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := p.CheckIndex(index); err != nil {
		return nil, err
	}
	return refine.History(dir, index)
}

// Rollback restores a unit to its newest snapshot.
func (s *Service) Rollback(ctx context.Context, ref string, index int) (*refine.Result, error) {
	dir, p, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	res, err := s.refiner(p).Rollback(ctx, dir, p, index)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, res.Project, dir)
	return res, nil
}

func (s *Service) load(ctx context.Context, ref string) (string, *plan.Project, error) {
	dir, err := s.ResolveDir(ctx, ref)
	if err != nil {
		return "", nil, err
	}
	p, err := plan.Load(dir)
	if err != nil {
		return "", nil, err
	}
	return dir, p, nil
}

// loadState reads state.json softly and fits it to p.
func (s *Service) loadState(dir string, p *plan.Project) (state.State, []string) {
	var notes []string
	loaded := state.Load(dir)
	if loaded.Note != "" {
		s.logger.Warn().Str("dir", dir).Msg(loaded.Note)
		notes = append(notes, loaded.Note)
	}
	st, note := state.Reconcile(loaded.State, p.UnitCount())
	if note != "" && !loaded.Recovered {
		s.logger.Info().Str("dir", dir).Msg(note)
		notes = append(notes, note)
	}
	if st.ProjectID == "" {
		st.ProjectID = p.ID
	}
	return st, notes
}

func (s *Service) refiner(p *plan.Project) *refine.Engine {
	return refine.New(s.generator, s.rendererFor(p), s.base,
		refine.WithRecorder(s.metrics),
		refine.WithClock(s.now),
	)
}
