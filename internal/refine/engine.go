// Package refine regenerates the content of one existing unit from user
// feedback. Every overwrite is preceded by a snapshot in the project's
// append-only backup log, which also drives history and rollback.
package refine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/studyplan/internal/content"
	perrors "github.com/p-blackswan/studyplan/internal/errors"
	"github.com/p-blackswan/studyplan/internal/plan"
	"github.com/p-blackswan/studyplan/internal/state"
)

// Refinement outcomes, used as metrics labels.
const (
	ResultApplied    = "applied"
	ResultFailed     = "failed"
	ResultRolledBack = "rolled_back"
)

// RollbackFeedback is the feedback recorded on the snapshot a rollback takes.
const RollbackFeedback = "rollback"

// Regenerator produces fresh content for one unit. *content.Generator
// satisfies it.
type Regenerator interface {
	Populate(ctx context.Context, req content.Request) content.GeneratedContent
}

// Renderer rewrites the project's Markdown. *render.Renderer satisfies it.
type Renderer interface {
	Render(dir string, p *plan.Project, st state.State) error
	RenderUnitAndTOC(dir string, p *plan.Project, st state.State, index int) error
}

// Recorder counts refinement outcomes.
type Recorder interface {
	RecordRefinement(result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRefinement(string) {}

// Result describes one completed refinement or rollback.
type Result struct {
	Project  *plan.Project
	Unit     plan.Unit
	Snapshot Snapshot
	Retitled bool
	Notes    string
}

// Engine runs Snapshot, Regenerate, Merge and Persist for one unit.
type Engine struct {
	gen      Regenerator
	renderer Renderer
	recorder Recorder
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the snapshot timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// New creates an Engine.
func New(gen Regenerator, renderer Renderer, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		gen:      gen,
		renderer: renderer,
		recorder: nopRecorder{},
		now:      time.Now,
		logger:   logger.With().Str("component", "refine.engine").Logger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Refine regenerates unit index of p, stored in dir, using feedback plus the
// feedback of the unit's earlier refinements as extra context. Resources and
// tasks are replaced wholesale. p itself is not
// modified; the updated project is returned.
func (e *Engine) Refine(ctx context.Context, dir string, p *plan.Project, index int, feedback string) (*Result, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, perrors.Validationf("refinement feedback is empty")
	}
	current, err := p.Unit(index)
	if err != nil {
		return nil, err
	}

	backups := OpenBackupLog(dir)
	prior, err := backups.ForUnit(index)
	if err != nil {
		e.logger.Warn().Err(err).Int("unit", index).Msg("earlier feedback unreadable, refining without it")
	}

	snap := Snapshot{
		ID:           uuid.NewString(),
		UnitIndex:    index,
		Timestamp:    e.now().UTC(),
		Feedback:     feedback,
		PreviousUnit: current,
	}
	if err := backups.Append(snap); err != nil {
		e.recorder.RecordRefinement(ResultFailed)
		return nil, fmt.Errorf("refine unit %d: %w", index, err)
	}

	generated := e.gen.Populate(ctx, content.Request{
		Unit:     current,
		Topic:    p.Topic,
		Feedback: AccumulateFeedback(prior, feedback),
	})
	if err := ctx.Err(); err != nil {
		e.recorder.RecordRefinement(ResultFailed)
		return nil, err
	}

	updated := generated.Apply(current)
	title, retitled := RetitleFromFeedback(feedback)
	if retitled {
		updated.Title = title
	}

	next, err := e.persist(dir, p, updated, retitled)
	if err != nil {
		e.recorder.RecordRefinement(ResultFailed)
		return nil, err
	}
	e.recorder.RecordRefinement(ResultApplied)
	e.logger.Info().
		Str("project", p.ID).
		Int("unit", index).
		Str("snapshot", snap.ID).
		Bool("retitled", retitled).
		Bool("used_fallback", updated.UsedFallback).
		Msg("unit refined")

	return &Result{
		Project:  next,
		Unit:     updated,
		Snapshot: snap,
		Retitled: retitled,
		Notes:    generated.GenerationNotes,
	}, nil
}

// Rollback restores unit index to the newest snapshot recorded for it. The
// unit being replaced is snapshotted first, so a rollback can itself be
// rolled back.
func (e *Engine) Rollback(ctx context.Context, dir string, p *plan.Project, index int) (*Result, error) {
	current, err := p.Unit(index)
	if err != nil {
		return nil, err
	}
	backups := OpenBackupLog(dir)
	history, err := backups.ForUnit(index)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("no snapshots for unit %d: %w", index, perrors.ErrNotFound)
	}
	target := history[len(history)-1]

	snap := Snapshot{
		ID:           uuid.NewString(),
		UnitIndex:    index,
		Timestamp:    e.now().UTC(),
		Feedback:     RollbackFeedback,
		PreviousUnit: current,
	}
	if err := backups.Append(snap); err != nil {
		e.recorder.RecordRefinement(ResultFailed)
		return nil, fmt.Errorf("rollback unit %d: %w", index, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	restored := target.PreviousUnit.Clone()
	restored.Index = index
	restored.Status = current.Status

	next, err := e.persist(dir, p, restored, restored.Title != current.Title)
	if err != nil {
		e.recorder.RecordRefinement(ResultFailed)
		return nil, err
	}
	e.recorder.RecordRefinement(ResultRolledBack)
	e.logger.Info().
		Str("project", p.ID).
		Int("unit", index).
		Str("restored_from", target.ID).
		Msg("unit rolled back")

	return &Result{Project: next, Unit: restored, Snapshot: snap}, nil
}

// History lists the snapshots of unit index stored in dir, oldest first.
func History(dir string, index int) ([]Snapshot, error) {
	return OpenBackupLog(dir).ForUnit(index)
}

// persist saves project.json and re-renders. A title change touches the
// navigation links of neighbouring units, so it re-renders everything.
func (e *Engine) persist(dir string, p *plan.Project, u plan.Unit, fullRender bool) (*plan.Project, error) {
	next := *p
	next.Units = append([]plan.Unit(nil), p.Units...)
	if err := next.ReplaceUnit(u); err != nil {
		return nil, err
	}
	if err := plan.Save(dir, &next); err != nil {
		return nil, err
	}

	loaded := state.Load(dir)
	if loaded.Note != "" {
		e.logger.Warn().Str("dir", dir).Msg(loaded.Note)
	}
	st, _ := state.Reconcile(loaded.State, next.UnitCount())

	var err error
	if fullRender {
		err = e.renderer.Render(dir, &next, st)
	} else {
		err = e.renderer.RenderUnitAndTOC(dir, &next, st, u.Index)
	}
	if err != nil {
		return nil, err
	}
	return &next, nil
}

var retitleRe = regexp.MustCompile(`(?i)(?:retitle|rename)(?: (?:it|this unit|the unit))? (?:to|as) ["']?(.+?)["']?$`)

// RetitleFromFeedback returns the new title when some line of feedback asks
// for one, e.g. `rename this unit to "Graph Basics"`.
func RetitleFromFeedback(feedback string) (string, bool) {
	for _, line := range strings.Split(feedback, "\n") {
		m := retitleRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		if title := strings.Trim(m[1], "\"' \t"); title != "" {
			return title, true
		}
	}
	return "", false
}
