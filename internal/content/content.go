// Package content fills a unit with curated resources and engage tasks. Each
// sub-generator tries the model first and falls back to deterministic content.
package content

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/p-blackswan/studyplan/internal/plan"
)

// Generation stages and sources, used for logging and metrics labels.
const (
	StageResources = "resources"
	StageTasks     = "tasks"

	SourceAI       = "ai"
	SourceFallback = "fallback"
)

// Bounds constrains generated content.
type Bounds struct {
	MinVideo     int
	MinReading   int
	MaxResources int
	TasksPerUnit int
}

// DefaultBounds returns 1 video, 1 reading, at most 5 resources and 1 task.
func DefaultBounds() Bounds {
	return Bounds{MinVideo: 1, MinReading: 1, MaxResources: 5, TasksPerUnit: 1}
}

func (b Bounds) normalized() Bounds {
	if b.MinVideo < 0 {
		b.MinVideo = 0
	}
	if b.MinReading < 0 {
		b.MinReading = 0
	}
	if b.MaxResources < b.MinVideo+b.MinReading {
		b.MaxResources = b.MinVideo + b.MinReading
	}
	if b.TasksPerUnit < 1 {
		b.TasksPerUnit = 1
	}
	return b
}

// Request is the input to one unit's generation.
type Request struct {
	Unit     plan.Unit
	Topic    string
	Feedback string // extra context from refinement; empty on first generation
}

// GeneratedContent is the result contract of Populate. GenerationSuccess is
// true only when both sub-generators used the model without top-ups.
type GeneratedContent struct {
	Resources         []plan.Resource
	Tasks             []plan.Task
	GenerationSuccess bool
	GenerationNotes   string
}

// Apply returns a copy of u carrying this content.
func (c GeneratedContent) Apply(u plan.Unit) plan.Unit {
	out := u.Clone()
	out.Resources = append([]plan.Resource(nil), c.Resources...)
	out.Tasks = append([]plan.Task(nil), c.Tasks...)
	out.UsedFallback = !c.GenerationSuccess
	return out
}

// Recorder receives one call per sub-generator run.
type Recorder interface {
	RecordGeneration(stage, source string)
}

type nopRecorder struct{}

func (nopRecorder) RecordGeneration(string, string) {}

// Generator composes a ResourceCurator and a TaskGenerator.
type Generator struct {
	resources   ResourceCurator
	tasks       TaskGenerator
	concurrency int
	recorder    Recorder
	logger      zerolog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithConcurrency bounds PopulateMany fan-out; 1 means strictly sequential.
func WithConcurrency(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

func WithRecorder(r Recorder) GeneratorOption {
	return func(g *Generator) {
		if r != nil {
			g.recorder = r
		}
	}
}

// NewGenerator creates a Generator.
func NewGenerator(resources ResourceCurator, tasks TaskGenerator, logger zerolog.Logger, opts ...GeneratorOption) *Generator {
	g := &Generator{
		resources:   resources,
		tasks:       tasks,
		concurrency: 1,
		recorder:    nopRecorder{},
		logger:      logger.With().Str("component", "content.generator").Logger(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Populate generates content for one unit. It never fails.
func (g *Generator) Populate(ctx context.Context, req Request) GeneratedContent {
	res := g.resources.Curate(ctx, req)
	tasks := g.tasks.Generate(ctx, req)
	g.recorder.RecordGeneration(StageResources, source(res.UsedFallback))
	g.recorder.RecordGeneration(StageTasks, source(tasks.UsedFallback))

	var notes []string
	if res.Note != "" {
		notes = append(notes, "resources: "+res.Note)
	}
	if tasks.Note != "" {
		notes = append(notes, "tasks: "+tasks.Note)
	}
	out := GeneratedContent{
		Resources:         res.Resources,
		Tasks:             tasks.Tasks,
		GenerationSuccess: !res.UsedFallback && !tasks.UsedFallback,
		GenerationNotes:   strings.Join(notes, "; "),
	}
	if !out.GenerationSuccess {
		g.logger.Warn().
			Int("unit", req.Unit.Index).
			Bool("resources_fallback", res.UsedFallback).
			Bool("tasks_fallback", tasks.UsedFallback).
			Str("notes", out.GenerationNotes).
			Msg("unit content used fallback")
	}
	return out
}

// PopulateMany generates content for every unit. Results are in the order of
// units regardless of completion order. Only cancellation of ctx is an error.
func (g *Generator) PopulateMany(ctx context.Context, topic string, units []plan.Unit) ([]GeneratedContent, error) {
	results := make([]GeneratedContent, len(units))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, u := range units {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			results[i] = g.Populate(egCtx, Request{Unit: u, Topic: topic})
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func source(usedFallback bool) string {
	if usedFallback {
		return SourceFallback
	}
	return SourceAI
}
