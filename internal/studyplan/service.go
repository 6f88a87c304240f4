// Package studyplan wires the generation pipeline into the entry points the
// CLI exposes: create a project, show or update its units, sync, refine
// history and rollback, and list projects.
package studyplan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/studyplan/internal/catalog"
	"github.com/p-blackswan/studyplan/internal/config"
	"github.com/p-blackswan/studyplan/internal/content"
	perrors "github.com/p-blackswan/studyplan/internal/errors"
	"github.com/p-blackswan/studyplan/internal/llm"
	"github.com/p-blackswan/studyplan/internal/metrics"
	"github.com/p-blackswan/studyplan/internal/plan"
	"github.com/p-blackswan/studyplan/internal/render"
	"github.com/p-blackswan/studyplan/internal/scaffold"
	"github.com/p-blackswan/studyplan/internal/state"
)

const stageScaffold = "scaffold"

// Catalog is the project index. *catalog.Store satisfies it.
type Catalog interface {
	Upsert(ctx context.Context, e catalog.Entry) error
	List(ctx context.Context) ([]catalog.Entry, error)
	Resolve(ctx context.Context, ref string) (catalog.Entry, error)
}

// Service implements every CLI entry point against one projects root.
type Service struct {
	root       string
	linkStyle  render.LinkStyle
	model      string
	scaffolder scaffold.Scaffolder
	generator  *content.Generator
	catalog    Catalog
	closer     func() error
	metrics    *metrics.Metrics
	now        func() time.Time
	base       zerolog.Logger
	logger     zerolog.Logger
}

type options struct {
	provider   llm.Provider
	scaffolder scaffold.Scaffolder
	catalog    Catalog
	noCatalog  bool
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Service.
type Option func(*options)

// WithProvider replaces the provider selected from config.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithScaffolder replaces the AI scaffolder.
func WithScaffolder(s scaffold.Scaffolder) Option {
	return func(o *options) { o.scaffolder = s }
}

// WithCatalog uses c instead of opening the configured catalog database.
func WithCatalog(c Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithoutCatalog disables the catalog; projects resolve by directory only.
func WithoutCatalog() Option {
	return func(o *options) { o.noCatalog = true }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds a Service from cfg. A catalog that cannot be opened is logged
// and skipped.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Service, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	provider := o.provider
	if provider == nil {
		p, err := llm.NewProvider(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("selecting provider: %w", err)
		}
		provider = p
	}
	gateway := llm.NewGateway(provider, logger,
		llm.WithTimeout(cfg.GatewayTimeout),
		llm.WithObserver(o.metrics),
	)

	bounds := content.Bounds{
		MinVideo:     cfg.MinVideo,
		MinReading:   cfg.MinReading,
		MaxResources: cfg.MaxResources,
		TasksPerUnit: cfg.TasksPerUnit,
	}
	generator := content.NewGenerator(
		content.NewAICurator(gateway, bounds, logger),
		content.NewAITaskGenerator(gateway, cfg.TasksPerUnit, logger),
		logger,
		content.WithConcurrency(cfg.ContentConcurrency),
		content.WithRecorder(o.metrics),
	)

	scaffolder := o.scaffolder
	if scaffolder == nil {
		scaffolder = scaffold.NewAI(gateway, cfg.MinUnits, logger)
	}

	s := &Service{
		root:       cfg.ExpandedProjectsRoot(),
		linkStyle:  render.LinkStyle(cfg.LinkStyle),
		model:      provider.ModelID(),
		scaffolder: scaffolder,
		generator:  generator,
		metrics:    o.metrics,
		now:        o.now,
		base:       logger,
		logger:     logger.With().Str("component", "studyplan.service").Logger(),
	}

	switch {
	case o.catalog != nil:
		s.catalog = o.catalog
	case !o.noCatalog:
		store, err := catalog.Open(cfg.CatalogDB(), logger)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", cfg.CatalogDB()).Msg("catalog unavailable, resolving projects by directory")
			break
		}
		s.catalog = store
		s.closer = store.Close
	}
	return s, nil
}

// Close releases the catalog if the Service opened it.
func (s *Service) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

// Metrics returns the metrics the Service records into.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// Root returns the expanded projects root.
func (s *Service) Root() string { return s.root }

// CreateResult describes a freshly generated project.
type CreateResult struct {
	Project          *plan.Project
	Dir              string
	ScaffoldFallback bool
	Notes            []string
}

// Create scaffolds a plan for topic, populates every unit, and writes the
// project directory. Nothing is written if ctx is cancelled first.
func (s *Service) Create(ctx context.Context, topic, motivation string) (*CreateResult, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, perrors.Validationf("topic is empty")
	}
	motivation = strings.TrimSpace(motivation)

	sc := s.scaffolder.Scaffold(ctx, topic, motivation)
	scaffoldFallback := sc.UsedFallback || sc.Note != ""
	s.metrics.RecordGeneration(stageScaffold, source(scaffoldFallback))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(sc.Units) == 0 {
		sc = scaffold.Fallback{}.Scaffold(ctx, topic, motivation)
	}

	p := plan.New(topic, motivation, sc.Units, s.now())
	p.Model = s.model
	p.LinkStyle = string(s.linkStyle)

	generated, err := s.generator.PopulateMany(ctx, topic, p.Units)
	if err != nil {
		return nil, err
	}
	res := &CreateResult{ScaffoldFallback: scaffoldFallback}
	if sc.Note != "" {
		res.Notes = append(res.Notes, sc.Note)
	}
	for i, g := range generated {
		p.Units[i] = g.Apply(p.Units[i])
		if g.GenerationNotes != "" {
			res.Notes = append(res.Notes, fmt.Sprintf("unit %d: %s", i+1, g.GenerationNotes))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.root, p.ID)
	st := state.Empty(p.UnitCount())
	st.ProjectID = p.ID
	p = render.ApplyState(p, st)
	if err := plan.Save(dir, p); err != nil {
		return nil, err
	}
	if err := state.Save(dir, st); err != nil {
		return nil, err
	}
	if err := s.rendererFor(p).Render(dir, p, st); err != nil {
		return nil, err
	}
	s.touch(ctx, p, dir)

	s.logger.Info().
		Str("project", p.ID).
		Str("dir", dir).
		Int("units", p.UnitCount()).
		Bool("scaffold_fallback", res.ScaffoldFallback).
		Msg("project created")
	res.Project = p
	res.Dir = dir
	return res, nil
}

// List returns every known project, newest first. Without a catalog the
// projects root is scanned.
func (s *Service) List(ctx context.Context) ([]catalog.Entry, error) {
	if s.catalog != nil {
		entries, err := s.catalog.List(ctx)
		if err == nil {
			return entries, nil
		}
		s.logger.Warn().Err(err).Msg("catalog list failed, scanning projects root")
	}
	return s.scan()
}

func (s *Service) scan() ([]catalog.Entry, error) {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, perrors.Persistence("scan projects root", err)
	}
	var out []catalog.Entry
	for _, d := range dirs {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		dir := filepath.Join(s.root, d.Name())
		p, err := plan.Load(dir)
		if err != nil {
			continue
		}
		out = append(out, catalog.EntryFor(p, dir, p.CreatedAt))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// touch records p in the catalog. Failures only log: files are authoritative.
func (s *Service) touch(ctx context.Context, p *plan.Project, dir string) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.Upsert(ctx, catalog.EntryFor(p, dir, s.now().UTC())); err != nil {
		s.logger.Warn().Err(err).Str("project", p.ID).Msg("catalog update failed")
	}
}

// rendererFor keeps a project in the link style it was created with.
func (s *Service) rendererFor(p *plan.Project) *render.Renderer {
	style := s.linkStyle
	if p.LinkStyle != "" {
		style = render.LinkStyle(p.LinkStyle)
	}
	return render.New(style, s.base).WithRecorder(s.metrics)
}

func source(usedFallback bool) string {
	if usedFallback {
		return content.SourceFallback
	}
	return content.SourceAI
}
