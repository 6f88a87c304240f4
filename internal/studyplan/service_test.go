package studyplan_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/studyplan/internal/catalog"
	"github.com/p-blackswan/studyplan/internal/config"
	perrors "github.com/p-blackswan/studyplan/internal/errors"
	"github.com/p-blackswan/studyplan/internal/llm"
	"github.com/p-blackswan/studyplan/internal/plan"
	"github.com/p-blackswan/studyplan/internal/render"
	"github.com/p-blackswan/studyplan/internal/state"
	"github.com/p-blackswan/studyplan/internal/studyplan"
)

// stageProvider answers each generation stage with a canned reply.
type stageProvider struct {
	mu    sync.Mutex
	calls int
}

const (
	scaffoldReply = `{"units":[
		{"title":"What is a graph","description":"Vertices and edges","learning_objectives":["Define a graph","Draw small graphs"],"estimated_duration":"1 hour"},
		{"title":"Paths and cycles","description":"Walking a graph","learning_objectives":["Find a path between two vertices"],"estimated_duration":"2 hours"},
		{"title":"Trees","description":"Acyclic graphs","learning_objectives":["Recognise a tree"],"estimated_duration":"2 hours"},
		{"title":"Colouring","description":"Chromatic number","learning_objectives":["Colour a planar map"],"estimated_duration":"3 hours"}
	]}`
	resourcesReply = `{"resources":[
		{"title":"Graph theory lecture","url":"https://video.example.com/graphs","type":"video","description":"Intro lecture","estimated_time":"20 min"},
		{"title":"Graph theory notes","url":"https://notes.example.com/graphs","type":"reading","description":"Course notes","estimated_time":"15 min"}
	]}`
	tasksReply = `{"tasks":[{"title":"Draw it","description":"Draw the graph of your friendships","type":"practice","estimated_time":"20 min"}]}`
)

func (p *stageProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	switch {
	case strings.Contains(req.SystemPrompt, "curriculum designer"):
		return &llm.CompletionResponse{Text: scaffoldReply}, nil
	case strings.Contains(req.SystemPrompt, "resource curator"):
		return &llm.CompletionResponse{Text: resourcesReply}, nil
	default:
		return &llm.CompletionResponse{Text: tasksReply}, nil
	}
}
func (p *stageProvider) Name() string    { return "stage" }
func (p *stageProvider) ModelID() string { return "stage-model" }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		ProjectsRoot:       root,
		LinkStyle:          config.LinkStyleMarkdown,
		Provider:           config.ProviderOffline,
		GatewayTimeout:     time.Second,
		MinVideo:           1,
		MinReading:         1,
		MaxResources:       5,
		TasksPerUnit:       1,
		MinUnits:           3,
		ContentConcurrency: 2,
		CatalogPath:        filepath.Join(root, ".studyplan", "catalog.db"),
	}
}

func newService(t *testing.T, cfg *config.Config, opts ...studyplan.Option) *studyplan.Service {
	t.Helper()
	svc, err := studyplan.New(cfg, zerolog.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestCreate_OfflineUsesFallbacks(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg)

	res, err := svc.Create(context.Background(), "graph theory", "pass the exam")
	require.NoError(t, err)
	assert.True(t, res.ScaffoldFallback)
	assert.NotEmpty(t, res.Notes)
	require.Equal(t, 3, res.Project.UnitCount())
	assert.Equal(t, filepath.Join(cfg.ProjectsRoot, res.Project.ID), res.Dir)
	assert.Equal(t, "Learn Graph Theory", res.Project.Title)
	assert.Equal(t, "markdown", res.Project.LinkStyle)

	for _, u := range res.Project.Units {
		assert.True(t, u.UsedFallback, "unit %d", u.Index)
		assert.Len(t, u.Tasks, 1)
		var videos, readings int
		for _, r := range u.Resources {
			switch r.Type {
			case plan.ResourceVideo:
				videos++
			case plan.ResourceReading:
				readings++
			}
		}
		assert.GreaterOrEqual(t, videos, 1)
		assert.GreaterOrEqual(t, readings, 1)
		assert.FileExists(t, filepath.Join(res.Dir, plan.UnitsDir, plan.UnitFileName(u.Index)))
	}
	assert.FileExists(t, filepath.Join(res.Dir, plan.TOCFile))

	assert.FileExists(t, filepath.Join(res.Dir, plan.ReadmeFile))

	loaded := state.Load(res.Dir)
	assert.False(t, loaded.Recovered)
	assert.Equal(t, 1, loaded.State.CurrentUnit)
	assert.Equal(t, 3, loaded.State.UnitCount)
	assert.Equal(t, res.Project.ID, loaded.State.ProjectID)

	// project.json, state.json and the rendered files agree from the start.
	saved, err := plan.Load(res.Dir)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusInProgress, saved.Units[0].Status)
	assert.Equal(t, plan.StatusNotStarted, saved.Units[1].Status)
	assert.Equal(t, plan.StatusInProgress, res.Project.Units[0].Status)
	toc, err := os.ReadFile(filepath.Join(res.Dir, plan.TOCFile))
	require.NoError(t, err)
	assert.Contains(t, string(toc), "| 1 | [Introduction to graph theory](units/unit01.md) | 🔄 In progress |")

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.Project.ID, list[0].ID)
}

func TestCreate_AIPath(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg, studyplan.WithProvider(&stageProvider{}))

	res, err := svc.Create(context.Background(), "graph theory", "")
	require.NoError(t, err)
	assert.False(t, res.ScaffoldFallback)
	assert.Empty(t, res.Notes)
	require.Equal(t, 4, res.Project.UnitCount())
	assert.Equal(t, "stage-model", res.Project.Model)

	titles := make([]string, 0, 4)
	for _, u := range res.Project.Units {
		titles = append(titles, u.Title)
		assert.False(t, u.UsedFallback)
		assert.Equal(t, "Graph theory lecture", u.Resources[0].Title)
	}
	assert.Equal(t, []string{"What is a graph", "Paths and cycles", "Trees", "Colouring"}, titles)

	toc, err := os.ReadFile(filepath.Join(res.Dir, plan.TOCFile))
	require.NoError(t, err)
	assert.Contains(t, string(toc), "[Colouring](units/unit04.md)")
}

func TestCreate_Validation(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg, studyplan.WithoutCatalog())

	_, err := svc.Create(context.Background(), "   ", "")
	assert.ErrorIs(t, err, perrors.ErrValidation)

	entries, err := os.ReadDir(cfg.ProjectsRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreate_CancelledWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg, studyplan.WithoutCatalog())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Create(ctx, "graph theory", "")
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(cfg.ProjectsRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestShowUnit_MarkDone(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg)
	ctx := context.Background()
	created, err := svc.Create(ctx, "graph theory", "")
	require.NoError(t, err)

	view, err := svc.ShowUnit(ctx, created.Project.ID, 1, studyplan.UnitOptions{MarkDone: true, Note: "easy"})
	require.NoError(t, err)
	assert.Equal(t, plan.StatusDone, view.Unit.Status)
	assert.Equal(t, []int{1}, view.State.CompletedUnits)
	assert.Equal(t, 2, view.State.CurrentUnit)
	assert.Equal(t, "easy", view.State.Note(1))

	doc, err := os.ReadFile(view.Path)
	require.NoError(t, err)
	meta, body, err := render.ParseFrontMatter(doc)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusDone, meta.Status)
	assert.Contains(t, string(body), "easy")

	toc, err := os.ReadFile(filepath.Join(created.Dir, plan.TOCFile))
	require.NoError(t, err)
	assert.Contains(t, string(toc), "1/3 units complete")

	saved, err := plan.Load(created.Dir)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusDone, saved.Units[0].Status)
	assert.Equal(t, plan.StatusInProgress, saved.Units[1].Status)

	// Idempotent.
	again, err := svc.ShowUnit(ctx, created.Project.ID, 1, studyplan.UnitOptions{MarkDone: true})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, again.State.CompletedUnits)
}

func TestShowUnit_OutOfRange(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg)
	ctx := context.Background()
	created, err := svc.Create(ctx, "graph theory", "")
	require.NoError(t, err)

	_, err = svc.ShowUnit(ctx, created.Project.ID, 4, studyplan.UnitOptions{MarkDone: true})
	assert.ErrorIs(t, err, perrors.ErrValidation)
	loaded := state.Load(created.Dir)
	assert.Empty(t, loaded.State.CompletedUnits)
}

func TestShowUnit_RefineThenMarkDone(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg)
	ctx := context.Background()
	created, err := svc.Create(ctx, "graph theory", "")
	require.NoError(t, err)
	before := created.Project.Units[1]

	view, err := svc.ShowUnit(ctx, created.Project.ID, 2, studyplan.UnitOptions{
		RefineFeedback: "rename this unit to Deeper graph ideas",
		MarkDone:       true,
	})
	require.NoError(t, err)
	assert.True(t, view.Refined)
	assert.True(t, view.Retitled)
	assert.Equal(t, "Deeper graph ideas", view.Unit.Title)
	assert.Equal(t, plan.StatusDone, view.Unit.Status)

	history, err := svc.History(ctx, created.Project.ID, 2)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, before.Resources, history[0].PreviousUnit.Resources)
	assert.Equal(t, before.Title, history[0].PreviousUnit.Title)

	rolled, err := svc.Rollback(ctx, created.Project.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, before.Title, rolled.Unit.Title)

	saved, err := plan.Load(created.Dir)
	require.NoError(t, err)
	assert.Equal(t, before.Title, saved.Units[1].Title)
	assert.Equal(t, plan.StatusDone, saved.Units[1].Status, "rollback keeps progress")
}

func TestShowPlan_CorruptStateIsNoProgress(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg)
	ctx := context.Background()
	created, err := svc.Create(ctx, "graph theory", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(created.Dir, plan.StateFile), []byte("{not json"), 0o644))

	view, err := svc.ShowPlan(ctx, created.Project.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, view.Completed())
	assert.Len(t, view.Notes, 1)
	for _, u := range view.Project.Units {
		if u.Index == 1 {
			assert.Equal(t, plan.StatusInProgress, u.Status)
			continue
		}
		assert.Equal(t, plan.StatusNotStarted, u.Status)
	}

	synced, err := svc.Sync(ctx, created.Project.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, synced.Notes)
}

func TestResolveDir(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := newService(t, cfg, studyplan.WithClock(func() time.Time {
		now = now.Add(time.Minute)
		return now
	}))
	graph, err := svc.Create(ctx, "graph theory", "")
	require.NoError(t, err)
	rust, err := svc.Create(ctx, "rust lifetimes", "")
	require.NoError(t, err)

	dir, err := svc.ResolveDir(ctx, graph.Project.ID)
	require.NoError(t, err)
	assert.Equal(t, graph.Dir, dir)

	dir, err = svc.ResolveDir(ctx, "rust")
	require.NoError(t, err)
	assert.Equal(t, rust.Dir, dir)

	dir, err = svc.ResolveDir(ctx, "Graph Theory")
	require.NoError(t, err)
	assert.Equal(t, graph.Dir, dir)

	dir, err = svc.ResolveDir(ctx, graph.Dir)
	require.NoError(t, err)
	assert.Equal(t, graph.Dir, dir)

	_, err = svc.ResolveDir(ctx, "haskell")
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, rust.Project.ID, list[0].ID, "newest first")
}

func TestResolveDir_WithoutCatalogScansRoot(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	svc := newService(t, cfg, studyplan.WithoutCatalog())
	created, err := svc.Create(ctx, "graph theory", "")
	require.NoError(t, err)

	dir, err := svc.ResolveDir(ctx, "graph-theory")
	require.NoError(t, err)
	assert.Equal(t, created.Dir, dir)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, created.Project.ID, list[0].ID)
	assert.NoFileExists(t, cfg.CatalogDB())
}

type failingCatalog struct{}

func (failingCatalog) Upsert(context.Context, catalog.Entry) error {
	return assert.AnError
}
func (failingCatalog) List(context.Context) ([]catalog.Entry, error) { return nil, assert.AnError }
func (failingCatalog) Resolve(context.Context, string) (catalog.Entry, error) {
	return catalog.Entry{}, assert.AnError
}

func TestCatalogFailureDoesNotBlockFiles(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	svc := newService(t, cfg, studyplan.WithCatalog(failingCatalog{}))

	created, err := svc.Create(ctx, "graph theory", "")
	require.NoError(t, err)

	view, err := svc.ShowUnit(ctx, created.Project.ID, 1, studyplan.UnitOptions{Start: true})
	require.NoError(t, err)
	assert.Equal(t, plan.StatusInProgress, view.Unit.Status)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMetricsRecorded(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg, studyplan.WithoutCatalog())
	_, err := svc.Create(context.Background(), "graph theory", "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "studyplan.prom")
	require.NoError(t, svc.Metrics().WriteTextfile(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)
	assert.Contains(t, out, `studyplan_generation_total{source="fallback",stage="scaffold"} 1`)
	assert.Contains(t, out, `studyplan_renders_total{kind="toc"} 1`)
	assert.Contains(t, out, `studyplan_gateway_requests_total{outcome="unavailable",provider="offline"}`)
}
