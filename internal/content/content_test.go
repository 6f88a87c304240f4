package content_test

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/studyplan/internal/content"
	perrors "github.com/p-blackswan/studyplan/internal/errors"
	"github.com/p-blackswan/studyplan/internal/llm"
	"github.com/p-blackswan/studyplan/internal/plan"
	"github.com/p-blackswan/studyplan/internal/retry"
)

// routingProvider answers resource and task prompts separately.
type routingProvider struct {
	mu        sync.Mutex
	resources string
	tasks     string
	failTasks bool
	tasksFor  func(brief string) string
	delay     func(req llm.CompletionRequest) time.Duration
	seen      []string
}

func (p *routingProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if p.delay != nil {
		select {
		case <-time.After(p.delay(req)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	p.seen = append(p.seen, req.Messages[0].Content)
	p.mu.Unlock()
	if strings.Contains(req.SystemPrompt, "resource curator") {
		return &llm.CompletionResponse{Text: p.resources}, nil
	}
	if p.failTasks {
		return nil, perrors.NewAPIError("routing", 429, "quota")
	}
	if p.tasksFor != nil {
		return &llm.CompletionResponse{Text: p.tasksFor(req.Messages[0].Content)}, nil
	}
	return &llm.CompletionResponse{Text: p.tasks}, nil
}
func (p *routingProvider) Name() string    { return "routing" }
func (p *routingProvider) ModelID() string { return "routing" }

func gateway(p llm.Provider) *llm.Gateway {
	return llm.NewGateway(p, zerolog.Nop(),
		llm.WithRetry(retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))
}

func newGenerator(p llm.Provider, b content.Bounds, opts ...content.GeneratorOption) *content.Generator {
	gw := gateway(p)
	return content.NewGenerator(
		content.NewAICurator(gw, b, zerolog.Nop()),
		content.NewAITaskGenerator(gw, b.TasksPerUnit, zerolog.Nop()),
		zerolog.Nop(), opts...)
}

func unit(index int, objectives ...string) plan.Unit {
	u := plan.Unit{Index: index, Title: fmt.Sprintf("Unit %d", index), Objectives: objectives}
	if len(objectives) > 0 {
		u.Objective = objectives[0]
	}
	return u
}

const goodResources = `{"resources":[
	{"title":"Lecture","url":"https://video.example.com/1","type":"video","description":"d","estimated_time":"20 min"},
	{"title":"Guide","url":"https://docs.example.com/guide","type":"article"},
	{"title":"Paper","url":"https://arxiv.org/abs/1","type":"paper"}
]}`

const goodTasks = `{"tasks":[{"title":"Sort it","description":"Implement insertion sort","type":"project","estimated_time":"40 min"}]}`

func countType(rs []plan.Resource, t plan.ResourceType) int {
	n := 0
	for _, r := range rs {
		if r.Type == t {
			n++
		}
	}
	return n
}

func TestPopulate_AIPath(t *testing.T) {
	p := &routingProvider{resources: goodResources, tasks: goodTasks}
	got := newGenerator(p, content.DefaultBounds()).Populate(context.Background(), content.Request{Unit: unit(1, "Explain sorting")})

	assert.True(t, got.GenerationSuccess)
	assert.Empty(t, got.GenerationNotes)
	require.Len(t, got.Resources, 3)
	assert.Equal(t, plan.ResourceReading, got.Resources[1].Type, "article maps to reading")
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, plan.TaskProject, got.Tasks[0].Type)
	assert.Equal(t, "40 min", got.Tasks[0].EstimatedTime)
}

func TestPopulate_TaskFallbackMarksUnsuccessful(t *testing.T) {
	p := &routingProvider{resources: goodResources, failTasks: true}
	got := newGenerator(p, content.DefaultBounds()).Populate(context.Background(), content.Request{Unit: unit(2, "Explain recursion")})

	assert.False(t, got.GenerationSuccess)
	assert.Contains(t, got.GenerationNotes, "tasks:")
	require.Len(t, got.Resources, 3, "resource AI result kept")
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, plan.TaskReflection, got.Tasks[0].Type)
}

func TestCurate_TopsUpMissingTypes(t *testing.T) {
	p := &routingProvider{
		resources: `{"resources":[
			{"title":"A","url":"https://a.example.com","type":"paper"},
			{"title":"B","url":"https://b.example.com","type":"paper"}
		]}`,
		tasks: goodTasks,
	}
	got := newGenerator(p, content.DefaultBounds()).Populate(context.Background(), content.Request{Unit: unit(1, "x"), Topic: "graph theory"})

	assert.False(t, got.GenerationSuccess)
	assert.Equal(t, 1, countType(got.Resources, plan.ResourceVideo))
	assert.Equal(t, 1, countType(got.Resources, plan.ResourceReading))
	assert.Contains(t, got.GenerationNotes, "placeholder")
	for _, r := range got.Resources {
		if r.Type == plan.ResourceVideo {
			assert.True(t, strings.HasPrefix(r.URL, "https://www.youtube.com/results?search_query="))
		}
		if r.Type == plan.ResourceReading {
			assert.Equal(t, "https://en.wikipedia.org/wiki/Graph_Theory", r.URL)
		}
	}
}

func TestCurate_TrimsToMaxKeepingMinimums(t *testing.T) {
	var items []string
	for i := 0; i < 6; i++ {
		items = append(items, fmt.Sprintf(`{"title":"Paper %d","url":"https://p.example.com/%d","type":"paper"}`, i, i))
	}
	items = append(items,
		`{"title":"Read","url":"https://r.example.com","type":"reading"}`,
		`{"title":"Watch","url":"https://v.example.com","type":"video"}`,
		`{"title":"Dup","url":"https://v.example.com/","type":"video"}`,
		`{"title":"","url":"https://x.example.com","type":"video"}`,
		`{"title":"Bad","url":"ftp://x.example.com","type":"video"}`,
	)
	p := &routingProvider{resources: `{"resources":[` + strings.Join(items, ",") + `]}`, tasks: goodTasks}
	b := content.Bounds{MinVideo: 1, MinReading: 1, MaxResources: 4, TasksPerUnit: 1}
	got := newGenerator(p, b).Populate(context.Background(), content.Request{Unit: unit(1, "x")})

	require.Len(t, got.Resources, 4)
	assert.True(t, got.GenerationSuccess, "trimming is not a fallback")
	assert.Equal(t, []string{"Paper 0", "Paper 1", "Read", "Watch"}, []string{
		got.Resources[0].Title, got.Resources[1].Title, got.Resources[2].Title, got.Resources[3].Title,
	})
	assert.Contains(t, got.GenerationNotes, "dropped 3")
}

// P2 across both tiers and several bounds.
func TestResourceMinimums_AllPaths(t *testing.T) {
	boundsList := []content.Bounds{
		content.DefaultBounds(),
		{MinVideo: 2, MinReading: 1, MaxResources: 3, TasksPerUnit: 1},
		{MinVideo: 0, MinReading: 2, MaxResources: 2, TasksPerUnit: 2},
	}
	providers := map[string]llm.Provider{
		"offline":  llm.OfflineProvider{},
		"ai":       &routingProvider{resources: goodResources, tasks: goodTasks},
		"garbage":  &routingProvider{resources: "nope", tasks: "nope"},
		"no-types": &routingProvider{resources: `{"resources":[{"title":"t","url":"https://o.example.com","type":"podcast"}]}`, tasks: goodTasks},
	}
	for name, p := range providers {
		for _, b := range boundsList {
			got := newGenerator(p, b).Populate(context.Background(), content.Request{Unit: unit(3, "Build a parser"), Topic: "parsing"})
			assert.GreaterOrEqual(t, countType(got.Resources, plan.ResourceVideo), b.MinVideo, name)
			assert.GreaterOrEqual(t, countType(got.Resources, plan.ResourceReading), b.MinReading, name)
			assert.LessOrEqual(t, len(got.Resources), b.MaxResources, name)
			assert.Len(t, got.Tasks, b.TasksPerUnit, name)
		}
	}
}

// Scenario B.
func TestFallbackTasks_ObjectiveHeuristic(t *testing.T) {
	req := content.Request{Unit: unit(1, "Write a program that sorts a list")}
	res := content.FallbackTaskGenerator{Count: 1}.Generate(context.Background(), req)
	require.Len(t, res.Tasks, 1)
	assert.Contains(t, []plan.TaskType{plan.TaskPractice, plan.TaskProject}, res.Tasks[0].Type)
	assert.NotEqual(t, plan.TaskReflection, res.Tasks[0].Type)
	assert.True(t, res.UsedFallback)
}

func TestSuggestTaskTypes(t *testing.T) {
	assert.Equal(t, []plan.TaskType{plan.TaskProject, plan.TaskPractice}, content.SuggestTaskTypes([]string{"Build a web server"}))
	assert.Equal(t, []plan.TaskType{plan.TaskPractice, plan.TaskProject}, content.SuggestTaskTypes([]string{"Practice scales daily"}))
	assert.Equal(t, []plan.TaskType{plan.TaskReflection, plan.TaskQuiz}, content.SuggestTaskTypes([]string{"Understand and explain entropy"}))
	assert.Equal(t, []plan.TaskType{plan.TaskQuiz, plan.TaskReflection}, content.SuggestTaskTypes([]string{"Identify the parts of a cell"}))
	assert.Nil(t, content.SuggestTaskTypes([]string{"Cells"}))
}

func TestFallbackTasks_Rotation(t *testing.T) {
	var types []plan.TaskType
	for i := 1; i <= 6; i++ {
		res := content.FallbackTaskGenerator{Count: 1}.Generate(context.Background(), content.Request{Unit: unit(i, "Topic overview")})
		types = append(types, res.Tasks[0].Type)
	}
	assert.Equal(t, []plan.TaskType{
		plan.TaskReflection, plan.TaskPractice, plan.TaskProject, plan.TaskQuiz, plan.TaskExperiment, plan.TaskReflection,
	}, types)
}

func TestAITasks_TopUpAndUnknownType(t *testing.T) {
	p := &routingProvider{resources: goodResources, tasks: `{"tasks":[{"title":"Essay","description":"d","type":"essay"}]}`}
	gen := content.NewAITaskGenerator(gateway(p), 3, zerolog.Nop())
	res := gen.Generate(context.Background(), content.Request{Unit: unit(1, "Explain closures")})

	require.Len(t, res.Tasks, 3)
	assert.Equal(t, plan.TaskReflection, res.Tasks[0].Type, "unknown type takes the heuristic preference")
	assert.True(t, res.UsedFallback)
}

func TestPopulate_FeedbackReachesPrompt(t *testing.T) {
	p := &routingProvider{resources: goodResources, tasks: goodTasks}
	newGenerator(p, content.DefaultBounds()).Populate(context.Background(),
		content.Request{Unit: unit(1, "x"), Feedback: "more videos please"})
	require.NotEmpty(t, p.seen)
	for _, msg := range p.seen {
		assert.Contains(t, msg, "more videos please")
	}
}

func TestPopulateMany_OrderIndependentOfCompletion(t *testing.T) {
	p := &routingProvider{resources: goodResources, tasks: goodTasks}
	// Earlier units answer slower so they finish last.
	p.delay = func(req llm.CompletionRequest) time.Duration {
		for i := 1; i <= 4; i++ {
			if strings.Contains(req.Messages[0].Content, fmt.Sprintf("Unit %d:", i)) {
				return time.Duration(5-i) * 5 * time.Millisecond
			}
		}
		return 0
	}
	unitRe := regexp.MustCompile(`Unit \d+`)
	p.tasksFor = func(brief string) string {
		return fmt.Sprintf(`{"tasks":[{"title":"Task for %s","description":"d","type":"quiz"}]}`, unitRe.FindString(brief))
	}
	units := []plan.Unit{unit(1, "Build a"), unit(2, "Explain b"), unit(3, "Identify c"), unit(4, "Explore d")}

	gen := newGenerator(p, content.DefaultBounds(), content.WithConcurrency(4))
	out, err := gen.PopulateMany(context.Background(), "topic", units)
	require.NoError(t, err)
	require.Len(t, out, 4)
	for i, c := range out {
		assert.True(t, c.GenerationSuccess)
		assert.Equal(t, fmt.Sprintf("Task for Unit %d", i+1), c.Tasks[0].Title)
	}
}

func TestPopulateMany_IsolatesFallbacks(t *testing.T) {
	units := []plan.Unit{unit(1, "Build a"), unit(2, "Explain b"), unit(3, "Identify c")}
	gen := content.NewGenerator(content.FallbackCurator{Bounds: content.DefaultBounds()}, content.FallbackTaskGenerator{Count: 1}, zerolog.Nop())
	out, err := gen.PopulateMany(context.Background(), "t", units)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, plan.TaskProject, out[0].Tasks[0].Type)
	assert.Equal(t, plan.TaskReflection, out[1].Tasks[0].Type)
	assert.Equal(t, plan.TaskQuiz, out[2].Tasks[0].Type)
}

func TestPopulateMany_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := newGenerator(llm.OfflineProvider{}, content.DefaultBounds())
	_, err := gen.PopulateMany(ctx, "t", []plan.Unit{unit(1, "x")})
	assert.ErrorIs(t, err, context.Canceled)
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) RecordGeneration(stage, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[stage+"/"+source]++
}

func TestGenerator_RecordsSources(t *testing.T) {
	rec := &countingRecorder{counts: map[string]int{}}
	p := &routingProvider{resources: goodResources, failTasks: true}
	newGenerator(p, content.DefaultBounds(), content.WithRecorder(rec)).
		Populate(context.Background(), content.Request{Unit: unit(1, "x")})
	assert.Equal(t, 1, rec.counts["resources/ai"])
	assert.Equal(t, 1, rec.counts["tasks/fallback"])
}

func TestGeneratedContent_Apply(t *testing.T) {
	u := unit(2, "x")
	u.Resources = []plan.Resource{{Title: "old"}}
	c := content.GeneratedContent{Resources: []plan.Resource{{Title: "new"}}, Tasks: []plan.Task{{Title: "t"}}}
	got := c.Apply(u)
	assert.Equal(t, "new", got.Resources[0].Title)
	assert.True(t, got.UsedFallback)
	assert.Equal(t, "old", u.Resources[0].Title)
}
