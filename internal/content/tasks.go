package content

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/studyplan/internal/llm"
	"github.com/p-blackswan/studyplan/internal/plan"
)

// TaskResult is a task list with its provenance.
type TaskResult struct {
	Tasks        []plan.Task
	UsedFallback bool
	Note         string
}

// TaskGenerator produces engage tasks for a unit.
type TaskGenerator interface {
	Generate(ctx context.Context, req Request) TaskResult
}

// keyword families, checked in this order on ties.
var taskKeywords = []struct {
	words []string
	types []plan.TaskType
}{
	{
		words: []string{"build", "create", "implement", "design", "develop", "write", "program", "compose", "make", "construct"},
		types: []plan.TaskType{plan.TaskProject, plan.TaskPractice},
	},
	{
		words: []string{"practice", "apply", "use", "exercise", "solve", "calculate", "play", "perform"},
		types: []plan.TaskType{plan.TaskPractice, plan.TaskProject},
	},
	{
		words: []string{"understand", "explain", "analyze", "analyse", "evaluate", "compare", "assess", "describe", "discuss"},
		types: []plan.TaskType{plan.TaskReflection, plan.TaskQuiz},
	},
	{
		words: []string{"define", "identify", "recall", "list", "name", "recognize", "recognise", "memorize"},
		types: []plan.TaskType{plan.TaskQuiz, plan.TaskReflection},
	},
	{
		words: []string{"experiment", "test", "measure", "observe", "explore", "investigate"},
		types: []plan.TaskType{plan.TaskExperiment, plan.TaskPractice},
	},
}

// SuggestTaskTypes returns task types in order of preference for the given
// objectives, or nil when no keyword matches.
func SuggestTaskTypes(objectives []string) []plan.TaskType {
	words := map[string]int{}
	for _, o := range objectives {
		for _, w := range strings.FieldsFunc(strings.ToLower(o), func(r rune) bool { return !unicode.IsLetter(r) }) {
			words[w]++
		}
	}
	best, bestScore := -1, 0
	for i, family := range taskKeywords {
		score := 0
		for _, w := range family.words {
			score += words[w]
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return nil
	}
	return append([]plan.TaskType(nil), taskKeywords[best].types...)
}

var taskPrompt = `You are an instructional designer. Create active-learning tasks for one unit of a learning plan.

Respond ONLY with valid JSON (no markdown, no explanation):
{
  "tasks": [
    {
      "title": "<short task title>",
      "description": "<what the learner does and what they produce>",
      "type": "reflection | practice | project | quiz | experiment",
      "estimated_time": "<e.g. 20 min>"
    }
  ]
}

Rules:
- Exactly %d task(s).
- Prefer these types, in order: %s.
- Tasks must be doable with the unit's resources in under an hour.`

type taskReply struct {
	Tasks []struct {
		Title         string `json:"title"`
		Description   string `json:"description"`
		Type          string `json:"type"`
		EstimatedTime string `json:"estimated_time"`
	} `json:"tasks"`
}

func (r *taskReply) Validate() error {
	for _, t := range r.Tasks {
		if strings.TrimSpace(t.Title) != "" {
			return nil
		}
	}
	return fmt.Errorf("no usable tasks")
}

// AITaskGenerator asks the model for tasks.
type AITaskGenerator struct {
	gateway *llm.Gateway
	count   int
	logger  zerolog.Logger
}

// NewAITaskGenerator creates an AITaskGenerator producing count tasks per unit.
func NewAITaskGenerator(gateway *llm.Gateway, count int, logger zerolog.Logger) *AITaskGenerator {
	if count < 1 {
		count = 1
	}
	return &AITaskGenerator{
		gateway: gateway,
		count:   count,
		logger:  logger.With().Str("component", "content.tasks").Logger(),
	}
}

func (g *AITaskGenerator) Generate(ctx context.Context, req Request) TaskResult {
	prefs := typesFor(req.Unit)
	names := make([]string, len(prefs))
	for i, t := range prefs {
		names[i] = string(t)
	}

	var reply taskReply
	system := fmt.Sprintf(taskPrompt, g.count, strings.Join(names, ", "))
	if err := g.gateway.CompleteJSON(ctx, llm.UserPrompt(system, unitBrief(req)), &reply); err != nil {
		g.logger.Warn().Err(err).Int("unit", req.Unit.Index).Msg("task generation fell back")
		res := FallbackTaskGenerator{Count: g.count}.Generate(ctx, req)
		res.Note = fmt.Sprintf("model unavailable (%v); template tasks used", err)
		return res
	}

	tasks := make([]plan.Task, 0, g.count)
	for _, t := range reply.Tasks {
		if len(tasks) == g.count {
			break
		}
		title := strings.TrimSpace(t.Title)
		if title == "" {
			continue
		}
		typ, ok := plan.ParseTaskType(t.Type)
		if !ok {
			typ = prefs[len(tasks)%len(prefs)]
		}
		est := strings.TrimSpace(t.EstimatedTime)
		if est == "" {
			est = defaultTaskTime[typ]
		}
		tasks = append(tasks, plan.Task{
			Type:          typ,
			Title:         title,
			Description:   strings.TrimSpace(t.Description),
			EstimatedTime: est,
		})
	}

	res := TaskResult{Tasks: tasks}
	if missing := g.count - len(tasks); missing > 0 {
		filler := FallbackTaskGenerator{Count: g.count}.Generate(ctx, req).Tasks
		res.Tasks = append(res.Tasks, filler[len(tasks):]...)
		res.UsedFallback = true
		res.Note = fmt.Sprintf("added %d template tasks", missing)
	}
	return res
}

var defaultTaskTime = map[plan.TaskType]string{
	plan.TaskReflection: "10-15 min",
	plan.TaskPractice:   "20-30 min",
	plan.TaskProject:    "45-60 min",
	plan.TaskQuiz:       "10 min",
	plan.TaskExperiment: "30 min",
}

// typesFor returns the keyword preference for the unit, or the fixed rotation
// offset by the unit index.
func typesFor(u plan.Unit) []plan.TaskType {
	if prefs := SuggestTaskTypes(u.LearningObjectives()); prefs != nil {
		return prefs
	}
	n := len(plan.TaskTypes)
	start := 0
	if u.Index > 0 {
		start = (u.Index - 1) % n
	}
	rot := make([]plan.TaskType, 0, n)
	for i := 0; i < n; i++ {
		rot = append(rot, plan.TaskTypes[(start+i)%n])
	}
	return rot
}

// FallbackTaskGenerator builds tasks from templates without the network.
type FallbackTaskGenerator struct {
	Count int
}

func (f FallbackTaskGenerator) Generate(_ context.Context, req Request) TaskResult {
	count := f.Count
	if count < 1 {
		count = 1
	}
	prefs := typesFor(req.Unit)
	objectives := req.Unit.LearningObjectives()
	if len(objectives) == 0 {
		objectives = []string{req.Unit.Title}
	}

	tasks := make([]plan.Task, 0, count)
	for i := 0; i < count; i++ {
		typ := prefs[i%len(prefs)]
		tasks = append(tasks, templateTask(typ, req.Unit.Title, objectives[i%len(objectives)]))
	}
	return TaskResult{Tasks: tasks, UsedFallback: true, Note: "template tasks used"}
}

func templateTask(t plan.TaskType, unitTitle, objective string) plan.Task {
	obj := lowerFirst(strings.TrimSuffix(strings.TrimSpace(objective), "."))
	task := plan.Task{Type: t, EstimatedTime: defaultTaskTime[t]}
	switch t {
	case plan.TaskPractice:
		task.Title = "Practice: " + unitTitle
		task.Description = fmt.Sprintf("Complete two or three short hands-on exercises so that you can %s. Check your results against the resources above.", obj)
	case plan.TaskProject:
		task.Title = "Mini project: " + unitTitle
		task.Description = fmt.Sprintf("Build something small that shows you can %s. Keep the scope to one sitting and note what surprised you.", obj)
	case plan.TaskQuiz:
		task.Title = "Self-quiz: " + unitTitle
		task.Description = fmt.Sprintf("Write five questions that test whether you can %s, answer them from memory, then check against the resources.", obj)
	case plan.TaskExperiment:
		task.Title = "Experiment: " + unitTitle
		task.Description = fmt.Sprintf("Design a quick experiment around this goal: %s. Record your setup, your prediction and the outcome.", obj)
	default:
		task.Title = "Reflect: " + unitTitle
		task.Description = fmt.Sprintf("In a short paragraph, explain in your own words how you would %s. Note one question you still have.", obj)
	}
	return task
}

func lowerFirst(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	// Keep acronyms such as "SQL" intact.
	if len(r) > 1 && unicode.IsUpper(r[1]) {
		return s
	}
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
