// Package plan defines the learning-plan data model and its project.json
// persistence.
package plan

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/studyplan/internal/errors"
)

// Status is a unit's completion status.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// ResourceType classifies a curated resource.
type ResourceType string

const (
	ResourceVideo   ResourceType = "video"
	ResourceReading ResourceType = "reading"
	ResourcePaper   ResourceType = "paper"
	ResourceOther   ResourceType = "other"
)

// ParseResourceType maps loose model vocabulary onto the four known types.
func ParseResourceType(s string) ResourceType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video", "youtube", "lecture":
		return ResourceVideo
	case "reading", "article", "book", "tutorial", "documentation", "docs", "blog":
		return ResourceReading
	case "paper", "research", "journal":
		return ResourcePaper
	default:
		return ResourceOther
	}
}

// TaskType classifies an engage task.
type TaskType string

const (
	TaskReflection TaskType = "reflection"
	TaskPractice   TaskType = "practice"
	TaskProject    TaskType = "project"
	TaskQuiz       TaskType = "quiz"
	TaskExperiment TaskType = "experiment"
)

// TaskTypes lists every task type in rotation order.
var TaskTypes = []TaskType{TaskReflection, TaskPractice, TaskProject, TaskQuiz, TaskExperiment}

// ParseTaskType returns the task type and whether s named a known one.
func ParseTaskType(s string) (TaskType, bool) {
	t := TaskType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range TaskTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// Resource is a curated external reference.
type Resource struct {
	Type          ResourceType `json:"type"`
	Title         string       `json:"title"`
	URL           string       `json:"url"`
	Description   string       `json:"description,omitempty"`
	EstimatedTime string       `json:"estimated_time,omitempty"`
}

// Task is an active-learning exercise.
type Task struct {
	Type          TaskType `json:"type"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	EstimatedTime string   `json:"estimated_time,omitempty"`
}

// Unit is one ordered step of a plan. Index is the join key between the
// model, the rendered file name and the state file.
type Unit struct {
	Index             int        `json:"index"`
	Title             string     `json:"title"`
	Objective         string     `json:"objective"`
	Objectives        []string   `json:"objectives,omitempty"`
	EstimatedDuration string     `json:"estimated_duration,omitempty"`
	Resources         []Resource `json:"resources"`
	Tasks             []Task     `json:"tasks"`
	Status            Status     `json:"status"`
	UsedFallback      bool       `json:"used_fallback"`
}

// LearningObjectives returns Objectives, or the single Objective when the
// list is empty.
func (u Unit) LearningObjectives() []string {
	if len(u.Objectives) > 0 {
		return u.Objectives
	}
	if u.Objective != "" {
		return []string{u.Objective}
	}
	return nil
}

// Clone returns a deep copy so callers never alias another stage's slices.
func (u Unit) Clone() Unit {
	c := u
	c.Objectives = append([]string(nil), u.Objectives...)
	c.Resources = append([]Resource(nil), u.Resources...)
	c.Tasks = append([]Task(nil), u.Tasks...)
	return c
}

// Project is a plan with its ordered units.
type Project struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Topic     string    `json:"topic"`
	Purpose   string    `json:"purpose,omitempty"`
	LinkStyle string    `json:"link_style,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Units     []Unit    `json:"units"`
}

// New builds a project with a fresh id. Units are numbered 1..n in order.
func New(topic, purpose string, units []Unit, now time.Time) *Project {
	p := &Project{
		ID:        NewID(topic),
		Title:     "Learn " + TitleCase(topic),
		Topic:     topic,
		Purpose:   purpose,
		CreatedAt: now.UTC().Truncate(time.Second),
	}
	for i, u := range units {
		u = u.Clone()
		u.Index = i + 1
		if u.Status == "" {
			u.Status = StatusNotStarted
		}
		p.Units = append(p.Units, u)
	}
	return p
}

// UnitCount returns len(Units).
func (p *Project) UnitCount() int { return len(p.Units) }

// CheckIndex returns a validation error unless index is within [1, UnitCount].
func (p *Project) CheckIndex(index int) error {
	if index < 1 || index > len(p.Units) {
		return perrors.Validationf("unit %d out of range [1, %d]", index, len(p.Units))
	}
	return nil
}

// Unit returns a copy of the unit at index.
func (p *Project) Unit(index int) (Unit, error) {
	if err := p.CheckIndex(index); err != nil {
		return Unit{}, err
	}
	return p.Units[index-1].Clone(), nil
}

// ReplaceUnit stores a full replacement for the unit at u.Index.
func (p *Project) ReplaceUnit(u Unit) error {
	if err := p.CheckIndex(u.Index); err != nil {
		return err
	}
	p.Units[u.Index-1] = u.Clone()
	return nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9-]+`)

// GenerateSlug converts a topic into a filesystem-safe slug of at most 50 bytes.
func GenerateSlug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Join(strings.Fields(s), "-")
	s = slugRe.ReplaceAllString(s, "")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		s = strings.TrimRight(s[:50], "-")
	}
	return s
}

// NewID returns slug-xxxxxxxx where the suffix is random hex.
func NewID(topic string) string {
	slug := GenerateSlug(topic)
	if slug == "" {
		slug = "project"
	}
	return fmt.Sprintf("%s-%s", slug, strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// TitleCase upper-cases the first letter of every word.
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
