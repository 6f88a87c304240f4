// Package scaffold turns a topic and motivation into an ordered unit list.
package scaffold

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/studyplan/internal/llm"
	"github.com/p-blackswan/studyplan/internal/plan"
)

// Bounds on plan length. Unit files are named with two-digit indices, so
// MaxUnits must stay below 100.
const (
	MinUnits = 3
	MaxUnits = 7
)

// Result is a scaffold outcome with its provenance.
type Result struct {
	Units        []plan.Unit
	UsedFallback bool
	Note         string
}

// Scaffolder produces unit stubs (title, objective) for a topic.
// Implementations never return an empty list.
type Scaffolder interface {
	Scaffold(ctx context.Context, topic, motivation string) Result
}

var scaffoldPrompt = `You are a curriculum designer. Given a learning topic and the learner's motivation, design an ordered sequence of %d to %d learning units that build on each other.

Respond ONLY with valid JSON (no markdown, no explanation):
{
  "units": [
    {
      "title": "<short unit title>",
      "description": "<one sentence on what the unit covers>",
      "learning_objectives": ["<objective starting with a verb>", "..."],
      "estimated_duration": "<e.g. 1-2 hours>"
    }
  ]
}

Rules:
- At least %d units.
- Each unit has 2 to 4 learning objectives.
- Titles are unique.`

type unitSpec struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	LearningObjectives []string `json:"learning_objectives"`
	EstimatedDuration  string   `json:"estimated_duration"`
}

type scaffoldReply struct {
	Units []unitSpec `json:"units"`
	min   int
}

// Validate rejects replies that cannot become a plan.
func (r *scaffoldReply) Validate() error {
	usable := 0
	for _, u := range r.Units {
		if strings.TrimSpace(u.Title) != "" {
			usable++
		}
	}
	if usable < r.min {
		return fmt.Errorf("got %d usable units, need at least %d", usable, r.min)
	}
	return nil
}

// AI asks the gateway for a unit list and falls back to Fallback on any failure.
type AI struct {
	gateway  *llm.Gateway
	minUnits int
	fallback Fallback
	logger   zerolog.Logger
}

// NewAI creates an AI scaffolder. minUnits is clamped to [MinUnits, MaxUnits].
func NewAI(gateway *llm.Gateway, minUnits int, logger zerolog.Logger) *AI {
	minUnits = max(MinUnits, min(minUnits, MaxUnits))
	return &AI{
		gateway:  gateway,
		minUnits: minUnits,
		logger:   logger.With().Str("component", "scaffold.ai").Logger(),
	}
}

// Scaffold returns at least minUnits units in all cases.
func (a *AI) Scaffold(ctx context.Context, topic, motivation string) Result {
	user := "Topic: " + topic
	if strings.TrimSpace(motivation) != "" {
		user += "\nMotivation: " + motivation
	}
	reply := scaffoldReply{min: a.minUnits}
	prompt := fmt.Sprintf(scaffoldPrompt, a.minUnits, MaxUnits, a.minUnits)
	err := a.gateway.CompleteJSON(ctx, llm.UserPrompt(prompt, user), &reply)
	if err != nil {
		a.logger.Warn().Err(err).Str("topic", topic).Msg("scaffold fell back to generic units")
		res := a.fallback.Scaffold(ctx, topic, motivation)
		res.Note = fmt.Sprintf("AI scaffolding unavailable (%v); generic units used", err)
		return res
	}
	units := toUnits(reply.Units)
	if len(units) > MaxUnits {
		a.logger.Info().Int("proposed", len(units)).Int("kept", MaxUnits).Msg("scaffold reply trimmed")
		units = units[:MaxUnits]
	}
	return Result{Units: units}
}

func toUnits(specs []unitSpec) []plan.Unit {
	units := make([]plan.Unit, 0, len(specs))
	for _, s := range specs {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			continue
		}
		var objectives []string
		for _, o := range s.LearningObjectives {
			if o = strings.TrimSpace(o); o != "" {
				objectives = append(objectives, o)
			}
		}
		objective := strings.TrimSpace(s.Description)
		if len(objectives) > 0 {
			objective = objectives[0]
		}
		if objective == "" {
			objective = "Work through " + title
		}
		units = append(units, plan.Unit{
			Index:             len(units) + 1,
			Title:             title,
			Objective:         objective,
			Objectives:        objectives,
			EstimatedDuration: strings.TrimSpace(s.EstimatedDuration),
			Status:            plan.StatusNotStarted,
		})
	}
	return units
}
