package scaffold

import (
	"context"
	"strings"

	"github.com/p-blackswan/studyplan/internal/plan"
)

// Fallback derives three generic units from the topic string. It never
// touches the network.
type Fallback struct{}

// Scaffold returns exactly three units that each mention the topic verbatim.
func (Fallback) Scaffold(_ context.Context, topic, _ string) Result {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = "the subject"
	}
	stubs := []plan.Unit{
		{
			Title:     "Introduction to " + topic,
			Objective: "Understand what " + topic + " is and why it matters",
			Objectives: []string{
				"Understand what " + topic + " is and why it matters",
				"Identify the key vocabulary of " + topic,
			},
			EstimatedDuration: "1-2 hours",
		},
		{
			Title:     "Core concepts of " + topic,
			Objective: "Explain the fundamental principles of " + topic,
			Objectives: []string{
				"Explain the fundamental principles of " + topic,
				"Compare the main approaches within " + topic,
			},
			EstimatedDuration: "2-3 hours",
		},
		{
			Title:     "Applying " + topic,
			Objective: "Apply " + topic + " to a small practical problem",
			Objectives: []string{
				"Apply " + topic + " to a small practical problem",
				"Build a short project that uses " + topic,
			},
			EstimatedDuration: "2-4 hours",
		},
	}
	for i := range stubs {
		stubs[i].Index = i + 1
		stubs[i].Status = plan.StatusNotStarted
	}
	return Result{Units: stubs, UsedFallback: true, Note: "generic units derived from the topic"}
}
