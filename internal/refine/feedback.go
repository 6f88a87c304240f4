package refine

import (
	"fmt"
	"strings"
)

// Action is the kind of change a piece of feedback asks for.
type Action string

const (
	ActionNone     Action = "no_action"
	ActionAdd      Action = "add_content"
	ActionRemove   Action = "remove_content"
	ActionClarify  Action = "clarify_content"
	ActionExamples Action = "add_examples"
)

// maxPriorFeedback bounds how many earlier refinements are carried into a
// prompt.
const maxPriorFeedback = 5

const maxSignals = 3

var actionKeywords = []struct {
	action   Action
	keywords []string
	change   string
}{
	{ActionAdd, []string{"add", "more", "include", "missing"}, "add more content"},
	{ActionRemove, []string{"remove", "delete", "too much", "unnecessary"}, "remove excessive content"},
	{ActionClarify, []string{"confusing", "unclear", "don't understand"}, "clarify confusing sections"},
	{ActionExamples, []string{"example", "demonstrate", "show"}, "add practical examples"},
}

var (
	concernKeywords    = []string{"concern", "problem", "issue", "difficult", "confusing", "unclear"}
	suggestionKeywords = []string{"suggest", "recommend", "should", "could", "would be better", "improve"}
)

// Analysis is a keyword reading of one piece of feedback. It works without a
// model and is passed to the generator as a hint.
type Analysis struct {
	Action      Action
	Change      string
	Concerns    []string
	Suggestions []string
}

// AnalyzeFeedback classifies text by keyword. The first matching action wins;
// at most three concerns and three suggestions are kept.
func AnalyzeFeedback(text string) Analysis {
	lower := strings.ToLower(text)
	a := Analysis{Action: ActionNone}
	for _, k := range actionKeywords {
		if containsAny(lower, k.keywords) {
			a.Action = k.action
			a.Change = k.change
			break
		}
	}
	a.Concerns = matching(lower, concernKeywords)
	a.Suggestions = matching(lower, suggestionKeywords)
	return a
}

// Hint renders the analysis as prompt lines; empty when nothing matched.
func (a Analysis) Hint() string {
	var lines []string
	if a.Change != "" {
		lines = append(lines, "Suggested change: "+a.Change+".")
	}
	if len(a.Concerns) > 0 {
		lines = append(lines, "Concerns raised: "+strings.Join(a.Concerns, ", ")+".")
	}
	if len(a.Suggestions) > 0 {
		lines = append(lines, "Suggestions made: "+strings.Join(a.Suggestions, ", ")+".")
	}
	return strings.Join(lines, "\n")
}

// AccumulateFeedback builds the generator's feedback from the unit's earlier
// refinements plus current. Rollback entries carry no learner feedback and
// are skipped.
func AccumulateFeedback(history []Snapshot, current string) string {
	var prior []string
	for _, s := range history {
		fb := strings.TrimSpace(s.Feedback)
		if fb == "" || s.Feedback == RollbackFeedback {
			continue
		}
		prior = append(prior, fb)
	}
	if len(prior) > maxPriorFeedback {
		prior = prior[len(prior)-maxPriorFeedback:]
	}

	var b strings.Builder
	b.WriteString(current)
	if len(prior) > 0 {
		b.WriteString("\n\nEarlier feedback on this unit, oldest first:\n")
		for i, fb := range prior {
			fmt.Fprintf(&b, "%d. %s\n", i+1, strings.Join(strings.Fields(fb), " "))
		}
	}
	if hint := AnalyzeFeedback(current).Hint(); hint != "" {
		if len(prior) == 0 {
			b.WriteString("\n")
		}
		b.WriteString("\n" + hint)
	}
	return strings.TrimRight(b.String(), "\n")
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func matching(s string, words []string) []string {
	var out []string
	for _, w := range words {
		if strings.Contains(s, w) {
			out = append(out, w)
			if len(out) == maxSignals {
				break
			}
		}
	}
	return out
}
