package content

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/studyplan/internal/llm"
	"github.com/p-blackswan/studyplan/internal/plan"
)

// ResourceResult is a curated list with its provenance.
type ResourceResult struct {
	Resources    []plan.Resource
	UsedFallback bool
	Note         string
}

// ResourceCurator produces a bounded resource list for a unit.
type ResourceCurator interface {
	Curate(ctx context.Context, req Request) ResourceResult
}

var resourcePrompt = `You are a learning resource curator. Recommend high-quality, freely accessible resources for one unit of a learning plan.

Respond ONLY with valid JSON (no markdown, no explanation):
{
  "resources": [
    {
      "title": "<resource title>",
      "url": "<https URL>",
      "type": "video | reading | paper",
      "description": "<one sentence on why it helps>",
      "estimated_time": "<e.g. 15 min>"
    }
  ]
}

Rules:
- Include at least %d video and at least %d reading resources.
- At most %d resources in total.
- Prefer stable URLs (official docs, Wikipedia, well-known channels).`

type resourceReply struct {
	Resources []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		Type          string `json:"type"`
		Description   string `json:"description"`
		EstimatedTime string `json:"estimated_time"`
	} `json:"resources"`
}

func (r *resourceReply) Validate() error {
	if len(r.Resources) == 0 {
		return fmt.Errorf("no resources")
	}
	return nil
}

// AICurator asks the model for resources and enforces Bounds on the reply,
// topping up missing types with placeholders.
type AICurator struct {
	gateway *llm.Gateway
	bounds  Bounds
	logger  zerolog.Logger
}

// NewAICurator creates an AICurator.
func NewAICurator(gateway *llm.Gateway, bounds Bounds, logger zerolog.Logger) *AICurator {
	return &AICurator{
		gateway: gateway,
		bounds:  bounds.normalized(),
		logger:  logger.With().Str("component", "content.resources").Logger(),
	}
}

func (c *AICurator) Curate(ctx context.Context, req Request) ResourceResult {
	var reply resourceReply
	system := fmt.Sprintf(resourcePrompt, c.bounds.MinVideo, c.bounds.MinReading, c.bounds.MaxResources)
	if err := c.gateway.CompleteJSON(ctx, llm.UserPrompt(system, unitBrief(req)), &reply); err != nil {
		c.logger.Warn().Err(err).Int("unit", req.Unit.Index).Msg("resource curation fell back")
		res := FallbackCurator{Bounds: c.bounds}.Curate(ctx, req)
		res.Note = fmt.Sprintf("model unavailable (%v); placeholder resources used", err)
		return res
	}

	candidates := make([]plan.Resource, 0, len(reply.Resources))
	for _, r := range reply.Resources {
		candidates = append(candidates, plan.Resource{
			Type:          plan.ParseResourceType(r.Type),
			Title:         strings.TrimSpace(r.Title),
			URL:           strings.TrimSpace(r.URL),
			Description:   strings.TrimSpace(r.Description),
			EstimatedTime: strings.TrimSpace(r.EstimatedTime),
		})
	}
	valid, dropped := sanitize(candidates)
	out, added := enforce(valid, c.bounds, req)

	res := ResourceResult{Resources: out}
	var notes []string
	if dropped > 0 {
		notes = append(notes, fmt.Sprintf("dropped %d invalid or duplicate entries", dropped))
	}
	if added > 0 {
		res.UsedFallback = true
		notes = append(notes, fmt.Sprintf("added %d placeholder resources to meet minimums", added))
	}
	res.Note = strings.Join(notes, ", ")
	return res
}

// FallbackCurator synthesizes search-style resources without the network.
type FallbackCurator struct {
	Bounds Bounds
}

func (f FallbackCurator) Curate(_ context.Context, req Request) ResourceResult {
	b := f.Bounds.normalized()
	out, _ := enforce(nil, b, req)
	if len(out) == 0 && b.MaxResources > 0 {
		out = append(out, placeholder(plan.ResourceReading, 0, req))
	}
	return ResourceResult{Resources: out, UsedFallback: true, Note: "placeholder resources used"}
}

// sanitize drops entries without a title or an http(s) URL, and repeated URLs.
func sanitize(in []plan.Resource) ([]plan.Resource, int) {
	seen := map[string]bool{}
	out := make([]plan.Resource, 0, len(in))
	for _, r := range in {
		if r.Title == "" || !validURL(r.URL) {
			continue
		}
		key := strings.TrimRight(strings.ToLower(r.URL), "/")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out, len(in) - len(out)
}

func validURL(raw string) bool {
	if strings.ContainsAny(raw, " \t\n<>") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// enforce selects at most MaxResources entries, required types first, and
// appends placeholders for any type still under its minimum. Selected
// entries keep their original relative order. It returns the number of
// placeholders added.
func enforce(in []plan.Resource, b Bounds, req Request) ([]plan.Resource, int) {
	need := map[plan.ResourceType]int{
		plan.ResourceVideo:   b.MinVideo,
		plan.ResourceReading: b.MinReading,
	}
	selected := make([]bool, len(in))
	count := 0
	for _, t := range []plan.ResourceType{plan.ResourceVideo, plan.ResourceReading} {
		for i, r := range in {
			if need[t] == 0 {
				break
			}
			if r.Type == t && !selected[i] {
				selected[i] = true
				need[t]--
				count++
			}
		}
	}

	var placeholders []plan.Resource
	for _, t := range []plan.ResourceType{plan.ResourceVideo, plan.ResourceReading} {
		for k := 0; k < need[t]; k++ {
			placeholders = append(placeholders, placeholder(t, k, req))
		}
	}

	room := b.MaxResources - count - len(placeholders)
	for i := range in {
		if room <= 0 {
			break
		}
		if !selected[i] {
			selected[i] = true
			room--
		}
	}

	out := make([]plan.Resource, 0, b.MaxResources)
	for i, r := range in {
		if selected[i] {
			out = append(out, r)
		}
	}
	return append(out, placeholders...), len(placeholders)
}

// placeholder builds the k-th search-style resource of type t for a unit.
func placeholder(t plan.ResourceType, k int, req Request) plan.Resource {
	subject := strings.TrimSpace(req.Topic)
	if subject == "" {
		subject = req.Unit.Title
	}
	query := strings.TrimSpace(req.Unit.Title + " " + subject)
	if k > 0 {
		query = fmt.Sprintf("%s part %d", query, k+1)
	}

	switch t {
	case plan.ResourceVideo:
		return plan.Resource{
			Type:          plan.ResourceVideo,
			Title:         "Video search: " + req.Unit.Title,
			URL:           "https://www.youtube.com/results?search_query=" + url.QueryEscape(query),
			Description:   "Pick a well-reviewed explainer video covering this unit.",
			EstimatedTime: "15-20 min",
		}
	case plan.ResourcePaper:
		return plan.Resource{
			Type:          plan.ResourcePaper,
			Title:         "Scholarly search: " + subject,
			URL:           "https://scholar.google.com/scholar?q=" + url.QueryEscape(query),
			Description:   "Skim an introductory paper or survey.",
			EstimatedTime: "30 min",
		}
	default:
		if k == 0 && subject != "" {
			return plan.Resource{
				Type:          plan.ResourceReading,
				Title:         "Wikipedia: " + subject,
				URL:           "https://en.wikipedia.org/wiki/" + url.PathEscape(strings.ReplaceAll(plan.TitleCase(subject), " ", "_")),
				Description:   "Background reading on " + subject + ".",
				EstimatedTime: "10-15 min",
			}
		}
		return plan.Resource{
			Type:          plan.ResourceReading,
			Title:         "Reading search: " + req.Unit.Title,
			URL:           "https://en.wikipedia.org/w/index.php?search=" + url.QueryEscape(query),
			Description:   "Find an article that covers this unit's objectives.",
			EstimatedTime: "10-15 min",
		}
	}
}

// unitBrief is the user message shared by both AI sub-generators.
func unitBrief(req Request) string {
	var b strings.Builder
	if req.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", req.Topic)
	}
	fmt.Fprintf(&b, "Unit %d: %s\n", req.Unit.Index, req.Unit.Title)
	fmt.Fprintf(&b, "Objective: %s\n", req.Unit.Objective)
	if objs := req.Unit.LearningObjectives(); len(objs) > 1 {
		b.WriteString("Learning objectives:\n")
		for _, o := range objs {
			fmt.Fprintf(&b, "- %s\n", o)
		}
	}
	if fb := strings.TrimSpace(req.Feedback); fb != "" {
		fmt.Fprintf(&b, "Learner feedback to address:\n%s\n", fb)
	}
	return b.String()
}
