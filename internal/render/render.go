// Package render writes a project as Markdown: a table of contents plus one
// document per unit, with status taken from the state store.
package render

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/studyplan/internal/errors"
	"github.com/p-blackswan/studyplan/internal/fsutil"
	"github.com/p-blackswan/studyplan/internal/plan"
	"github.com/p-blackswan/studyplan/internal/state"
)

// Render kinds, used as metrics labels.
const (
	KindTOC    = "toc"
	KindUnit   = "unit"
	KindReadme = "readme"
)

var statusGlyph = map[plan.Status]string{
	plan.StatusDone:       "✅",
	plan.StatusInProgress: "🔄",
	plan.StatusNotStarted: "⬜",
}

var statusLabel = map[plan.Status]string{
	plan.StatusDone:       "Done",
	plan.StatusInProgress: "In progress",
	plan.StatusNotStarted: "Not started",
}

var resourceGlyph = map[plan.ResourceType]string{
	plan.ResourceVideo:   "🎥",
	plan.ResourceReading: "📖",
	plan.ResourcePaper:   "📄",
	plan.ResourceOther:   "📎",
}

var taskGlyph = map[plan.TaskType]string{
	plan.TaskReflection: "🤔",
	plan.TaskPractice:   "🛠️",
	plan.TaskProject:    "🎯",
	plan.TaskQuiz:       "❓",
	plan.TaskExperiment: "🧪",
}

// Recorder receives one call per file written.
type Recorder interface {
	RecordRender(kind string)
}

// Renderer serializes projects in one link style.
type Renderer struct {
	style    LinkStyle
	recorder Recorder
	logger   zerolog.Logger
}

// New creates a Renderer. An unknown style renders as LinkMarkdown.
func New(style LinkStyle, logger zerolog.Logger) *Renderer {
	if style != LinkObsidian {
		style = LinkMarkdown
	}
	return &Renderer{style: style, logger: logger.With().Str("component", "render").Logger()}
}

// WithRecorder attaches a metrics recorder.
func (r *Renderer) WithRecorder(rec Recorder) *Renderer {
	r.recorder = rec
	return r
}

// Style returns the configured link style.
func (r *Renderer) Style() LinkStyle { return r.style }

// ApplyState returns a copy of p whose unit statuses follow st.
func ApplyState(p *plan.Project, st state.State) *plan.Project {
	out := *p
	out.Units = make([]plan.Unit, len(p.Units))
	for i, u := range p.Units {
		u = u.Clone()
		u.Status = st.StatusOf(u.Index)
		out.Units[i] = u
	}
	return &out
}

// Render writes README.md, toc.md and every unit document into dir. Files
// whose bytes are unchanged are not rewritten.
func (r *Renderer) Render(dir string, p *plan.Project, st state.State) error {
	p = ApplyState(p, st)
	for _, u := range p.Units {
		if err := r.writeUnit(dir, p, st, u.Index); err != nil {
			return err
		}
	}
	if err := r.write(filepath.Join(dir, plan.ReadmeFile), r.ReadmeDocument(p), KindReadme); err != nil {
		return err
	}
	return r.writeTOC(dir, p, st)
}

// RenderUnitAndTOC rewrites one unit document and the table of contents.
func (r *Renderer) RenderUnitAndTOC(dir string, p *plan.Project, st state.State, index int) error {
	if err := p.CheckIndex(index); err != nil {
		return err
	}
	p = ApplyState(p, st)
	if err := r.writeUnit(dir, p, st, index); err != nil {
		return err
	}
	return r.writeTOC(dir, p, st)
}

func (r *Renderer) writeUnit(dir string, p *plan.Project, st state.State, index int) error {
	doc, err := r.UnitDocument(p, st, index)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, plan.UnitsDir, plan.UnitFileName(index))
	return r.write(path, doc, KindUnit)
}

func (r *Renderer) writeTOC(dir string, p *plan.Project, st state.State) error {
	return r.write(filepath.Join(dir, plan.TOCFile), r.TOCDocument(p, st), KindTOC)
}

func (r *Renderer) write(path string, data []byte, kind string) error {
	wrote, err := fsutil.WriteIfChanged(path, data)
	if err != nil {
		return perrors.Persistence("render "+filepath.Base(path), err)
	}
	if wrote {
		r.logger.Debug().Str("path", path).Msg("rendered")
		if r.recorder != nil {
			r.recorder.RecordRender(kind)
		}
	}
	return nil
}

// link targets differ by style: wiki links are vault-relative without the
// extension, inline links are relative to the linking file.
func (r *Renderer) unitTarget(index int, fromUnit bool) string {
	name := plan.UnitFileName(index)
	if r.style == LinkObsidian {
		return plan.UnitsDir + "/" + strings.TrimSuffix(name, ".md")
	}
	if fromUnit {
		return name
	}
	return plan.UnitsDir + "/" + name
}

func (r *Renderer) tocTarget() string {
	if r.style == LinkObsidian {
		return strings.TrimSuffix(plan.TOCFile, ".md")
	}
	return "../" + plan.TOCFile
}

// TOCDocument renders the table of contents.
func (r *Renderer) TOCDocument(p *plan.Project, st state.State) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", inline(p.Title))
	if purpose := inline(p.Purpose); purpose != "" {
		fmt.Fprintf(&b, "> %s\n\n", purpose)
	}
	fmt.Fprintf(&b, "**Topic:** %s  \n", inline(p.Topic))
	fmt.Fprintf(&b, "**Created:** %s  \n", p.CreatedAt.UTC().Format("2006-01-02"))
	done := 0
	for _, u := range p.Units {
		if st.IsDone(u.Index) {
			done++
		}
	}
	fmt.Fprintf(&b, "**Progress:** %d/%d units complete\n\n", done, len(p.Units))

	b.WriteString("## Units\n\n")
	b.WriteString("| # | Unit | Status |\n")
	b.WriteString("|---|------|--------|\n")
	for _, u := range p.Units {
		status := st.StatusOf(u.Index)
		fmt.Fprintf(&b, "| %d | %s | %s %s |\n",
			u.Index, FormatCellLink(r.style, r.unitTarget(u.Index, false), u.Title), statusGlyph[status], statusLabel[status])
	}

	b.WriteString("\n## Next Up\n\n")
	if done == len(p.Units) && done > 0 {
		b.WriteString("All units complete.\n")
	} else if cur := st.CurrentUnit; cur >= 1 && cur <= len(p.Units) {
		u := p.Units[cur-1]
		fmt.Fprintf(&b, "Continue with %s.\n", FormatLink(r.style, r.unitTarget(u.Index, false), u.Title))
	}
	return b.Bytes()
}

// ReadmeDocument renders the project's quick-start page. It carries no
// progress, so only a full Render rewrites it.
func (r *Renderer) ReadmeDocument(p *plan.Project) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", inline(p.Title))
	fmt.Fprintf(&b, "A study plan for %s.\n", inline(p.Topic))
	if purpose := inline(p.Purpose); purpose != "" {
		fmt.Fprintf(&b, "\n> %s\n", purpose)
	}

	b.WriteString("\n## Quick Start\n\n")
	fmt.Fprintf(&b, "1. Read the overview in %s.\n", FormatLink(r.style, r.readmeTOCTarget(), "Table of Contents"))
	if len(p.Units) > 0 {
		u := p.Units[0]
		fmt.Fprintf(&b, "2. Start with %s.\n", FormatLink(r.style, r.unitTarget(u.Index, false), "Unit 1: "+u.Title))
	}
	fmt.Fprintf(&b, "3. Mark a unit done with `studyplan unit %s <n> --done`.\n", p.ID)
	fmt.Fprintf(&b, "4. Ask for a better unit with `studyplan unit %s <n> --refine \"<feedback>\"`.\n", p.ID)

	b.WriteString("\n## Project Files\n\n")
	fmt.Fprintf(&b, "- `%s`: overview and progress\n", plan.TOCFile)
	fmt.Fprintf(&b, "- `%s/`: one file per unit\n", plan.UnitsDir)
	fmt.Fprintf(&b, "- `%s`: the plan itself\n", plan.ProjectFile)
	fmt.Fprintf(&b, "- `%s`: progress and notes\n", plan.StateFile)
	return b.Bytes()
}

func (r *Renderer) readmeTOCTarget() string {
	if r.style == LinkObsidian {
		return strings.TrimSuffix(plan.TOCFile, ".md")
	}
	return plan.TOCFile
}

// UnitDocument renders one unit with its front matter.
func (r *Renderer) UnitDocument(p *plan.Project, st state.State, index int) ([]byte, error) {
	u, err := p.Unit(index)
	if err != nil {
		return nil, err
	}
	status := st.StatusOf(index)
	source := "ai"
	if u.UsedFallback {
		source = "fallback"
	}
	meta := UnitFrontMatter{
		Title:             u.Title,
		Unit:              u.Index,
		Project:           p.ID,
		Objective:         u.Objective,
		Status:            status,
		Objectives:        u.Objectives,
		EstimatedDuration: u.EstimatedDuration,
		ContentSource:     source,
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "# Unit %d: %s\n\n", u.Index, inline(u.Title))
	fmt.Fprintf(&b, "**Project:** %s  \n", FormatLink(r.style, r.tocTarget(), p.Title))
	fmt.Fprintf(&b, "**Status:** %s %s", statusGlyph[status], statusLabel[status])
	if u.EstimatedDuration != "" {
		fmt.Fprintf(&b, "  \n**Estimated duration:** %s", inline(u.EstimatedDuration))
	}
	b.WriteString("\n\n## Learning Objectives\n\n")
	for _, o := range u.LearningObjectives() {
		fmt.Fprintf(&b, "- %s\n", inline(o))
	}

	b.WriteString("\n## Resources\n\n")
	if len(u.Resources) == 0 {
		b.WriteString("_No resources yet._\n")
	}
	for _, res := range u.Resources {
		fmt.Fprintf(&b, "- %s %s", resourceGlyph[res.Type], FormatLink(r.style, res.URL, res.Title))
		detail := string(res.Type)
		if res.EstimatedTime != "" {
			detail += ", " + inline(res.EstimatedTime)
		}
		fmt.Fprintf(&b, " (%s)\n", detail)
		if d := inline(res.Description); d != "" {
			fmt.Fprintf(&b, "  %s\n", d)
		}
	}

	b.WriteString("\n## Practice & Engagement\n\n")
	if len(u.Tasks) == 0 {
		b.WriteString("_No tasks yet._\n")
	}
	for i, t := range u.Tasks {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "### %s %s\n\n", taskGlyph[t.Type], inline(t.Title))
		label := string(t.Type)
		if t.EstimatedTime != "" {
			label += " · " + inline(t.EstimatedTime)
		}
		fmt.Fprintf(&b, "*%s*\n\n%s\n", label, strings.TrimSpace(t.Description))
	}

	b.WriteString("\n## Your Notes\n\n")
	if note := strings.TrimSpace(st.Note(index)); note != "" {
		b.WriteString(note + "\n")
	} else {
		b.WriteString("_Add your notes here._\n")
	}

	b.WriteString("\n---\n\n")
	var nav []string
	if index > 1 {
		prev := p.Units[index-2]
		nav = append(nav, "← "+FormatLink(r.style, r.unitTarget(prev.Index, true), prev.Title))
	}
	nav = append(nav, FormatLink(r.style, r.tocTarget(), "Table of Contents"))
	if index < len(p.Units) {
		next := p.Units[index]
		nav = append(nav, FormatLink(r.style, r.unitTarget(next.Index, true), next.Title)+" →")
	}
	b.WriteString(strings.Join(nav, " | ") + "\n")

	return WriteFrontMatter(meta, b.Bytes())
}
