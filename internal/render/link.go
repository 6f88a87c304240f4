package render

import (
	"regexp"
	"strings"
)

// LinkStyle selects the cross-reference syntax.
type LinkStyle string

const (
	// LinkObsidian renders [[target|title]].
	LinkObsidian LinkStyle = "obsidian"
	// LinkMarkdown renders [title](target).
	LinkMarkdown LinkStyle = "markdown"
)

// Link is a parsed cross-reference.
type Link struct {
	Target string
	Title  string
}

var (
	titleEscaper = strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`, `|`, `\|`)
	destEscaper  = strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	unescapeRe   = regexp.MustCompile(`\\([\\\[\]|])`)
	destUnescRe  = regexp.MustCompile(`\\([\\()])`)

	wikiLinkRe = regexp.MustCompile(`^\[\[((?:\\.|[^\\|\]])*)\|((?:\\.|[^\\\]])*)\]\]$`)

	// Inside a table cell the wiki separator is written \|.
	wikiCellLinkRe = regexp.MustCompile(`^\[\[((?:\\[^|]|[^\\|\]])*)\\\|((?:\\.|[^\\\]])*)\]\]$`)
	mdLinkRe   = regexp.MustCompile(`^\[((?:\\.|[^\\\]])*)\]\(((?:\\.|[^()\s\\])*)\)$`)
)

// inline collapses line breaks so a title fits on one Markdown line.
func inline(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func escapeTitle(s string) string {
	return titleEscaper.Replace(inline(s))
}

func unescapeTitle(s string) string {
	return unescapeRe.ReplaceAllString(s, "$1")
}

// FormatLink renders target and title in the given style. External URLs are
// always inline links because wiki links only resolve vault notes.
func FormatLink(style LinkStyle, target, title string) string {
	if style == LinkObsidian && !isExternal(target) {
		return "[[" + escapeTitle(target) + "|" + escapeTitle(title) + "]]"
	}
	return "[" + escapeTitle(title) + "](" + destEscaper.Replace(target) + ")"
}

// FormatCellLink is FormatLink for a table cell: every pipe is escaped so
// the link stays in one cell.
func FormatCellLink(style LinkStyle, target, title string) string {
	link := FormatLink(style, target, title)
	var b strings.Builder
	b.Grow(len(link) + 2)
	for i := 0; i < len(link); i++ {
		switch c := link[i]; {
		case c == '\\' && i+1 < len(link):
			b.WriteByte(c)
			i++
			b.WriteByte(link[i])
		case c == '|':
			b.WriteString(`\|`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ParseLink reverses FormatLink and FormatCellLink for either style.
func ParseLink(s string) (Link, bool) {
	s = strings.TrimSpace(s)
	if m := wikiLinkRe.FindStringSubmatch(s); m != nil {
		return Link{Target: unescapeTitle(m[1]), Title: unescapeTitle(m[2])}, true
	}
	if m := wikiCellLinkRe.FindStringSubmatch(s); m != nil {
		return Link{Target: unescapeTitle(m[1]), Title: unescapeTitle(m[2])}, true
	}
	if m := mdLinkRe.FindStringSubmatch(s); m != nil {
		return Link{Target: destUnescRe.ReplaceAllString(m[2], "$1"), Title: unescapeTitle(m[1])}, true
	}
	return Link{}, false
}

func isExternal(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}
