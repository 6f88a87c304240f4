package render

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/studyplan/internal/plan"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("render: missing frontmatter")
	// ErrMalformedFrontMatter indicates the closing fence was not found.
	ErrMalformedFrontMatter = errors.New("render: malformed frontmatter")
)

// UnitFrontMatter is the metadata block at the top of a unit document.
type UnitFrontMatter struct {
	Title             string      `yaml:"title"`
	Unit              int         `yaml:"unit"`
	Project           string      `yaml:"project"`
	Objective         string      `yaml:"objective"`
	Status            plan.Status `yaml:"status"`
	Objectives        []string    `yaml:"objectives,omitempty"`
	EstimatedDuration string      `yaml:"estimated_duration,omitempty"`
	ContentSource     string      `yaml:"content_source"`
}

// WriteFrontMatter renders meta + body with YAML fences. yaml.v3 quotes any
// scalar whose plain form would be ambiguous, so titles containing colons,
// quotes, pipes or leading dashes survive a round trip.
func WriteFrontMatter(meta UnitFrontMatter, body []byte) ([]byte, error) {
	var yb bytes.Buffer
	enc := yaml.NewEncoder(&yb)
	enc.SetIndent(2)
	if err := enc.Encode(meta); err != nil {
		return nil, fmt.Errorf("render: encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("render: encode frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(yb.Bytes(), "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

// ParseFrontMatter extracts the metadata block and body from a unit document.
func ParseFrontMatter(content []byte) (UnitFrontMatter, []byte, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return UnitFrontMatter{}, nil, ErrMissingFrontMatter
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return UnitFrontMatter{}, nil, ErrMalformedFrontMatter
	}
	var meta UnitFrontMatter
	if err := yaml.Unmarshal(parts[0], &meta); err != nil {
		return UnitFrontMatter{}, nil, fmt.Errorf("render: parse frontmatter: %w", err)
	}
	return meta, bytes.TrimPrefix(parts[1], []byte("\n")), nil
}
