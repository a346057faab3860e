package template

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)
	ifBlockRe     = regexp.MustCompile(`(?s)\{\{#if\s+(\w+)\s*\}\}(.*?)\{\{/if\}\}`)
)

// Engine renders {{variable}} templates
type Engine struct{}

// NewEngine creates a new template engine
func NewEngine() *Engine {
	return &Engine{}
}

// Render renders a template with provided variables.
// Values substituted into the HTML part are escaped.
func (e *Engine) Render(tmpl *Template, vars Vars) (*RenderResult, error) {
	if err := e.Validate(tmpl); err != nil {
		return nil, err
	}

	result := &RenderResult{
		Subject: e.RenderString(tmpl.Subject, vars),
		Text:    e.RenderString(tmpl.Text, vars),
	}
	if tmpl.HTML != "" {
		result.HTML = render(tmpl.HTML, vars, html.EscapeString)
	}
	return result, nil
}

// RenderString substitutes variables in a single string.
// Placeholders without a value are left as is.
func (e *Engine) RenderString(s string, vars Vars) string {
	return render(s, vars, nil)
}

// Validate checks that every {{ has a matching }} and every {{#if}} is closed
func (e *Engine) Validate(tmpl *Template) error {
	parts := []struct {
		name  string
		value string
	}{
		{"subject", tmpl.Subject},
		{"html", tmpl.HTML},
		{"text", tmpl.Text},
	}
	for _, p := range parts {
		if err := validate(p.value); err != nil {
			return fmt.Errorf("invalid %s template: %w", p.name, err)
		}
	}
	return nil
}

// Variables returns the sorted set of variable names referenced by s
func Variables(s string) []string {
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		seen[m[1]] = true
	}
	for _, m := range ifBlockRe.FindAllStringSubmatch(s, -1) {
		seen[m[1]] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func render(s string, vars Vars, escape func(string) string) string {
	if s == "" {
		return ""
	}

	s = ifBlockRe.ReplaceAllStringFunc(s, func(block string) string {
		m := ifBlockRe.FindStringSubmatch(block)
		if vars[m[1]] == "" {
			return ""
		}
		return m[2]
	})

	return placeholderRe.ReplaceAllStringFunc(s, func(ph string) string {
		name := placeholderRe.FindStringSubmatch(ph)[1]
		value, ok := vars[name]
		if !ok {
			return ph
		}
		if escape != nil {
			return escape(value)
		}
		return value
	})
}

func validate(s string) error {
	if open, closed := strings.Count(s, "{{"), strings.Count(s, "}}"); open != closed {
		return fmt.Errorf("unbalanced braces: %d opening, %d closing", open, closed)
	}
	if opens, closes := strings.Count(s, "{{#if"), strings.Count(s, "{{/if}}"); opens != closes {
		return fmt.Errorf("unclosed if block")
	}
	return nil
}
