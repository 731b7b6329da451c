package notifications

import (
	"embed"
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"
)

//go:embed templates/*.tpl
var templateFS embed.FS

// TemplateSet holds the compiled notification body templates, one per
// resulting lifecycle flag plus the batch error template.
type TemplateSet struct {
	templates map[string]*pongo2.Template
}

// LoadTemplates compiles the embedded template set.
func LoadTemplates() (*TemplateSet, error) {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	set := &TemplateSet{templates: make(map[string]*pongo2.Template, len(entries))}
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".tpl")
		data, err := templateFS.ReadFile("templates/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
		tpl, err := pongo2.FromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("compile template %s: %w", name, err)
		}
		set.templates[name] = tpl
	}
	return set, nil
}

// Render executes the named template with the given substitutions.
func (s *TemplateSet) Render(name string, subs map[string]any) (string, error) {
	tpl, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("no template %q", name)
	}
	out, err := tpl.Execute(pongo2.Context(subs))
	if err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return out, nil
}
