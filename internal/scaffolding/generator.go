// Package scaffolding creates component folders from built-in templates.
package scaffolding

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/bang/internal/config"
	"github.com/conneroisu/bang/internal/discovery"
	bangerrors "github.com/conneroisu/bang/internal/errors"
)

// ComponentGenerator handles component scaffolding
type ComponentGenerator struct {
	templates map[string]ComponentTemplate
	layout    *config.Config
}

// GenerateOptions holds options for component generation
type GenerateOptions struct {
	Name     string
	Template string
	// Force overwrites existing files.
	Force bool
}

// NewComponentGenerator creates a generator writing under cfg's components
// path with cfg's file names.
func NewComponentGenerator(cfg *config.Config) *ComponentGenerator {
	return &ComponentGenerator{
		templates: GetBuiltinTemplates(),
		layout:    cfg,
	}
}

// Generate writes the component folder and returns the files it created, in
// markup, style, script order.
func (g *ComponentGenerator) Generate(opts GenerateOptions) ([]string, error) {
	if err := ValidateComponentName(opts.Name); err != nil {
		return nil, err
	}
	if opts.Template == "" {
		opts.Template = "basic"
	}
	tmpl, exists := g.templates[opts.Template]
	if !exists {
		return nil, bangerrors.NewUsageError(bangerrors.ErrCodeValueRequired,
			fmt.Sprintf("template '%s' not found", opts.Template))
	}

	ctx := TemplateContext{
		Name:  opts.Name,
		Title: Title(opts.Name),
		Date:  time.Now().Format("2006-01-02"),
	}

	dir := filepath.Join(g.layout.ComponentsPath, opts.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create component directory: %w", err)
	}

	files := []struct {
		name    string
		content string
	}{
		{g.layout.HTMLFile, tmpl.Markup},
		{g.layout.StyleFile, tmpl.Style},
		{g.layout.ScriptFile, tmpl.Script},
	}

	var created []string
	for _, f := range files {
		if f.content == "" {
			continue
		}
		target := filepath.Join(dir, f.name)
		if err := g.generateFile(target, f.content, ctx, opts.Force); err != nil {
			return created, err
		}
		created = append(created, target)
	}
	return created, nil
}

// ListTemplates returns available templates sorted by name.
func (g *ComponentGenerator) ListTemplates() []ComponentTemplate {
	out := make([]ComponentTemplate, 0, len(g.templates))
	for _, tmpl := range g.templates {
		out = append(out, tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddCustomTemplate adds a custom template
func (g *ComponentGenerator) AddCustomTemplate(tmpl ComponentTemplate) {
	g.templates[tmpl.Name] = tmpl
}

func (g *ComponentGenerator) generateFile(filename, content string, ctx TemplateContext, force bool) error {
	tmpl, err := template.New(filepath.Base(filename)).Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(filename, flags, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return bangerrors.NewUsageError(bangerrors.ErrCodeAlreadyDefined,
				fmt.Sprintf("%s already exists, use --force to overwrite", filename))
		}
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := tmpl.Execute(file, ctx); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

// ValidateComponentName checks that name can be used as a component tag.
func ValidateComponentName(name string) error {
	if name == "" {
		return bangerrors.NewUsageError(bangerrors.ErrCodeInvalidName, "component name cannot be empty")
	}
	if name != strings.ToLower(name) {
		return bangerrors.NewUsageError(bangerrors.ErrCodeInvalidName,
			fmt.Sprintf("component name %q must be lowercase", name))
	}
	if !discovery.IsComponentName(name) || strings.ContainsAny(name, `/\ `) {
		return bangerrors.NewUsageError(bangerrors.ErrCodeInvalidName,
			fmt.Sprintf("component name %q needs a hyphen between word characters", name))
	}
	return nil
}

// Title turns a tag into words: my-fancy-card becomes My Fancy Card.
func Title(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "-", " "))
}
