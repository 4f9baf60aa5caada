package scaffolding

// ComponentTemplate is a starting point for a component folder. Each field
// is a text/template executed with a TemplateContext.
type ComponentTemplate struct {
	Name        string
	Description string
	Markup      string
	Style       string
	Script      string
}

// TemplateContext holds the context for template generation
type TemplateContext struct {
	// Name is the tag, for example my-card.
	Name string
	// Title is the tag as words, for example My Card.
	Title string
	Date  string
}

// GetBuiltinTemplates returns all built-in component templates
func GetBuiltinTemplates() map[string]ComponentTemplate {
	return map[string]ComponentTemplate{
		"basic":   getBasicTemplate(),
		"card":    getCardTemplate(),
		"list":    getListTemplate(),
		"counter": getCounterTemplate(),
	}
}

func getBasicTemplate() ComponentTemplate {
	return ComponentTemplate{
		Name:        "basic",
		Description: "A slot wrapped in a styled container",
		Markup: `<div class="{{.Name}}">
  <slot></slot>
</div>
`,
		Style: `:host {
  display: block;
}
`,
	}
}

func getCardTemplate() ComponentTemplate {
	return ComponentTemplate{
		Name:        "card",
		Description: "A titled card with a slot for its body",
		Markup: `<article class="card">
  <h2>${title}</h2>
  <slot></slot>
</article>
`,
		Style: `:host {
  display: block;
}

.card {
  border: 1px solid #ddd;
  border-radius: 0.5rem;
  padding: 1rem;
}

.card h2 {
  margin: 0 0 0.5rem;
}
`,
	}
}

func getListTemplate() ComponentTemplate {
	return ComponentTemplate{
		Name:        "list",
		Description: "Renders state.items, one entry per line",
		Markup: `<h3>{{.Title}}</h3>
<ul>
  ${items}
</ul>
`,
		Style: `ul {
  padding-left: 1.25rem;
}
`,
		Script: `{
  beforePrint: function (state) {
    var items = (state && state.items) || [];
    return {
      items: items.map(function (item) { return "<li>" + item + "</li>"; })
    };
  }
}
`,
	}
}

func getCounterTemplate() ComponentTemplate {
	return ComponentTemplate{
		Name:        "counter",
		Description: "A button whose click handler calls a component method",
		Markup: `<button onclick="increment">${label}</button>
<output>${count}</output>
`,
		Style: `button {
  cursor: pointer;
}
`,
		Script: `{
  methods: ["increment"],
  beforePrint: function (state) {
    return {
      label: (state && state.label) || "{{.Title}}",
      count: (state && state.count) || 0
    };
  }
}
`,
	}
}
