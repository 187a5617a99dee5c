package domain

// Template is a named code resource rendered by substitution.
type Template struct {
	Name        string          `json:"name" yaml:"name" mapstructure:"name"`
	Language    string          `json:"language" yaml:"language" mapstructure:"language"`
	Description string          `json:"description,omitempty" yaml:"description" mapstructure:"description"`
	Params      []TemplateParam `json:"params,omitempty" yaml:"params" mapstructure:"params"`
	Text        string          `json:"text" yaml:"-" mapstructure:"-"`
	Source      string          `json:"source,omitempty" yaml:"-" mapstructure:"-"`
}

// TemplateParam declares one placeholder. HasDefault distinguishes an explicit
// null default from no default at all.
type TemplateParam struct {
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Type        string `json:"type,omitempty" yaml:"type" mapstructure:"type"`
	Default     any    `json:"default,omitempty" yaml:"default" mapstructure:"default"`
	HasDefault  bool   `json:"has_default" yaml:"-" mapstructure:"-"`
	Description string `json:"description,omitempty" yaml:"description" mapstructure:"description"`
}

// Param looks up a declared parameter by name.
func (t Template) Param(name string) (TemplateParam, bool) {
	for _, p := range t.Params {
		if p.Name == name {
			return p, true
		}
	}
	return TemplateParam{}, false
}
