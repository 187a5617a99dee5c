package loam

// TemplateMetadata is the frontmatter of a template document.
// It uses "mapstructure" tags to match the YAML keys written by template authors.
type TemplateMetadata struct {
	Name        string `json:"name" mapstructure:"name"`
	Language    string `json:"language" mapstructure:"language"`
	Description string `json:"description" mapstructure:"description"`
	Params      []any  `json:"params" mapstructure:"params"`
}
