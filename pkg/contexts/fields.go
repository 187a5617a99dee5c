package contexts

import (
	"fmt"
	"strings"

	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// Missing returns the required keys absent from content, in the order given.
// A key holding null counts as absent.
func Missing(content map[string]any, required ...string) []string {
	var missing []string
	for _, key := range required {
		if v, ok := content[key]; !ok || v == nil {
			missing = append(missing, key)
		}
	}
	return missing
}

// Pick returns the listed fields present in content, values untouched.
func Pick(content map[string]any, fields ...string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, key := range fields {
		if v, ok := content[key]; ok {
			out[key] = v
		}
	}
	return out
}

// Decode copies a content mapping into a typed request record using the
// record's json tags. Type mismatches are reported as invalid parameters.
func Decode(content map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(content); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidParameter, err)
	}
	return nil
}

// String returns content[key] when it is a non-empty string, else def.
func String(content map[string]any, key, def string) string {
	if s, ok := content[key].(string); ok && s != "" {
		return s
	}
	return def
}

// Plural turns a document type into its storage resource kind.
func Plural(kind string) string {
	if strings.HasSuffix(kind, "s") {
		return kind
	}
	return kind + "s"
}
