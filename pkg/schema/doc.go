// Package schema provides the parameter type system used to check template
// substitutions before any code text is produced.
//
// Types are written as short strings in template frontmatter:
//
//	string, int, float, bool      scalars
//	[string], [[string]]          lists of a type
//	object                        a mapping with string keys
//	any                           anything, including null
//	identifier                    a bare variable name safe to splice into code
//	?float                        nullable variant of any type
//
// Schemas map parameter names to types:
//
//	s, err := schema.ParseTypeMap(map[string]string{
//	    "var_name": "identifier",
//	    "strata":   "[string]",
//	    "value":    "?float",
//	})
//	if err := schema.Validate(s, values); err != nil {
//	    // err is an *AggregateError listing every failing field
//	}
package schema
