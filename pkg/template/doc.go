/*
Package template renders named code templates into executable code strings.

A template is a text resource with a YAML frontmatter that declares its language
and parameters, followed by a body written in text/template syntax:

	---
	name: replace_template_name
	language: python3
	params:
	  - name: var_name
	    type: identifier
	    default: model
	  - name: old_name
	    type: string
	  - name: new_name
	    type: string
	---
	{{ .var_name }} = replace_template_name({{ .var_name }}, {{ py .old_name }}, {{ py .new_name }})

Rendering is a pure function of (template, values): defaults fill omitted
parameters, every referenced placeholder must resolve, declared types are checked
before any text is produced, and string values are sanitised. The py and jl
functions emit Python and Julia literals; ident splices a checked identifier.
*/
package template
