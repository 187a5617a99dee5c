// Package mimi implements the mimi context: an assistant for Mimi integrated
// assessment models in a Julia kernel. Every tool inspects the kernel; only
// the code cell tools produce code for the user.
package mimi

import (
	"context"
	"embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/kernelctx/pkg/agent"
	"github.com/aretw0/kernelctx/pkg/contexts"
	"github.com/aretw0/kernelctx/pkg/domain"
)

const (
	Slug     = "mimi"
	Language = "julia"
)

//go:embed procedures
var procedures embed.FS

var fence = regexp.MustCompile("```\\w*")

// Kind registers the context.
func Kind() contexts.Kind {
	return contexts.Kind{
		Slug:        Slug,
		Language:    Language,
		Description: "Explore and run Mimi integrated assessment models in Julia.",
		Procedures:  procedures,
		New:         New,
	}
}

// Context is a mimi instance.
type Context struct {
	*contexts.Base

	mu sync.Mutex
	// functions caches every docstring fetched so far, by qualified name.
	functions map[string]string
}

// New creates an instance that is not set up yet.
func New(env contexts.Env) (contexts.Context, error) {
	c := &Context{
		Base:      contexts.NewBase(Slug, Language, env),
		functions: make(map[string]string),
	}

	name := agent.Param{Name: "name", Type: "string", Description: "Name, or part of the name, of the package.", Required: true}
	pkg := agent.Param{Name: "package_name", Type: "string", Description: "Name of a loaded package.", Required: true}

	err := c.SetTools(
		agent.DirectTool("search_installed_packages",
			"Search installed packages by a case-insensitive substring of their name.",
			[]agent.Param{name},
			c.searchInstalled,
		),
		agent.DirectTool("search_package_registries",
			"Search packages that can be installed with Pkg.add. Check installed packages first.",
			[]agent.Param{name},
			c.evaluate("search_packages", func(args map[string]any) map[string]any {
				return map[string]any{"module": args["name"]}
			}),
		),
		agent.DirectTool("get_model_info",
			"Describe the parameters and variables of each component of a Mimi model. Run this before asking the user for details.",
			[]agent.Param{
				{Name: "model_var_name", Type: "identifier", Description: "Variable holding the Mimi model.", Required: true},
			},
			c.evaluate("model_info", func(args map[string]any) map[string]any {
				return map[string]any{"model": args["model_var_name"]}
			}),
		),
		agent.DirectTool("retrieve_documentation_for_module",
			"Get the documentation of a module as markdown.",
			[]agent.Param{pkg},
			c.moduleDocs,
		),
		agent.DirectTool("get_available_functions",
			"List the functions a module exports along with their docstrings.",
			[]agent.Param{pkg},
			c.availableFunctions,
		),
		agent.DirectTool("get_functions_docstring",
			"Get the docstrings of functions by fully qualified name. Use it before writing code that calls them.",
			[]agent.Param{
				{Name: "list_of_function_names", Type: "[string]", Description: "Qualified names, e.g. Mimi.plot.", Required: true},
			},
			c.functionDocs,
		),
		agent.CodeCellTool("generate_plot_var_code", Language,
			"Generate the code plotting one variable of a model component.",
			[]agent.Param{
				{Name: "model_name", Type: "identifier", Description: "Variable holding the Mimi model.", Required: true},
				{Name: "component_name", Type: "identifier", Description: "Component of interest.", Required: true},
				{Name: "variable_name", Type: "identifier", Description: "Variable inside the component.", Required: true},
			},
			c.CodeCell("plot_var"),
		),
		agent.CodeCellTool("submit_custom_code", Language,
			"Submit Julia code to the user. Wrap the code in a block delimited by three backticks.",
			[]agent.Param{
				{Name: "code", Type: "string", Description: "Julia code block inside triple backticks.", Required: true},
			},
			submitCode,
		),
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Setup loads Mimi in the kernel.
func (c *Context) Setup(ctx context.Context, config map[string]any, parent *domain.Header) error {
	if err := c.Execute(ctx, "setup", nil, parent); err != nil {
		return err
	}
	c.State().Config = config
	c.MarkReady()
	return nil
}

// AutoContext describes the Julia session and the functions whose docs were
// fetched so far.
func (c *Context) AutoContext() string {
	var b strings.Builder
	b.WriteString("You are assisting in important scientific tasks with Mimi integrated assessment models in a Julia REPL.\n")
	b.WriteString("If you don't have the details necessary, ask the user for them.\n")

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.functions) > 0 {
		fmt.Fprintf(&b, "Docstrings are known for %d functions: %s.\n", len(c.functions), strings.Join(sortedKeys(c.functions), ", "))
	}
	return b.String()
}

// evaluate returns a handler that evaluates name with the values built from
// the tool arguments and hands back the return slot.
func (c *Context) evaluate(name string, values func(map[string]any) map[string]any) agent.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		eval, err := c.Evaluate(ctx, name, values(args), nil)
		if err != nil {
			return nil, err
		}
		return eval.Return, nil
	}
}

func (c *Context) searchInstalled(ctx context.Context, args map[string]any) (any, error) {
	eval, err := c.Evaluate(ctx, "installed_packages", nil, nil)
	if err != nil {
		return nil, err
	}
	installed, ok := eval.Return.([]any)
	if !ok {
		return nil, fmt.Errorf("installed_packages returned %T, want a list", eval.Return)
	}

	needle := strings.ToLower(contexts.String(args, "name", ""))
	matches := []string{}
	for _, v := range installed {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			matches = append(matches, s)
		}
	}
	return matches, nil
}

func (c *Context) moduleDocs(ctx context.Context, args map[string]any) (any, error) {
	eval, err := c.Evaluate(ctx, "module_docs", map[string]any{"module": args["package_name"]}, nil)
	if err != nil {
		return nil, err
	}
	docs, ok := eval.ReturnMap()["documentation"]
	if !ok {
		return nil, fmt.Errorf("module_docs returned no documentation for %v", args["package_name"])
	}
	return docs, nil
}

func (c *Context) availableFunctions(ctx context.Context, args map[string]any) (any, error) {
	eval, err := c.Evaluate(ctx, "module_functions", map[string]any{"module": args["package_name"]}, nil)
	if err != nil {
		return nil, err
	}
	return c.remember(eval.ReturnMap()), nil
}

func (c *Context) functionDocs(ctx context.Context, args map[string]any) (any, error) {
	eval, err := c.Evaluate(ctx, "function_docs", map[string]any{"function_names": args["list_of_function_names"]}, nil)
	if err != nil {
		return nil, err
	}
	return c.remember(eval.ReturnMap()), nil
}

// remember caches docs and formats them as one "name: help" line per entry.
func (c *Context) remember(docs map[string]any) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	help := make(map[string]string, len(docs))
	for name, v := range docs {
		text := fmt.Sprint(v)
		help[name] = text
		c.functions[name] = text
	}

	var b strings.Builder
	for _, name := range sortedKeys(help) {
		fmt.Fprintf(&b, "%s: %s\n", name, help[name])
	}
	return b.String()
}

// submitCode extracts the code between the first pair of markdown fences.
// Unfenced input is submitted as is.
func submitCode(_ context.Context, args map[string]any) (any, error) {
	code := contexts.String(args, "code", "")
	if parts := fence.Split(code, 3); len(parts) >= 2 {
		code = parts[1]
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is empty", domain.ErrInvalidParameter)
	}
	return code, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
