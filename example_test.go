package kernelctx_test

import (
	"context"
	"fmt"

	"github.com/aretw0/kernelctx"
	"github.com/aretw0/kernelctx/internal/testutils"
	"github.com/aretw0/kernelctx/pkg/contexts/mimi"
	"github.com/aretw0/kernelctx/pkg/ports"
)

func Example() {
	ctx := context.Background()
	host := kernelctx.New(
		kernelctx.WithInterpreters(func(ctx context.Context, language string) (ports.Interpreter, error) {
			return testutils.NewInterpreter(), nil
		}),
	)

	id, err := host.Setup(ctx, mimi.Slug, nil, nil)
	if err != nil {
		fmt.Println("setup failed:", err)
		return
	}

	res, err := host.InvokeTool(ctx, id, "generate_plot_var_code", map[string]any{
		"model_name":     "m",
		"component_name": "climate",
		"variable_name":  "T",
	})
	if err != nil {
		fmt.Println("tool failed:", err)
		return
	}
	fmt.Println(res.CodeCell.Language)
	fmt.Println(res.CodeCell.Content)
	// Output:
	// julia
	// Mimi.plot(m, :climate, :T)
}
