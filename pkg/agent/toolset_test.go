package agent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/kernelctx/pkg/agent"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renameTool(calls *int) agent.Tool {
	return agent.CodeCellTool("rename_template", "python3", "Rename a template.",
		[]agent.Param{
			{Name: "old_name", Type: "string", Description: "Current name", Required: true},
			{Name: "new_name", Type: "string", Description: "New name", Required: true},
			{Name: "var_name", Type: "identifier", Default: "model"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			*calls++
			return args["var_name"].(string) + ".rename(" + args["old_name"].(string) + ")", nil
		})
}

func TestToolset_CodeCellStopsLoop(t *testing.T) {
	calls := 0
	set, err := agent.NewToolset([]agent.Tool{renameTool(&calls)})
	require.NoError(t, err)

	res, err := set.Invoke(context.Background(), "rename_template", map[string]any{"old_name": "I", "new_name": "Infected"})
	require.NoError(t, err)
	assert.True(t, res.Stop)
	require.NotNil(t, res.CodeCell)
	assert.Equal(t, "code_cell", res.CodeCell.Action)
	assert.Equal(t, "python3", res.CodeCell.Language)
	assert.Equal(t, "model.rename(I)", res.CodeCell.Content)
	assert.Equal(t, 1, calls)
}

func TestToolset_DirectReturnsValue(t *testing.T) {
	set, err := agent.NewToolset([]agent.Tool{
		agent.DirectTool("list_datasets", "List datasets.", nil, func(ctx context.Context, args map[string]any) (any, error) {
			return []string{"ds"}, nil
		}),
	})
	require.NoError(t, err)

	res, err := set.Invoke(context.Background(), "list_datasets", nil)
	require.NoError(t, err)
	assert.False(t, res.Stop)
	assert.Nil(t, res.CodeCell)
	assert.Equal(t, []string{"ds"}, res.Value)
}

func TestToolset_RejectsBadArguments(t *testing.T) {
	calls := 0
	metrics := observability.NewMetrics()
	set, err := agent.NewToolset([]agent.Tool{renameTool(&calls)}, agent.WithMetrics(metrics))
	require.NoError(t, err)
	ctx := context.Background()

	cases := map[string]map[string]any{
		"missing required": {"old_name": "I"},
		"wrong type":       {"old_name": "I", "new_name": 3},
		"unknown argument": {"old_name": "I", "new_name": "J", "extra": true},
		"bad identifier":   {"old_name": "I", "new_name": "J", "var_name": "a b"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := set.Invoke(ctx, "rename_template", args)
			assert.ErrorIs(t, err, domain.ErrInvalidParameter)
		})
	}
	assert.Equal(t, 0, calls)
	assert.Equal(t, float64(len(cases)), testutil.ToFloat64(metrics.ToolInvocations.WithLabelValues("rename_template", "error")))
}

func TestToolset_UnknownTool(t *testing.T) {
	set, err := agent.NewToolset(nil)
	require.NoError(t, err)

	_, err = set.Invoke(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownTool)
}

func TestToolset_HandlerErrorPropagates(t *testing.T) {
	boom := errors.New("kernel gone")
	set, err := agent.NewToolset([]agent.Tool{
		agent.DirectTool("fail", "", nil, func(ctx context.Context, args map[string]any) (any, error) { return nil, boom }),
	})
	require.NoError(t, err)

	_, err = set.Invoke(context.Background(), "fail", map[string]any{})
	assert.ErrorIs(t, err, boom)
}

func TestToolset_Construction(t *testing.T) {
	noop := func(ctx context.Context, args map[string]any) (any, error) { return nil, nil }

	_, err := agent.NewToolset([]agent.Tool{agent.DirectTool("a", "", nil, noop), agent.DirectTool("a", "", nil, noop)})
	assert.ErrorContains(t, err, "duplicate")

	_, err = agent.NewToolset([]agent.Tool{agent.DirectTool("a", "", []agent.Param{{Name: "x", Type: "[?"}}, noop)})
	assert.Error(t, err)
}

func TestTool_InputSchema(t *testing.T) {
	tool := agent.DirectTool("t", "", []agent.Param{
		{Name: "value", Type: "?float", Required: true},
		{Name: "strata", Type: "[string]"},
	}, nil)

	doc, err := tool.InputSchema()
	require.NoError(t, err)
	props := doc["properties"].(map[string]any)
	assert.Equal(t, []any{"number", "null"}, props["value"].(map[string]any)["type"])
	assert.Equal(t, "array", props["strata"].(map[string]any)["type"])
	assert.Equal(t, []any{"value"}, doc["required"])
	assert.Equal(t, false, doc["additionalProperties"])
}
