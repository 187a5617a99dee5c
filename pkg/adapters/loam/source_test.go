package loam

import (
	"context"
	"testing"

	"github.com/aretw0/kernelctx/internal/testutils"
	"github.com/aretw0/kernelctx/pkg/domain"
	tmpl "github.com/aretw0/kernelctx/pkg/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_GetAndRender(t *testing.T) {
	dir := t.TempDir()
	testutils.WriteFiles(t, dir, map[string]string{
		"add_parameter.md": `---
language: python3
params:
  - name: parameter_id
    type: string
  - name: value
    type: "?float"
    default: 0.5
---
model.add_parameter({{ py .parameter_id }}, value={{ py .value }})`,
	})

	src, err := Open(dir)
	require.NoError(t, err)

	tpl, err := src.Get(context.Background(), "add_parameter")
	require.NoError(t, err)
	assert.Equal(t, "add_parameter", tpl.Name)
	assert.Equal(t, "python3", tpl.Language)
	require.Len(t, tpl.Params, 2)
	assert.True(t, tpl.Params[1].HasDefault)

	code, err := tmpl.NewRenderer(src).Render(context.Background(), "add_parameter", map[string]any{"parameter_id": "beta"})
	require.NoError(t, err)
	assert.Contains(t, code, `model.add_parameter("beta", value=0.5)`)
}

func TestSource_ListUsesDeclaredNames(t *testing.T) {
	dir := t.TempDir()
	testutils.WriteFiles(t, dir, map[string]string{
		"one.md": "---\nname: first\n---\nprint(1)",
		"two.md": "---\nlanguage: julia\n---\nprintln(2)",
	})

	src, err := Open(dir)
	require.NoError(t, err)

	names, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "two"}, names)

	tpl, err := src.Get(context.Background(), "first")
	require.NoError(t, err)
	assert.Contains(t, tpl.Text, "print(1)")
}

func TestSource_NotFound(t *testing.T) {
	src, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = src.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
}

func TestSource_DetectsCollisions(t *testing.T) {
	dir := t.TempDir()
	testutils.WriteFiles(t, dir, map[string]string{
		"a.md": "---\nname: same\n---\na",
		"b.md": "---\nname: same\n---\nb",
	})

	src, err := Open(dir)
	require.NoError(t, err)

	_, err = src.List(context.Background())
	assert.ErrorContains(t, err, "collision detected")
}
