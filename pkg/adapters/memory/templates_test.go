package memory_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/aretw0/kernelctx/pkg/adapters/memory"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplatesFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"procedures/setup.md": {Data: []byte("---\nlanguage: julia\n---\nusing Mimi\n")},
		"procedures/rename.tmpl": {Data: []byte(`---
name: rename
params:
  - name: old_name
    type: string
---
x = {{ py .old_name }}
`)},
		"procedures/README.txt": {Data: []byte("ignored")},
	}

	src, err := memory.NewTemplatesFromFS(fsys, "procedures")
	require.NoError(t, err)

	names, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"rename", "setup"}, names)

	setup, err := src.Get(context.Background(), "setup")
	require.NoError(t, err)
	assert.Equal(t, "julia", setup.Language)
	assert.Equal(t, "using Mimi\n", setup.Text)
	assert.Equal(t, "procedures/setup.md", setup.Source)

	_, err = src.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
}

func TestTemplatesFromFS_Collision(t *testing.T) {
	fsys := fstest.MapFS{
		"p/a.md":   {Data: []byte("a")},
		"p/a.tmpl": {Data: []byte("b")},
	}
	_, err := memory.NewTemplatesFromFS(fsys, "p")
	assert.ErrorContains(t, err, "collision detected")
}
