package tui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeBlock(t *testing.T) {
	assert.Equal(t, "```julia\nMimi.plot(m)\n```\n", CodeBlock("julia", "Mimi.plot(m)\n"))
	assert.Equal(t, "````python\nx = \"```\"\n````\n", CodeBlock("python", "x = \"```\""))
}

func TestRenderCode(t *testing.T) {
	out, err := RenderCode("python", "print('hello')")
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "0.1.0\n")
	assert.Contains(t, buf.String(), "v0.1.0")
}
