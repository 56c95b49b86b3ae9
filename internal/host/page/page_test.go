package page

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cellrun/internal/host"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `title:: Notebook

- intro text
- run this
  jupyter:: http://localhost:8888/?token=abc
  ` + "```python" + `
  for i in range(2):
      print(i)

  ` + "```" + `
- id:: 6f1c2b5e-0000-4000-8000-000000000001
  pinned
`

func writePage(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.md")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestParse(t *testing.T) {
	p := Parse(sample)
	blocks := p.Blocks()
	require.Len(t, blocks, 3)

	assert.Equal(t, "intro text", blocks[0].Content)
	assert.Contains(t, blocks[1].Content, "```python\nfor i in range(2):\n    print(i)\n\n```")
	assert.Equal(t, "http://localhost:8888/?token=abc", blocks[1].Properties["jupyter"])
	assert.Equal(t, "6f1c2b5e-0000-4000-8000-000000000001", blocks[2].UUID)
	assert.NotEmpty(t, blocks[0].UUID)
}

func TestRoundTrip(t *testing.T) {
	p := Parse(sample)
	again := Parse(p.String())

	a, b := p.Blocks(), again.Blocks()
	require.Len(t, b, len(a))
	for i := range a {
		assert.Equal(t, a[i].Content, b[i].Content)
	}
	assert.Contains(t, p.String(), "title:: Notebook\n")
}

func TestProperties_IgnoresFencedLines(t *testing.T) {
	props := Properties("a:: 1\n```python\nb:: 2\n```\nC:: 3")
	assert.Equal(t, map[string]string{"a": "1", "c": "3"}, props)
}

func TestProperties_LongerFenceHoldsInnerFence(t *testing.T) {
	props := Properties("#Output:\n````\n```\nb:: 2\n```\n````\nc:: 3")
	assert.Equal(t, map[string]string{"c": "3"}, props)
}

func TestSelect(t *testing.T) {
	p := Parse(sample)
	ctx := context.Background()

	_, err := p.CurrentBlock(ctx)
	assert.ErrorIs(t, err, host.ErrNoBlock)

	require.NoError(t, p.Select("2"))
	cur, err := p.CurrentBlock(ctx)
	require.NoError(t, err)
	assert.Contains(t, cur.Content, "run this")
	assert.Equal(t, cur.UUID, p.Editing())

	require.NoError(t, p.Select("6f1c2b5e-0000-4000-8000-000000000001"))
	assert.ErrorIs(t, p.Select("9"), host.ErrBlockNotFound)
	assert.ErrorIs(t, p.Select("nope"), host.ErrBlockNotFound)
}

func TestInsertUpdateExit(t *testing.T) {
	path := writePage(t, sample)
	p, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.Select("2"))
	src, _ := p.CurrentBlock(ctx)

	id, err := p.InsertBlock(ctx, src.UUID, "#Output:\n```\n```", host.After)
	require.NoError(t, err)
	assert.Equal(t, id, p.Editing())

	blocks := p.Blocks()
	require.Len(t, blocks, 4)
	assert.Equal(t, id, blocks[2].UUID, "inserted right after the source block")

	require.NoError(t, p.UpdateBlock(ctx, id, "#Output:\n```\n0\n1\n```"))
	require.NoError(t, p.ExitEditing(ctx, id))
	assert.Empty(t, p.Editing())

	reloaded, err := Open(path)
	require.NoError(t, err)
	rb := reloaded.Blocks()
	require.Len(t, rb, 4)
	assert.Equal(t, "#Output:\n```\n0\n1\n```", rb[2].Content)
}

func TestInsertBefore(t *testing.T) {
	p := Parse(sample)
	first := p.Blocks()[0].UUID

	id, err := p.InsertBlock(context.Background(), first, "top", host.Before)
	require.NoError(t, err)
	assert.Equal(t, id, p.Blocks()[0].UUID)
}

func TestUnknownBlock(t *testing.T) {
	p := Parse(sample)
	ctx := context.Background()

	_, err := p.InsertBlock(ctx, "missing", "x", host.After)
	assert.True(t, errors.Is(err, host.ErrBlockNotFound))
	assert.ErrorIs(t, p.UpdateBlock(ctx, "missing", "x"), host.ErrBlockNotFound)
	_, err = p.BlockProperty(ctx, "missing", "jupyter")
	assert.ErrorIs(t, err, host.ErrBlockNotFound)
}

func TestBlockProperty(t *testing.T) {
	p := Parse(sample)
	id := p.Blocks()[1].UUID

	v, err := p.BlockProperty(context.Background(), id, "JUPYTER")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8888/?token=abc", v)

	v, err = p.BlockProperty(context.Background(), id, "absent")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)
}
