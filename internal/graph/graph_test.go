package graph

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"flatfetch/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Author struct {
	ID    int64   `flatfetch:"id,pk"`
	Name  string  `flatfetch:"name"`
	Books []*Book `flatfetch:",to_many,inverse=Author"`
}

type Book struct {
	ID       int64   `flatfetch:"id,pk"`
	Author   *Author `flatfetch:",to_one"`
	AuthorID int64   `flatfetch:"author_id"`
}

func testSchema(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry(nil)
	require.NoError(t, reg.Register(Author{}, Book{}))
	return reg
}

func TestRegistry(t *testing.T) {
	full := New("Author.full", "Author", Attr("Books", Sub("Book", Attr("Author"))))
	reg, err := NewRegistry(full, New("Book.author", "Book", Attr("Author")))
	require.NoError(t, err)

	got, err := reg.Graph("Author.full")
	require.NoError(t, err)
	assert.Same(t, full, got)
	assert.Equal(t, []string{"Author.full", "Book.author"}, reg.Names())

	_, err = reg.Graph("nope")
	var unknown *UnknownGraphError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "nope", unknown.Name)
	assert.EqualError(t, err, `unknown fetch graph "nope"`)

	assert.Error(t, reg.Register(New("Book.author", "Book")))
	assert.Error(t, reg.Register(&Graph{}))
}

func TestGraphString(t *testing.T) {
	g := New("full", "Author", Attr("Books", Sub("Book", Attr("Author"))), Attr("Other"))
	assert.Equal(t, "full(Author){Books<Book>{Author}, Other}", g.String())

	sub, ok := g.Nodes[0].Subgraph("Book")
	require.True(t, ok)
	assert.Equal(t, "Author", sub.Nodes[0].Name)
	_, ok = g.Nodes[0].Subgraph("Author")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	provider := testSchema(t)

	tests := []struct {
		name  string
		graph *Graph
		want  []string
	}{
		{
			name:  "valid",
			graph: New("ok", "Author", Attr("Books", Sub("Book", Attr("Author")))),
		},
		{
			name:  "untyped root",
			graph: New("ok", "", Attr("Books", Sub("Book", Attr("Author")))),
		},
		{
			name:  "unknown root",
			graph: New("bad", "Publisher"),
			want:  []string{"entity is not registered"},
		},
		{
			name:  "unknown attribute",
			graph: New("bad", "Author", Attr("Publisher")),
			want:  []string{`has no attribute "Publisher"`},
		},
		{
			name:  "basic attribute",
			graph: New("bad", "Author", Attr("Name")),
			want:  []string{"Author#Name is not an association"},
		},
		{
			name:  "subgraph type mismatch",
			graph: New("bad", "Author", Attr("Books", Sub("Author"))),
			want:  []string{"does not match association target Book"},
		},
		{
			name:  "duplicate and nested errors",
			graph: New("bad", "Author", Attr("Books", Sub("Book", Attr("Nope"))), Attr("Books")),
			want:  []string{`bad.Books<Book>.Nope`, "bad.Books: attribute listed twice"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(provider, tt.graph)
			if len(tt.want) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.want {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{
			"name": "Author.full",
			"type": "Author",
			"attributes": []interface{}{
				map[string]interface{}{
					"name": "Books",
					"subgraphs": []interface{}{
						map[string]interface{}{
							"type":       "Book",
							"attributes": []interface{}{"Author"},
						},
					},
				},
			},
		},
	}

	graphs, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, graphs, 1)
	assert.Equal(t, "Author.full(Author){Books<Book>{Author}}", graphs[0].String())
	assert.NoError(t, Validate(testSchema(t), graphs[0]))
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]interface{}{map[string]interface{}{"name": "x", "depth": 3}})
	assert.ErrorContains(t, err, "depth")

	_, err = Decode([]interface{}{map[string]interface{}{"type": "Author"}})
	assert.ErrorContains(t, err, "name is required")

	_, err = Decode([]interface{}{map[string]interface{}{
		"name":       "x",
		"attributes": []interface{}{map[string]interface{}{"name": "Books", "subgraphs": []interface{}{map[string]interface{}{}}}},
	}})
	assert.ErrorContains(t, err, "subgraph has no type")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphs.yaml")
	content := `graphs:
  - name: Book.author
    type: Book
    attributes:
      - name: Author
        subgraphs:
          - type: Author
            attributes: [Books]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	graphs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, graphs, 1)
	assert.Equal(t, "Book.author(Book){Author<Author>{Books}}", graphs[0].String())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
