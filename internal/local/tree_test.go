package local

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/torfstack/twin/internal/protocol"
)

func TestTree(t *testing.T) {
	tests := []struct {
		name string
		do   func(*testing.T, *Tree)
	}{
		{
			name: "reads regular file",
			do: func(t *testing.T, tree *Tree) {
				writeFile(t, tree, "hello.txt", "hello")
				p, err := tree.Resolve("/hello.txt")
				require.NoError(t, err)

				data, err := tree.ReadFile(p)
				require.NoError(t, err)
				require.Equal(t, []byte("hello"), data)
			},
		},
		{
			name: "empty file is found with zero bytes",
			do: func(t *testing.T, tree *Tree) {
				writeFile(t, tree, "empty", "")
				p, err := tree.Resolve("empty")
				require.NoError(t, err)

				f, size, err := tree.Open(p)
				require.NoError(t, err)
				require.NoError(t, f.Close())
				require.Zero(t, size)
			},
		},
		{
			name: "missing file is not found",
			do: func(t *testing.T, tree *Tree) {
				p, err := tree.Resolve("/missing")
				require.NoError(t, err)

				_, err = tree.ReadFile(p)
				require.ErrorIs(t, err, protocol.ErrNotFound)
			},
		},
		{
			name: "directory is not found",
			do: func(t *testing.T, tree *Tree) {
				require.NoError(t, os.Mkdir(filepath.Join(tree.Base(), "dir"), 0755))
				p, err := tree.Resolve("/dir")
				require.NoError(t, err)

				_, err = tree.ReadFile(p)
				require.ErrorIs(t, err, protocol.ErrNotFound)
			},
		},
		{
			name: "base directory passes the gate but is not found",
			do: func(t *testing.T, tree *Tree) {
				p, err := tree.Resolve("/")
				require.NoError(t, err)

				_, _, err = tree.Open(p)
				require.ErrorIs(t, err, protocol.ErrNotFound)
			},
		},
		{
			name: "file used as directory is not found",
			do: func(t *testing.T, tree *Tree) {
				writeFile(t, tree, "plain", "x")
				p, err := tree.Resolve("/plain/child")
				require.NoError(t, err)

				_, err = tree.ReadFile(p)
				require.ErrorIs(t, err, protocol.ErrNotFound)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := NewTree(filepath.Join(t.TempDir(), "files"))
			require.NoError(t, err)
			tt.do(t, tree)
		})
	}
}

func writeFile(t *testing.T, tree *Tree, name, content string) {
	path := filepath.Join(tree.Base(), name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}
