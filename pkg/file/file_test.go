package file

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileRecord(t *testing.T) {
	a := NewFileRecord("merkle-leaf", 3)
	b := NewFileRecord("merkle-leaf", 3)
	assert.NotEqual(t, a.FileID, b.FileID)
	assert.Len(t, a.FileID, 36)
	assert.Equal(t, 3, a.Blocks)
	assert.Empty(t, a.RootHex())

	a.Root = []byte{0xab, 0xcd}
	assert.Equal(t, "abcd", a.RootHex())
}

func TestReadBlocks(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"trailing newline", "a\nb\nc\n", []string{"a", "b", "c"}},
		{"no trailing newline", "a\nb", []string{"a", "b"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"empty line kept", "a\n\nb\n", []string{"a", "", "b"}},
		{"empty file", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "src.txt")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			blocks, err := ReadBlocks(path)
			require.NoError(t, err)
			var got []string
			for _, b := range blocks {
				got = append(got, string(b))
			}
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ReadBlocks(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func blockStores(t *testing.T) map[string]BlockStore {
	return map[string]BlockStore{
		"local":  NewLocalFileSystemAdapter(filepath.Join(t.TempDir(), "csp", "data.txt")),
		"memory": NewMemoryBlockStore(),
	}
}

func TestBlockStoreReplacesPayload(t *testing.T) {
	for name, store := range blockStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.ReadLines()
			require.Error(t, err)

			first := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
			require.NoError(t, store.WriteLines(first))
			got, err := store.ReadLines()
			require.NoError(t, err)
			assert.Equal(t, first, got)

			second := [][]byte{[]byte("four")}
			require.NoError(t, store.WriteLines(second))
			got, err = store.ReadLines()
			require.NoError(t, err)
			assert.Equal(t, second, got)
		})
	}
}

func TestBlockStoreKeepsTrailingEmptyBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.txt")
	require.NoError(t, os.WriteFile(path, []byte("aa\nbb\n\n"), 0o644))
	blocks, err := ReadBlocks(path)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("aa"), []byte("bb"), []byte("")}, blocks)

	for name, store := range blockStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.WriteLines(blocks))
			got, err := store.ReadLines()
			require.NoError(t, err)
			assert.Equal(t, blocks, got)
		})
	}
}

func TestMemoryBlockStoreTamper(t *testing.T) {
	store := NewMemoryBlockStore()
	in := [][]byte{[]byte("one"), []byte("two")}
	require.NoError(t, store.WriteLines(in))
	store.Tamper(1, []byte("tw0"))

	got, err := store.ReadLines()
	require.NoError(t, err)
	assert.Equal(t, "tw0", string(got[1]))
	assert.Equal(t, "two", string(in[1]), "caller's slice must not alias the store")
}

func TestGenerateRandomData(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, GenerateRandomData(&buf, 4, 33))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	hexLine := regexp.MustCompile(`^[0-9a-f]{33}$`)
	for _, l := range lines {
		assert.Regexp(t, hexLine, l)
	}
	assert.NotEqual(t, lines[0], lines[1])

	require.Error(t, GenerateRandomData(&buf, 1, 0))
}

func TestGenerateRandomFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "random.txt")
	require.NoError(t, GenerateRandomFile(path, 5, 64))
	blocks, err := ReadBlocks(path)
	require.NoError(t, err)
	require.Len(t, blocks, 5)
	for _, b := range blocks {
		assert.Len(t, b, 64)
	}
}
