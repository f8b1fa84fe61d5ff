package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestCollector_Collect(t *testing.T) {
	t.Run("Should collect files matching a recursive glob", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "docs/intro.md", "# Intro\n\nWelcome.")
		writeFile(t, root, "docs/guide/setup.md", "# Setup\n\nSteps.")
		writeFile(t, root, "docs/ignore.txt", "not markdown")

		c := NewCollector(Options{Root: root})
		files, err := c.Collect(context.Background(), []Spec{{Glob: "docs/**/*.md"}})
		require.NoError(t, err)
		require.Len(t, files, 2)
		names := []string{files[0].Name, files[1].Name}
		assert.Contains(t, names, "docs/intro.md")
		assert.Contains(t, names, "docs/guide/setup.md")
		assert.NotEmpty(t, files[0].ContentHash)
	})
	t.Run("Should drop files with identical content", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "a.md", "same body")
		writeFile(t, root, "b.md", "same body")

		c := NewCollector(Options{Root: root})
		files, err := c.Collect(context.Background(), []Spec{{Glob: "*.md"}})
		require.NoError(t, err)
		assert.Len(t, files, 1)
	})
	t.Run("Should reject globs escaping the root", func(t *testing.T) {
		c := NewCollector(Options{Root: t.TempDir()})
		_, err := c.Collect(context.Background(), []Spec{{Glob: "../secrets/*.md"}})
		require.Error(t, err)
	})
	t.Run("Should skip files above the size cap", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "small.md", "tiny")
		writeFile(t, root, "big.md", string(make([]byte, 128)))

		c := NewCollector(Options{Root: root, MaxFileSize: 64})
		files, err := c.Collect(context.Background(), []Spec{{Glob: "*.md"}})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "small.md", files[0].Name)
	})
	t.Run("Should fetch a document over HTTP", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
			w.Write([]byte("# Remote\n\nFetched body."))
		}))
		defer server.Close()

		c := NewCollector(Options{Root: t.TempDir()})
		files, err := c.Collect(context.Background(), []Spec{{URL: server.URL + "/pages/remote.md"}})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "remote.md", files[0].Name)
		assert.Equal(t, "text/markdown", files[0].MediaType)
		assert.Equal(t, "# Remote\n\nFetched body.", string(files[0].Content))
	})
	t.Run("Should fail on HTTP error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "gone", http.StatusNotFound)
		}))
		defer server.Close()

		c := NewCollector(Options{Root: t.TempDir()})
		_, err := c.Collect(context.Background(), []Spec{{URL: server.URL + "/missing.md"}})
		require.Error(t, err)
	})
	t.Run("Should reject non-HTTP schemes", func(t *testing.T) {
		c := NewCollector(Options{Root: t.TempDir()})
		_, err := c.Collect(context.Background(), []Spec{{URL: "ftp://example.com/doc.md"}})
		require.Error(t, err)
	})
	t.Run("Should error when nothing matches", func(t *testing.T) {
		c := NewCollector(Options{Root: t.TempDir()})
		_, err := c.Collect(context.Background(), []Spec{{Glob: "*.md"}})
		require.Error(t, err)
	})
}
