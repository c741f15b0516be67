package fetch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alvmarrod/pdf-harvest/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://site.test/docs/report.pdf", "report.pdf"},
		{"https://site.test/docs/report.pdf?version=2#page=3", "report.pdf"},
		{"https://site.test/docs/Annual%20Report.PDF", "Annual Report.PDF"},
		{"https://site.test/docs/a%2Fb.pdf", "a_b.pdf"},
		{"https://site.test/docs/a%5Cb.pdf", "a_b.pdf"},
		{"https://site.test/docs/bad%00name.pdf", "bad_name.pdf"},
		{"https://site.test/docs/", fallbackName},
		{"https://site.test", fallbackName},
		{"https://site.test/%2E%2E", fallbackName},
		{"://broken", fallbackName},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FileName(tt.url), "FileName(%q)", tt.url)
	}
}

func TestFileNameTruncatesLongNames(t *testing.T) {
	long := strings.Repeat("x", 400) + ".pdf"
	name := FileName("https://site.test/" + long)

	assert.LessOrEqual(t, len(name), maxNameBytes)
	assert.True(t, strings.HasSuffix(name, ".pdf"))
}

func TestNameReserverSequence(t *testing.T) {
	dir := t.TempDir()
	r := NewNameReserver(false)
	path := filepath.Join(dir, "file.pdf")

	var got []string
	for i := 0; i < 3; i++ {
		reserved, err := r.Reserve(path)
		require.NoError(t, err)
		got = append(got, filepath.Base(reserved))
	}

	assert.Equal(t, []string{"file.pdf", "file (1).pdf", "file (2).pdf"}, got)
	assert.Equal(t, []string{"file (1).pdf", "file (2).pdf", "file.pdf"}, listFiles(t, dir), "placeholders claim the names on disk")
}

func TestNameReserverAbandon(t *testing.T) {
	dir := t.TempDir()
	r := NewNameReserver(false)
	path := filepath.Join(dir, "file.pdf")

	first, err := r.Reserve(path)
	require.NoError(t, err)

	require.NoError(t, r.Abandon(first))
	assert.Empty(t, listFiles(t, dir))

	again, err := r.Reserve(path)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestNameReserverOverwriteKeepsContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.pdf")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))

	r := NewNameReserver(true)

	first, err := r.Reserve(path)
	require.NoError(t, err)
	second, err := r.Reserve(path)
	require.NoError(t, err)

	assert.Equal(t, path, first)
	assert.Equal(t, filepath.Join(dir, "file (1).pdf"), second)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "stale", string(content), "reserving must not touch the old file")

	require.NoError(t, r.Abandon(first))
	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "stale", string(content), "abandoning must not remove the old file")
}

func TestNameReserverConcurrent(t *testing.T) {
	dir := t.TempDir()
	r := NewNameReserver(false)
	path := filepath.Join(dir, "same.pdf")

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reserved, err := r.Reserve(path)
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[reserved], "path %s handed out twice", reserved)
			seen[reserved] = true
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers)
}

func TestNameReserverFilesystemError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	r := NewNameReserver(false)
	_, err := r.Reserve(filepath.Join(blocker, "file.pdf"))

	assert.ErrorIs(t, err, model.ErrFilesystem)
}

func TestPartPathStaging(t *testing.T) {
	assert.Equal(t, "/tmp/out/a.pdf.part", partPath("/tmp/out/a.pdf"))
}
