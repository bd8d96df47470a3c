package storage

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadFiltersByHourAndCamera(t *testing.T) {
	root := t.TempDir()
	day := filepath.Join(root, "2024", "01", "02")
	require.NoError(t, os.MkdirAll(day, 0750))

	require.NoError(t, os.WriteFile(filepath.Join(day, "09-00-00-camA.mkv"), []byte("early"), 0640))
	require.NoError(t, os.WriteFile(filepath.Join(day, "10-00-00-camA.mkv"), []byte("matchA"), 0640))
	require.NoError(t, os.WriteFile(filepath.Join(day, "10-30-00-camB.mkv"), []byte("matchB"), 0640))

	m := New(root, 0)
	f, err := m.Download("2024", "01", "02", "10+11", "camA")
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "10-00-00-camA.mkv", zr.File[0].Name)
}

func TestDownloadMissingDayReturnsNotExist(t *testing.T) {
	root := t.TempDir()
	m := New(root, 0)
	_, err := m.Download("2024", "01", "02", "", "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDownloadNoMatchReturnsError(t *testing.T) {
	root := t.TempDir()
	day := filepath.Join(root, "2024", "01", "02")
	require.NoError(t, os.MkdirAll(day, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(day, "09-00-00-camA.mkv"), []byte("x"), 0640))

	m := New(root, 0)
	_, err := m.Download("2024", "01", "02", "12+13", "")
	assert.Error(t, err)
}

func TestDownloadTrailingPlusMatchesAllSequenceSuffixes(t *testing.T) {
	root := t.TempDir()
	day := filepath.Join(root, "2024", "01", "02")
	require.NoError(t, os.MkdirAll(day, 0750))

	require.NoError(t, os.WriteFile(filepath.Join(day, "10-00-00-camA.mkv"), []byte("base"), 0640))
	require.NoError(t, os.WriteFile(filepath.Join(day, "10-05-00-camA:2.mkv"), []byte("seq2"), 0640))
	require.NoError(t, os.WriteFile(filepath.Join(day, "10-10-00-camB.mkv"), []byte("other"), 0640))

	m := New(root, 0)
	f, err := m.Download("2024", "01", "02", "", "camA+")
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := make([]string, len(zr.File))
	for i, zf := range zr.File {
		names[i] = zf.Name
	}
	assert.ElementsMatch(t, []string{"10-00-00-camA.mkv", "10-05-00-camA:2.mkv"}, names)
}

func TestParseCamFiltersPreservesTrailingPlusPerToken(t *testing.T) {
	filters := parseCamFilters("camA+camB+")
	require.Len(t, filters, 2)
	assert.Equal(t, camFilter{literal: "camA"}, filters[0])
	assert.Equal(t, camFilter{name: "camB", anySeq: true}, filters[1])

	assert.True(t, filters[0].matches("camA"))
	assert.False(t, filters[0].matches("camA:2"))
	assert.True(t, filters[1].matches("camB"))
	assert.True(t, filters[1].matches("camB:7"))
}
