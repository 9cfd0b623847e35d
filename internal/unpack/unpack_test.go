package unpack_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/edumark/sheetscan/internal/config"
	"github.com/edumark/sheetscan/internal/unpack"
)

func testUnpacker() *unpack.Unpacker {
	return unpack.New(config.ConvertConfig{
		Binary:  "convert",
		DPI:     300,
		Timeout: 30 * time.Second,
	}, slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestUnpack_SingleImagePassthrough(t *testing.T) {
	batchDir, err := unpack.NewBatchDir(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, unpack.Cleanup(batchDir)) })

	path := writeFile(t, batchDir, "scan.png", pngBytes(t))

	pages, err := testUnpacker().Unpack(context.Background(), batchDir, path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, pages)
}

func TestUnpack_ZipInPageOrder(t *testing.T) {
	batchDir, err := unpack.NewBatchDir(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, unpack.Cleanup(batchDir)) })

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	// Deliberately out of order plus a directory entry and a skippable file.
	for _, name := range []string{"scan-03.png", "scan-01.png", "scan-02.png"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(pngBytes(t))
		require.NoError(t, err)
	}
	_, err = zw.Create("nested/")
	require.NoError(t, err)
	w, err := zw.Create("notes.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("not an image"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := writeFile(t, batchDir, "upload.zip", buf.Bytes())

	pages, err := testUnpacker().Unpack(context.Background(), batchDir, path)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, "scan-01.png", filepath.Base(pages[0]))
	assert.Equal(t, "scan-02.png", filepath.Base(pages[1]))
	assert.Equal(t, "scan-03.png", filepath.Base(pages[2]))

	// Source archive is gone after unpacking.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestUnpack_BrokenZip(t *testing.T) {
	batchDir, err := unpack.NewBatchDir(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, unpack.Cleanup(batchDir)) })

	// A zip header with truncated garbage after it.
	path := writeFile(t, batchDir, "broken.zip", []byte("PK\x03\x04garbage"))

	_, err = testUnpacker().Unpack(context.Background(), batchDir, path)
	assert.Error(t, err)
}

func TestUnpack_UnsupportedType(t *testing.T) {
	batchDir, err := unpack.NewBatchDir(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, unpack.Cleanup(batchDir)) })

	path := writeFile(t, batchDir, "notes.txt", []byte("plain text"))

	_, err = testUnpacker().Unpack(context.Background(), batchDir, path)
	assert.ErrorIs(t, err, unpack.ErrUnsupportedType)
}

func TestUnpack_SinglePageTIFFPassthrough(t *testing.T) {
	batchDir, err := unpack.NewBatchDir(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, unpack.Cleanup(batchDir)) })

	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil))
	path := writeFile(t, batchDir, "scan.tif", buf.Bytes())

	pages, err := testUnpacker().Unpack(context.Background(), batchDir, path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, pages)
}

// fakeTIFF builds a structurally valid little-endian TIFF header whose
// directory chain has n entries, without pixel data.
func fakeTIFF(n int) []byte {
	buf := make([]byte, 8+n*6)
	copy(buf, "II")
	binary.LittleEndian.PutUint16(buf[2:], 42)
	binary.LittleEndian.PutUint32(buf[4:], 8)
	for i := 0; i < n; i++ {
		off := 8 + i*6
		binary.LittleEndian.PutUint16(buf[off:], 0) // zero tag entries
		next := uint32(0)
		if i < n-1 {
			next = uint32(off + 6)
		}
		binary.LittleEndian.PutUint32(buf[off+2:], next)
	}
	return buf
}

func TestCountTIFFPages(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		pages int
	}{
		{name: "single", pages: 1},
		{name: "three", pages: 3},
		{name: "many", pages: 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.name+".tif", fakeTIFF(tt.pages))
			n, err := unpack.CountTIFFPages(path)
			require.NoError(t, err)
			assert.Equal(t, tt.pages, n)
		})
	}

	t.Run("encoded tiff is one page", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, tiff.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4)), nil))
		path := writeFile(t, dir, "real.tif", buf.Bytes())
		n, err := unpack.CountTIFFPages(path)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("not a tiff", func(t *testing.T) {
		path := writeFile(t, dir, "bogus.tif", []byte("XXgarbage"))
		_, err := unpack.CountTIFFPages(path)
		assert.Error(t, err)
	})
}

func TestNewBatchDir_Unique(t *testing.T) {
	root := t.TempDir()
	a, err := unpack.NewBatchDir(root)
	require.NoError(t, err)
	b, err := unpack.NewBatchDir(root)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	require.NoError(t, unpack.Cleanup(a))
	_, err = os.Stat(a)
	assert.True(t, os.IsNotExist(err))
}
