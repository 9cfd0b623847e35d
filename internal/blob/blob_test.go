package blob_test

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumark/sheetscan/internal/blob"
)

func TestPutOpenDelete(t *testing.T) {
	s, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put("page.png", strings.NewReader("first")))

	r, err := s.Open("page.png")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "first", string(data))

	// Overwrite replaces the old content.
	require.NoError(t, s.Put("page.png", strings.NewReader("second")))
	r, err = s.Open("page.png")
	require.NoError(t, err)
	data, err = io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "second", string(data))

	require.NoError(t, s.Delete("page.png"))
	_, err = s.Open("page.png")
	assert.ErrorIs(t, err, blob.ErrNotFound)

	// Deleting again is fine.
	assert.NoError(t, s.Delete("page.png"))
}

func TestPath_RejectsTraversal(t *testing.T) {
	s, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	tests := []string{"", ".", "..", "../etc/passwd", "a/b", `a\b`}
	for _, name := range tests {
		_, err := s.Path(name)
		assert.Error(t, err, "name %q", name)
	}
}
