package uploads

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	s, err := NewStore(dir, "/uploads/")
	require.NoError(t, err)

	now := time.Date(2025, 1, 15, 9, 4, 5, 0, time.UTC)
	saved, err := s.Save("IMG_0001.JPG", []byte("photo-bytes"), now)
	require.NoError(t, err)

	assert.Regexp(t, `^20250115_090405_[0-9a-f]{12}_[0-9a-f]{8}\.jpg$`, saved.Name)
	assert.Equal(t, "/uploads/"+saved.Name, saved.Ref)
	assert.Equal(t, filepath.Join(dir, saved.Name), saved.Path)

	data, err := os.ReadFile(saved.Path)
	require.NoError(t, err)
	assert.Equal(t, "photo-bytes", string(data))
}

func TestSave_SanitizesExtension(t *testing.T) {
	s, err := NewStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	tests := map[string]string{
		"../../etc/passwd": ".jpg",
		"shot.webp":        ".webp",
		"noext":            ".jpg",
		"evil.php":         ".jpg",
	}
	for name, want := range tests {
		saved, err := s.Save(name, []byte(name), time.Now())
		require.NoError(t, err)
		assert.Equal(t, want, filepath.Ext(saved.Name), name)
		assert.Equal(t, s.Dir(), filepath.Dir(saved.Path))
	}
}

func TestRemove(t *testing.T) {
	s, err := NewStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	saved, err := s.Save("a.png", []byte("x"), time.Now())
	require.NoError(t, err)

	require.NoError(t, s.Remove(saved))
	_, err = os.Stat(saved.Path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, s.Remove(saved))
	assert.NoError(t, s.Remove(nil))
}

func TestSave_SamePhotoSameSecond(t *testing.T) {
	s, err := NewStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	now := time.Date(2025, 1, 15, 9, 4, 5, 0, time.UTC)
	first, err := s.Save("a.jpg", []byte("same-bytes"), now)
	require.NoError(t, err)
	second, err := s.Save("a.jpg", []byte("same-bytes"), now)
	require.NoError(t, err)

	assert.NotEqual(t, first.Name, second.Name)

	require.NoError(t, s.Remove(second))
	data, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, "same-bytes", string(data))
}
