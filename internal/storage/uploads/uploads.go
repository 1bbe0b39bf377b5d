package uploads

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gutlog/backend/pkg/logger"
	"github.com/gutlog/backend/pkg/utils"
)

var allowedExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

const defaultExt = ".jpg"

// Saved describes a stored upload. Ref is the display reference kept in the log.
type Saved struct {
	Name string
	Path string
	Ref  string
}

type Store struct {
	dir       string
	urlPrefix string
}

func NewStore(dir, urlPrefix string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir, urlPrefix: strings.TrimSuffix(urlPrefix, "/")}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Save writes data under a name derived from the time, the content hash and
// a random suffix; the client filename only contributes its extension. An
// existing file is never overwritten.
func (s *Store) Save(originalName string, data []byte, now time.Time) (*Saved, error) {
	name := fmt.Sprintf("%s_%s_%s%s",
		now.Format("20060102_150405"),
		utils.HashBytes(data)[:12],
		uuid.NewString()[:8],
		extension(originalName),
	)
	full := filepath.Join(s.dir, name)

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(full)
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(full)
		return nil, fmt.Errorf("write upload: %w", err)
	}

	logger.Debug("Upload stored", zap.String("name", name), zap.Int("bytes", len(data)))

	return &Saved{
		Name: name,
		Path: full,
		Ref:  path.Join(s.urlPrefix, name),
	}, nil
}

// Remove deletes a saved upload; a missing file is not an error.
func (s *Store) Remove(saved *Saved) error {
	if saved == nil {
		return nil
	}
	if err := os.Remove(saved.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

func extension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if allowedExt[ext] {
		return ext
	}
	return defaultExt
}
