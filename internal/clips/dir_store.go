package clips

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"medvoice/internal/apperrors"
)

// DirStore loads clips from a local directory at construction time. Each
// audio file becomes a clip named after its base name; a sidecar .txt file
// with the same base supplies the spoken text.
type DirStore struct {
	static *StaticStore
}

func NewDirStore(dir string, logger *zap.Logger) (*DirStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.Wrapf(err, "read clips dir %s", dir)
	}

	store := &DirStore{static: NewStaticStore()}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		format, ok := FormatFromName(name)
		if !ok {
			continue
		}

		audio, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, apperrors.Wrapf(err, "read clip %s", name)
		}

		base := strings.TrimSuffix(name, filepath.Ext(name))
		clip := Clip{Name: base, Audio: audio, Format: format}
		if text, err := os.ReadFile(filepath.Join(dir, base+".txt")); err == nil {
			clip.Text = strings.TrimSpace(string(text))
		}

		store.static.Put(clip)
		loaded++
	}

	logger.Info("loaded clips from directory",
		zap.String("dir", dir), zap.Int("clips", loaded))
	return store, nil
}

func (s *DirStore) Clip(name string) (Clip, bool) { return s.static.Clip(name) }

func (s *DirStore) Names() []string { return s.static.Names() }
