// ABOUTME: Filesystem storage for uploaded voice input and synthesized speech
// ABOUTME: Files are addressed by flat generated names and referenced as /api/audio/<name>

package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// URLPrefix is the HTTP path under which stored audio is served
const URLPrefix = "/api/audio/"

// defaultUploadExt is used when an upload has no recognizable extension
const defaultUploadExt = ".webm"

// ErrNotFound is returned when a referenced audio asset does not exist
var ErrNotFound = errors.New("audio not found")

// ErrInvalidName is returned for names that are not a single flat file name
var ErrInvalidName = errors.New("invalid audio file name")

// Store keeps audio assets as flat files in one directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return nil, fmt.Errorf("audio directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating audio directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With("component", "audio"),
	}, nil
}

// Dir returns the directory holding the audio files.
func (s *Store) Dir() string {
	return s.dir
}

// SaveUpload stores client-supplied audio under a fresh UUID name that keeps
// the original extension (".webm" when none). Returns the stored file name.
func (s *Store) SaveUpload(originalName string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if !validExt(ext) {
		ext = defaultUploadExt
	}
	name := uuid.NewString() + ext
	if err := s.write(name, data); err != nil {
		return "", err
	}
	s.logger.Debug("stored upload", "filename", name, "size", len(data))
	return name, nil
}

// SaveSynthesized stores generated speech as tts_<hex>.wav and returns the name.
func (s *Store) SaveSynthesized(data []byte) (string, error) {
	id := uuid.New()
	name := fmt.Sprintf("tts_%x.wav", id[:])
	if err := s.write(name, data); err != nil {
		return "", err
	}
	s.logger.Debug("stored synthesized speech", "filename", name, "size", len(data))
	return name, nil
}

// Read returns the bytes of a stored file.
// Returns ErrNotFound if it does not exist, ErrInvalidName for unsafe names.
func (s *Store) Read(name string) ([]byte, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading audio file: %w", err)
	}
	return data, nil
}

// Open opens a stored file for serving.
// Returns ErrNotFound if it does not exist, ErrInvalidName for unsafe names.
func (s *Store) Open(name string) (*os.File, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening audio file: %w", err)
	}
	return f, nil
}

// Path returns the filesystem path for a stored file name. It rejects names
// that would escape the store directory.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", ErrInvalidName
	}
	return filepath.Join(s.dir, name), nil
}

func (s *Store) write(name string, data []byte) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("writing audio file: %w", err)
	}
	return nil
}

// URL returns the public reference for a stored file name.
func URL(name string) string {
	return URLPrefix + name
}

// NameFromURL extracts the stored file name from an audio reference. Only the
// last path segment is used, so both "/api/audio/x.webm" and "x.webm" work.
func NameFromURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	return path.Base(ref)
}

// ContentType returns the media type served for a file name, by extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	default:
		return "audio/webm"
	}
}

func validExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 6 {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
