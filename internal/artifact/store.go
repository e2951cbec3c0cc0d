// Package artifact manages the session-scoped working directories that hold a
// pipeline run's intermediate image, audio and video files.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/avatar-service/internal/media"
	"github.com/google/uuid"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600
)

// Kind indexes the artifacts a session owns.
type Kind int

// Artifact kinds, one file each per session.
const (
	KindAvatar Kind = iota
	KindAudio
	KindVideo
)

// artifactNames maps each Kind to its file name inside the session directory.
var artifactNames = [...]string{
	KindAvatar: "avatar" + media.ExtJPEG,
	KindAudio:  "audio" + media.ExtMP3,
	KindVideo:  "output" + media.ExtMP4,
}

// String returns the artifact kind name.
func (k Kind) String() string {
	switch k {
	case KindAvatar:
		return "avatar"
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	// ErrSessionIDEmpty is returned when allocating an empty session id.
	ErrSessionIDEmpty = errors.New("session id cannot be empty")
	// ErrInvalidSessionID is returned for ids that would escape the root directory.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrSessionExists is returned when a session id is already allocated.
	ErrSessionExists = errors.New("session already allocated")
	// ErrUnknownKind is returned for an artifact kind outside the index.
	ErrUnknownKind = errors.New("unknown artifact kind")
)

// Session is one pipeline run's working directory and the artifact paths
// indexed beneath it.
type Session struct {
	ID        string
	Dir       string
	CreatedAt time.Time
}

// Path returns the path of the given artifact within the session directory.
func (s *Session) Path(kind Kind) string {
	if kind < 0 || int(kind) >= len(artifactNames) {
		return ""
	}

	return filepath.Join(s.Dir, artifactNames[kind])
}

// Paths returns every artifact path the session owns.
func (s *Session) Paths() []string {
	paths := make([]string, 0, len(artifactNames))
	for kind := range artifactNames {
		paths = append(paths, s.Path(Kind(kind)))
	}

	return paths
}

// Write stores data as the given artifact.
func (s *Session) Write(kind Kind, data []byte) error {
	path := s.Path(kind)
	if path == "" {
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}

	err := os.WriteFile(path, data, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write %s artifact: %w", kind, err)
	}

	return nil
}

// Read loads the given artifact.
func (s *Session) Read(kind Kind) ([]byte, error) {
	path := s.Path(kind)
	if path == "" {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s artifact: %w", kind, err)
	}

	return data, nil
}

// Remove deletes a single artifact. A missing file is not an error.
func (s *Session) Remove(kind Kind) error {
	path := s.Path(kind)
	if path == "" {
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}

	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s artifact: %w", kind, err)
	}

	return nil
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides how session ids are minted.
func WithIDGenerator(next func() string) Option {
	return func(s *Store) {
		s.newID = next
	}
}

// Store allocates and reclaims session directories under a root directory.
type Store struct {
	root   string
	newID  func() string
	now    func() time.Time
	mu     sync.Mutex
	active map[string]*Session
}

// NewStore creates the root directory if needed and returns a Store over it.
func NewStore(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("artifact root cannot be empty")
	}

	err := os.MkdirAll(root, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact root %s: %w", root, err)
	}

	store := &Store{
		root:   root,
		newID:  uuid.NewString,
		now:    time.Now,
		active: make(map[string]*Session),
	}

	for _, opt := range opts {
		opt(store)
	}

	return store, nil
}

// Root returns the directory all sessions live under.
func (s *Store) Root() string {
	return s.root
}

// NewSession mints a fresh session id and allocates it.
func (s *Store) NewSession() (*Session, error) {
	return s.Allocate(s.newID())
}

// Allocate creates the working directory for sessionID. Allocating an id that
// is live, or whose directory already exists, fails with ErrSessionExists.
func (s *Store) Allocate(sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrSessionIDEmpty
	}

	if sessionID != filepath.Base(sessionID) || sessionID == "." || sessionID == ".." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[sessionID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}

	dir := filepath.Join(s.root, sessionID)

	err := os.Mkdir(dir, dirPermissions)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
		}

		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	session := &Session{
		ID:        sessionID,
		Dir:       dir,
		CreatedAt: s.now(),
	}
	s.active[sessionID] = session

	return session, nil
}

// Release deletes every artifact of sessionID and its directory. Missing files
// are not an error, so Release is safe to call more than once.
func (s *Store) Release(sessionID string) error {
	if sessionID == "" {
		return ErrSessionIDEmpty
	}

	if sessionID != filepath.Base(sessionID) || sessionID == "." || sessionID == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}

	s.mu.Lock()
	delete(s.active, sessionID)
	s.mu.Unlock()

	err := os.RemoveAll(filepath.Join(s.root, sessionID))
	if err != nil {
		return fmt.Errorf("failed to release session %s: %w", sessionID, err)
	}

	return nil
}

// Active returns the number of sessions allocated and not yet released.
func (s *Store) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.active)
}
