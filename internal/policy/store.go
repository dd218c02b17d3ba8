package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSource names the built-in policy in snapshots.
const DefaultSource = "builtin:default"

// Snapshot is an immutable, loaded policy. Decisions take one snapshot and
// use it for their whole evaluation.
type Snapshot struct {
	Policy   *Policy
	Hash     string
	Source   string
	LoadedAt time.Time
	Raw      []byte
}

// NewSnapshot parses data into a snapshot labelled with source.
func NewSnapshot(data []byte, source string) (*Snapshot, error) {
	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Policy:   p,
		Hash:     Hash(data),
		Source:   source,
		LoadedAt: time.Now().UTC(),
		Raw:      data,
	}, nil
}

// Hash returns the content hash used to identify a policy in audit entries.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Store holds the current policy snapshot and swaps it atomically on reload.
type Store struct {
	path     string
	current  atomic.Pointer[Snapshot]
	mu       sync.Mutex
	onReload func(err error)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithReloadHook registers a function called after every load attempt.
func WithReloadHook(fn func(err error)) StoreOption {
	return func(s *Store) {
		s.onReload = fn
	}
}

// NewStore creates a store for the policy file at path. A file that is
// missing on the first load falls back to the built-in policy. Once a
// policy is loaded, removing the file is a failed reload.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewStaticStore creates a store that always serves snap.
func NewStaticStore(snap *Snapshot) *Store {
	s := &Store{}
	s.current.Store(snap)
	return s
}

// Path returns the policy file the store reads.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns the current snapshot, or nil if nothing was loaded.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Load reads and compiles the policy file and makes it current. On failure
// the previous snapshot keeps serving and the error is returned.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err == nil {
		s.current.Store(snap)
		log.Info().Str("component", "policy").Str("source", snap.Source).Str("hash", snap.Hash).Msg("policy loaded")
	} else {
		ev := log.Warn().Str("component", "policy").Err(err).Str("path", s.path)
		if prev := s.current.Load(); prev != nil {
			ev = ev.Str("serving", prev.Hash)
		}
		ev.Msg("policy reload rejected")
	}

	if s.onReload != nil {
		s.onReload(err)
	}
	return err
}

// Reload is Load under the name used by reload triggers.
func (s *Store) Reload() error {
	return s.Load()
}

func (s *Store) read() (*Snapshot, error) {
	if s.path == "" {
		return NewSnapshot(Default(), DefaultSource)
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) && s.current.Load() == nil {
		return NewSnapshot(Default(), DefaultSource)
	}
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}

	snap, err := NewSnapshot(data, s.path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return snap, nil
}
