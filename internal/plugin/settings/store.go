// Package settings persists per-plugin JSON configuration files.
//
// A Store owns one file. LoadOrCreate gives plugins the
// "defaults on first run, file afterwards" behavior: when the file exists
// its content wins outright; otherwise the defaults are written to it.
// Get and Set address values by gjson/sjson path ("motd.lines.0").
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/dshills/mcwrap/internal/logging"
)

// ErrInvalidJSON is returned when a config file does not hold valid JSON.
var ErrInvalidJSON = errors.New("invalid JSON")

// Store reads and writes one plugin's config file. It is safe for
// concurrent use.
type Store struct {
	path string
	log  *logging.Logger

	mu  sync.Mutex
	doc []byte // nil until loaded, or after Invalidate
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// New creates a store for the file at path. Nothing is read until first use.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path: filepath.Clean(path),
		log:  logging.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the config file path.
func (s *Store) Path() string {
	return s.path
}

// LoadOrCreate returns the file's content when the file exists. Otherwise it
// writes def, pretty-printed, and returns it. The result is made of
// map[string]any, []any, float64, string, bool and nil.
func (s *Store) LoadOrCreate(def any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.readLocked()
	if err == nil {
		return gjson.ParseBytes(s.doc).Value(), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	raw, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encode default config: %w", err)
	}
	if err := s.writeLocked(raw); err != nil {
		return nil, err
	}
	s.log.Info("created config file %s", s.path)

	return gjson.ParseBytes(s.doc).Value(), nil
}

// Get returns the value at path. ok is false when the file or the path does
// not exist.
func (s *Store) Get(path string) (value any, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readLocked(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	r := gjson.GetBytes(s.doc, path)
	if !r.Exists() {
		return nil, false, nil
	}
	return r.Value(), true, nil
}

// Set stores value at path and rewrites the file. A missing file starts as
// an empty object.
func (s *Store) Set(path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readLocked(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		s.doc = []byte("{}")
	}

	out, err := sjson.SetBytes(s.doc, path, value)
	if err != nil {
		return fmt.Errorf("set %q in %s: %w", path, s.path, err)
	}
	return s.writeLocked(out)
}

// Invalidate drops the cached document so the next access re-reads the file.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.doc = nil
	s.mu.Unlock()
}

// readLocked loads the file into the cache unless it is already there.
func (s *Store) readLocked() error {
	if s.doc != nil {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("config %s: %w", s.path, ErrInvalidJSON)
	}
	s.doc = data
	return nil
}

// writeLocked pretty-prints raw and replaces the file with it.
func (s *Store) writeLocked(raw []byte) error {
	out := pretty.Pretty(raw)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write config: %w", err)
	}

	s.doc = out
	return nil
}
