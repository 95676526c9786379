// Package keystore persists session key material per peer address, so a
// reconnect to a known peer can resume without a fresh key agreement.
package keystore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// fileMode keeps the key file private to the owning user.
const fileMode = 0o600

// fileLayout is the on-disk TOML document: a single table of
// peer address → base64 key material.
type fileLayout struct {
	Peers map[string]string `toml:"peers"`
}

// Store is a file-backed mapping of peer address → root key material.
// All methods are safe for concurrent use.
type Store struct {
	path string

	mu    sync.Mutex
	peers map[string][]byte
}

// Open loads the store at path, creating an empty one if the file does not
// exist yet. Parent directories are created on the first Put.
func Open(path string) (*Store, error) {
	s := &Store{path: path, peers: make(map[string][]byte)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}

	var layout fileLayout
	if err := toml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}
	for addr, enc := range layout.Peers {
		key, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("keystore entry %q: %w", addr, err)
		}
		s.peers[addr] = key
	}
	return s, nil
}

// Get returns the pinned key material for a peer address.
func (s *Store) Get(addr string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.peers[addr]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(key))
	copy(out, key)
	return out, true
}

// Put pins key material for a peer address and writes the store to disk.
func (s *Store) Put(addr string, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(key))
	copy(stored, key)
	s.peers[addr] = stored
	return s.save()
}

// Delete removes the pinned key for a peer address (explicit key rotation).
func (s *Store) Delete(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.peers[addr]; !ok {
		return nil
	}
	delete(s.peers, addr)
	return s.save()
}

// save writes the store atomically: temp file in the same directory, fsync
// semantics left to the filesystem, then rename over the target.
// Caller must hold s.mu.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("keystore dir: %w", err)
	}

	layout := fileLayout{Peers: make(map[string]string, len(s.peers))}
	for addr, key := range s.peers {
		layout.Peers[addr] = base64.StdEncoding.EncodeToString(key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".keystore-*")
	if err != nil {
		return fmt.Errorf("keystore temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("keystore perms: %w", err)
	}
	if err := toml.NewEncoder(tmp).Encode(layout); err != nil {
		tmp.Close()
		return fmt.Errorf("encode keystore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close keystore temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace keystore: %w", err)
	}
	return nil
}
