package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// FileStore keeps a fob's state record in a single file, standing in for the
// flash sector a real fob would use. Save truncates and rewrites the file in
// place: like erase-then-program, a failure partway through leaves the stored
// image undefined, so FileStore does not write through a temporary file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the file at path. The file need not
// exist; a missing file loads as an erased image.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the stored record. A missing file or a file of the wrong size
// (interrupted program cycle) loads as an erased image.
func (s *FileStore) Load() (*FobState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErasedState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", s.path, err)
	}
	var state FobState
	if err := state.UnmarshalBinary(data); err != nil {
		return ErasedState(), nil
	}
	return &state, nil
}

// Save erases and rewrites the record, syncing before returning.
func (s *FileStore) Save(state *FobState) error {
	image, err := state.MarshalBinary()
	if err != nil {
		return err
	}
	file, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("store: save %s: %w", s.path, err)
	}
	if _, err := file.Write(image); err != nil {
		file.Close()
		return fmt.Errorf("store: save %s: %w", s.path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("store: save %s: %w", s.path, err)
	}
	return file.Close()
}

// MemStore is an in-memory Store for tests and simulations without a backing
// file.
type MemStore struct {
	image []byte
}

// NewMemStore returns an empty (erased) in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Load returns the last saved record, or an erased image if nothing has been
// saved.
func (s *MemStore) Load() (*FobState, error) {
	if s.image == nil {
		return ErasedState(), nil
	}
	var state FobState
	if err := state.UnmarshalBinary(s.image); err != nil {
		return nil, err
	}
	return &state, nil
}

// Save replaces the stored record.
func (s *MemStore) Save(state *FobState) error {
	image, err := state.MarshalBinary()
	if err != nil {
		return err
	}
	s.image = image
	return nil
}
