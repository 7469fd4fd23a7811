// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package filestore is the scoped artifact directory shared by the HTTP
// agent, the task pull and the GPU workers. Names are opaque identifiers
// generated at task creation and never contain path separators; the store
// is a single flat directory, subdirectories are ignored.
package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-set/v3"
)

var (
	// ErrRootNotFound is returned when the root directory is missing.
	ErrRootNotFound = errors.New("storage root not found")

	// ErrNotDirectory is returned when the root is not a directory.
	ErrNotDirectory = errors.New("storage root is not a directory")

	// ErrFileExists is returned when saving over an existing artifact.
	ErrFileExists = errors.New("binary file already exists")

	// ErrFileNotFound is returned when reading a missing artifact.
	ErrFileNotFound = errors.New("binary file not found")

	// ErrBadFilename is returned for names carrying path separators.
	ErrBadFilename = errors.New("filename contains path separator")
)

// Store is rooted at an absolute directory.
type Store struct {
	root   string
	logger hclog.Logger
}

// New validates the root and returns a store.
func New(root string, logger hclog.Logger) (*Store, error) {
	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{root: root, logger: logger.Named("file_store")}, nil
}

// Root returns the root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the absolute path of a named artifact.
func (s *Store) Path(filename string) string {
	return filepath.Join(s.root, filename)
}

func checkFilename(filename string) error {
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("%w: %q", ErrBadFilename, filename)
	}
	return nil
}

// IsFileExist reports whether the named artifact is present.
func (s *Store) IsFileExist(filename string) bool {
	if checkFilename(filename) != nil {
		return false
	}
	_, err := os.Stat(s.Path(filename))
	return err == nil
}

// SaveBinaryData writes a new artifact atomically via a temp file and
// rename. Fails if the name is taken.
func (s *Store) SaveBinaryData(data []byte, filename string) error {
	return s.save(data, filename, 0o644)
}

// SaveScript writes a new executable artifact.
func (s *Store) SaveScript(body string, filename string) error {
	return s.save([]byte(body), filename, 0o755)
}

func (s *Store) save(data []byte, filename string, perm os.FileMode) error {
	if err := checkFilename(filename); err != nil {
		return err
	}
	if s.IsFileExist(filename) {
		return fmt.Errorf("%w: %s", ErrFileExists, filename)
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-"+filename+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path(filename))
}

// GetBinaryData reads an artifact. Fails if the name is absent.
func (s *Store) GetBinaryData(filename string) ([]byte, error) {
	if err := checkFilename(filename); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(filename))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, filename)
	}
	return data, err
}

// ModTime returns the modification time of an artifact.
func (s *Store) ModTime(filename string) (time.Time, error) {
	info, err := os.Stat(s.Path(filename))
	if os.IsNotExist(err) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrFileNotFound, filename)
	}
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// RemoveFile deletes an artifact. Missing names are not an error.
func (s *Store) RemoveFile(filename string) error {
	if err := checkFilename(filename); err != nil {
		return err
	}
	err := os.Remove(s.Path(filename))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveFiles deletes every named artifact, aggregating failures.
func (s *Store) RemoveFiles(filenames ...string) error {
	var mErr *multierror.Error
	for _, filename := range filenames {
		if err := s.RemoveFile(filename); err != nil {
			mErr = multierror.Append(mErr, err)
		}
	}
	return mErr.ErrorOrNil()
}

// AllFilenames enumerates the direct children of the root, skipping
// subdirectories.
func (s *Store) AllFilenames() (*set.Set[string], error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	filenames := set.New[string](len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		filenames.Insert(entry.Name())
	}
	return filenames, nil
}
