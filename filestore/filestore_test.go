// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package filestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gstream/gstream/ci"
	"github.com/gstream/gstream/helper/testlog"
	"github.com/shoenig/test/must"
)

func testFileStore(t *testing.T) *Store {
	s, err := New(t.TempDir(), testlog.HCLogger(t))
	must.NoError(t, err)
	return s
}

func TestNew_badRoot(t *testing.T) {
	ci.Parallel(t)

	_, err := New(filepath.Join(t.TempDir(), "missing"), nil)
	must.ErrorIs(t, err, ErrRootNotFound)

	file := filepath.Join(t.TempDir(), "plain")
	must.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = New(file, nil)
	must.ErrorIs(t, err, ErrNotDirectory)
}

func TestStore_SaveBinaryData(t *testing.T) {
	ci.Parallel(t)
	s := testFileStore(t)

	must.False(t, s.IsFileExist("blob"))
	must.NoError(t, s.SaveBinaryData([]byte{1, 2, 3}, "blob"))
	must.True(t, s.IsFileExist("blob"))

	data, err := s.GetBinaryData("blob")
	must.NoError(t, err)
	must.Eq(t, []byte{1, 2, 3}, data)

	// names are write-once
	must.ErrorIs(t, s.SaveBinaryData([]byte{4}, "blob"), ErrFileExists)
}

func TestStore_SaveScript(t *testing.T) {
	ci.Parallel(t)
	s := testFileStore(t)

	must.NoError(t, s.SaveScript("#!/bin/sh\nexit 0\n", "run.sh"))

	info, err := os.Stat(s.Path("run.sh"))
	must.NoError(t, err)
	must.Eq(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestStore_badFilename(t *testing.T) {
	ci.Parallel(t)
	s := testFileStore(t)

	must.ErrorIs(t, s.SaveBinaryData(nil, "../escape"), ErrBadFilename)
	must.ErrorIs(t, s.SaveBinaryData(nil, `a\b`), ErrBadFilename)
	must.ErrorIs(t, s.SaveBinaryData(nil, ""), ErrBadFilename)
	must.False(t, s.IsFileExist("../escape"))
}

func TestStore_GetBinaryData_notFound(t *testing.T) {
	ci.Parallel(t)
	s := testFileStore(t)

	_, err := s.GetBinaryData("missing")
	must.ErrorIs(t, err, ErrFileNotFound)
}

func TestStore_RemoveFiles(t *testing.T) {
	ci.Parallel(t)
	s := testFileStore(t)

	must.NoError(t, s.SaveBinaryData([]byte("a"), "one"))
	must.NoError(t, s.SaveBinaryData([]byte("b"), "two"))

	// absent names are tolerated
	must.NoError(t, s.RemoveFiles("one", "two", "three"))
	must.False(t, s.IsFileExist("one"))
	must.False(t, s.IsFileExist("two"))
}

func TestStore_AllFilenames(t *testing.T) {
	ci.Parallel(t)
	s := testFileStore(t)

	must.NoError(t, s.SaveBinaryData([]byte("a"), "one"))
	must.NoError(t, s.SaveBinaryData([]byte("b"), "two"))
	must.NoError(t, os.Mkdir(filepath.Join(s.Root(), "subdir"), 0o755))

	names, err := s.AllFilenames()
	must.NoError(t, err)
	must.Eq(t, 2, names.Size())
	must.True(t, names.Contains("one"))
	must.True(t, names.Contains("two"))
	must.False(t, names.Contains("subdir"))
}

func TestStore_ModTime(t *testing.T) {
	ci.Parallel(t)
	s := testFileStore(t)

	_, err := s.ModTime("missing")
	must.ErrorIs(t, err, ErrFileNotFound)

	must.NoError(t, s.SaveBinaryData([]byte("a"), "blob"))
	modified, err := s.ModTime("blob")
	must.NoError(t, err)
	must.False(t, modified.IsZero())
}
