// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package daemon

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"grimm.is/sentinel/internal/errors"
)

// ResolveScanPath validates a scan_file path: it must be absolute, must not
// be a symlink, must resolve under one of roots and must name a regular file.
// The canonical path is returned.
func ResolveScanPath(path string, roots []string) (string, error) {
	if path == "" || !filepath.IsAbs(path) {
		return "", errors.Errorf(errors.KindValidation, "file path %q must be absolute", path)
	}

	info, err := os.Lstat(path)
	if err != nil {
		return "", statError(err, path)
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return "", errors.Errorf(errors.KindPermission, "cannot scan symlink %s", path)
	}

	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", statError(err, path)
	}
	if !underAny(canonical, roots) {
		return "", errors.Errorf(errors.KindPermission, "file path %s is not in an allowed directory", path)
	}

	info, err = os.Stat(canonical)
	if err != nil {
		return "", statError(err, path)
	}
	if !info.Mode().IsRegular() {
		return "", errors.Errorf(errors.KindValidation, "can only scan regular files: %s", path)
	}
	return canonical, nil
}

func underAny(path string, roots []string) bool {
	for _, root := range roots {
		root = filepath.Clean(root)
		if real, err := filepath.EvalSymlinks(root); err == nil {
			root = real
		}
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func statError(err error, path string) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return errors.Wrapf(err, errors.KindNotFound, "file %s does not exist", path)
	case errors.Is(err, fs.ErrPermission):
		return errors.Wrapf(err, errors.KindPermission, "cannot access %s", path)
	}
	return errors.Wrapf(err, errors.KindInternal, "stat %s", path)
}

// openRegular opens path without following a final symlink and checks the
// open descriptor, not the name, is a regular file. The path may have been
// swapped since ResolveScanPath looked at it.
func openRegular(path string) (*os.File, error) {
	f, err := os.OpenFile(path, openFlags, 0)
	if err != nil {
		if isSymlinkErr(err) {
			return nil, errors.Wrapf(err, errors.KindPermission, "cannot scan symlink %s", path)
		}
		return nil, statError(err, path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, statError(err, path)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, errors.Errorf(errors.KindValidation, "can only scan regular files: %s", path)
	}
	return f, nil
}

// ReadScanFile validates path and reads at most maxSize bytes of it.
func ReadScanFile(path string, roots []string, maxSize int64) ([]byte, string, error) {
	canonical, err := ResolveScanPath(path, roots)
	if err != nil {
		return nil, "", err
	}

	f, err := openRegular(canonical)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, "", errors.Wrapf(err, errors.KindInternal, "read %s", path)
	}
	if int64(len(data)) > maxSize {
		return nil, "", errors.Errorf(errors.KindValidation, "file %s is larger than %d bytes", path, maxSize)
	}
	if len(data) == 0 {
		return nil, "", errors.Errorf(errors.KindValidation, "file %s is empty", path)
	}
	return data, canonical, nil
}
