// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/testutil"
)

func TestResolveScanPath(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	file := filepath.Join(root, "sample.bin")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o600))
	secret := filepath.Join(outside, "secret")
	require.NoError(t, os.WriteFile(secret, []byte("data"), 0o600))
	link := filepath.Join(root, "link")
	require.NoError(t, os.Symlink(secret, link))
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o700))

	realFile, err := filepath.EvalSymlinks(file)
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
		kind errors.Kind
	}{
		{"relative", "sample.bin", errors.KindValidation},
		{"empty", "", errors.KindValidation},
		{"outside roots", secret, errors.KindPermission},
		{"symlink", link, errors.KindPermission},
		{"dot dot escape", filepath.Join(root, "sub", "..", "..", filepath.Base(outside), "secret"), errors.KindPermission},
		{"missing", filepath.Join(root, "nope"), errors.KindNotFound},
		{"directory", sub, errors.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveScanPath(tt.path, []string{root})
			require.Error(t, err)
			assert.Equal(t, tt.kind, errors.GetKind(err))
		})
	}

	got, err := ResolveScanPath(file, []string{"/nonexistent-root", root})
	require.NoError(t, err)
	assert.Equal(t, realFile, got)
}

func TestReadScanFile(t *testing.T) {
	root := t.TempDir()
	small := filepath.Join(root, "small")
	require.NoError(t, os.WriteFile(small, []byte("abc"), 0o600))
	empty := filepath.Join(root, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	data, canonical, err := ReadScanFile(small, []string{root}, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
	assert.Equal(t, "small", filepath.Base(canonical))

	_, _, err = ReadScanFile(small, []string{root}, 2)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))

	_, _, err = ReadScanFile(empty, []string{root}, 10)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestReadScanFile_Unreadable(t *testing.T) {
	testutil.SkipIfRoot(t)
	root := t.TempDir()
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.WriteFile(locked, []byte("secret"), 0o000))

	_, _, err := ReadScanFile(locked, []string{root}, 100)
	require.Error(t, err)
	assert.Equal(t, errors.KindPermission, errors.GetKind(err))
}
