// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build unix

package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"grimm.is/sentinel/internal/errors"
)

func TestOpenRegular(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sample.bin")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o600))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(file, link))
	fifo := filepath.Join(dir, "fifo")
	require.NoError(t, unix.Mkfifo(fifo, 0o600))

	f, err := openRegular(file)
	require.NoError(t, err)
	f.Close()

	// A name that became a symlink after the path checks is refused.
	_, err = openRegular(link)
	require.Error(t, err)
	assert.Equal(t, errors.KindPermission, errors.GetKind(err))

	// A FIFO with no writer neither blocks nor passes.
	done := make(chan error, 1)
	go func() {
		f, err := openRegular(fifo)
		if f != nil {
			f.Close()
		}
		done <- err
	}()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, errors.KindValidation, errors.GetKind(err))
	case <-time.After(5 * time.Second):
		t.Fatal("opening a FIFO blocked")
	}
}
