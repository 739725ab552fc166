// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build unix

package daemon

import (
	"golang.org/x/sys/unix"

	"grimm.is/sentinel/internal/errors"
)

// openFlags refuse a final symlink and keep a FIFO from blocking the open.
const openFlags = unix.O_RDONLY | unix.O_NOFOLLOW | unix.O_NONBLOCK

func isSymlinkErr(err error) bool {
	return errors.Is(err, unix.ELOOP)
}
