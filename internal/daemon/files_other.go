// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !unix

package daemon

import "os"

const openFlags = os.O_RDONLY

func isSymlinkErr(error) bool { return false }
