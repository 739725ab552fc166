// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package daemon

import "net"

// peerID is unavailable off Linux; callers fall back to UnknownPeer.
func peerID(net.Conn) (string, bool) {
	return "", false
}
