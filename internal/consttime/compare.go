// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package consttime compares secret-derived values (tokens, API keys,
// content hashes) in time that does not depend on where they differ.
//
// The == operator and bytes.Equal return at the first mismatching byte or on
// a length mismatch, which leaks how much of a guess was correct. Every
// comparison of a security-sensitive value must go through this package.
package consttime

// Bytes reports whether a and b are byte-for-byte equal.
func Bytes(a, b []byte) bool {
	return isZero(diff(a, b))
}

// Strings reports whether a and b are byte-for-byte equal.
func Strings(a, b string) bool {
	return isZero(diffString(a, b))
}

// Hashes reports whether two hex-encoded digests are equal. It is Strings
// under a name that documents intent at call sites.
func Hashes(a, b string) bool {
	return Strings(a, b)
}

// diff returns 0 iff a and b are equal. The loop always runs max(len(a), len(b))
// times; the shorter input is padded with zeros. The index checks depend only
// on lengths, never on content.
func diff(a, b []byte) byte {
	la, lb := len(a), len(b)
	n := la
	if lb > n {
		n = lb
	}

	var d byte
	for i := 0; i < n; i++ {
		var x, y byte
		if i < la {
			x = a[i]
		}
		if i < lb {
			y = b[i]
		}
		d |= x ^ y
	}
	return d | foldLength(la, lb)
}

func diffString(a, b string) byte {
	la, lb := len(a), len(b)
	n := la
	if lb > n {
		n = lb
	}

	var d byte
	for i := 0; i < n; i++ {
		var x, y byte
		if i < la {
			x = a[i]
		}
		if i < lb {
			y = b[i]
		}
		d |= x ^ y
	}
	return d | foldLength(la, lb)
}

// foldLength ORs every byte of len(a)^len(b) together. Truncating to the low
// byte alone would let lengths that differ by a multiple of 256 (e.g. "" and
// 256 zero bytes) compare equal.
func foldLength(la, lb int) byte {
	x := uint64(la) ^ uint64(lb)
	var d byte
	for i := 0; i < 8; i++ {
		d |= byte(x >> (8 * i))
	}
	return d
}

// isZero maps 0 to true and 1..255 to false without a data-dependent branch.
// For d in [0,255], uint32(d)-1 wraps to 0xFFFFFFFF only when d == 0, so bit 31
// is set exactly for the equal case.
func isZero(d byte) bool {
	return (uint32(d)-1)>>31 == 1
}
