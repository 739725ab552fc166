// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sentinel

import (
	"bytes"
	"unicode/utf8"
)

// ContentType is the coarse kind of a sample, decided from its leading bytes.
type ContentType string

// ContentType constants
const (
	ContentELF     ContentType = "elf"
	ContentPE      ContentType = "pe"
	ContentMachO   ContentType = "macho"
	ContentScript  ContentType = "script"
	ContentArchive ContentType = "archive"
	ContentPDF     ContentType = "pdf"
	ContentOffice  ContentType = "office"
	ContentText    ContentType = "text"
	ContentEmpty   ContentType = "empty"
	ContentUnknown ContentType = "unknown"
)

// Executable reports whether samples of this type can run on their own.
func (c ContentType) Executable() bool {
	switch c {
	case ContentELF, ContentPE, ContentMachO, ContentScript:
		return true
	}
	return false
}

var magics = []struct {
	prefix []byte
	class  ContentType
}{
	{[]byte("\x7fELF"), ContentELF},
	{[]byte("MZ"), ContentPE},
	{[]byte{0xfe, 0xed, 0xfa, 0xce}, ContentMachO},
	{[]byte{0xfe, 0xed, 0xfa, 0xcf}, ContentMachO},
	{[]byte{0xce, 0xfa, 0xed, 0xfe}, ContentMachO},
	{[]byte{0xcf, 0xfa, 0xed, 0xfe}, ContentMachO},
	{[]byte{0xca, 0xfe, 0xba, 0xbe}, ContentMachO}, // fat binary
	{[]byte("#!"), ContentScript},
	{[]byte("PK\x03\x04"), ContentArchive},
	{[]byte{0x1f, 0x8b}, ContentArchive},
	{[]byte("7z\xbc\xaf\x27\x1c"), ContentArchive},
	{[]byte("Rar!\x1a\x07"), ContentArchive},
	{[]byte("%PDF-"), ContentPDF},
	{[]byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}, ContentOffice},
}

// sniffLen bounds how much of a sample the text check looks at.
const sniffLen = 512

// Classify decides a sample's content type.
func Classify(data []byte) ContentType {
	if len(data) == 0 {
		return ContentEmpty
	}
	for _, m := range magics {
		if bytes.HasPrefix(data, m.prefix) {
			return m.class
		}
	}

	head := data[:min(len(data), sniffLen)]
	if bytes.IndexByte(head, 0) >= 0 {
		return ContentUnknown
	}
	// A multi-byte rune may straddle the cut.
	if len(data) > sniffLen {
		for i := 0; i < utf8.UTFMax-1 && !utf8.Valid(head); i++ {
			head = head[:len(head)-1]
		}
	}
	if utf8.Valid(head) {
		return ContentText
	}
	return ContentUnknown
}
