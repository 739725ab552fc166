// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sentinel

import (
	"bytes"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		want       ContentType
		executable bool
	}{
		{"empty", nil, ContentEmpty, false},
		{"elf", []byte("\x7fELF\x02\x01\x01\x00"), ContentELF, true},
		{"pe", []byte("MZ\x90\x00\x03\x00"), ContentPE, true},
		{"macho 64", []byte{0xcf, 0xfa, 0xed, 0xfe, 0x07, 0x00}, ContentMachO, true},
		{"shell script", []byte("#!/bin/sh\necho hi\n"), ContentScript, true},
		{"zip", []byte("PK\x03\x04\x14\x00"), ContentArchive, false},
		{"gzip", []byte{0x1f, 0x8b, 0x08, 0x00}, ContentArchive, false},
		{"pdf", []byte("%PDF-1.7\n"), ContentPDF, false},
		{"ole", []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1, 0x00}, ContentOffice, false},
		{"text", []byte("just some words\n"), ContentText, false},
		{"utf8 text", []byte("grüße aus köln"), ContentText, false},
		{"binary with nul", []byte{0x01, 0x02, 0x00, 0x03}, ContentUnknown, false},
		{"invalid utf8", []byte{0xff, 0xfe, 0xfd}, ContentUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.data)
			if got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
			if got.Executable() != tt.executable {
				t.Errorf("Executable() = %v, want %v", got.Executable(), tt.executable)
			}
		})
	}
}

func TestClassify_RuneStraddlesSniffWindow(t *testing.T) {
	// 511 ASCII bytes then a two-byte rune split by the window edge.
	data := append(bytes.Repeat([]byte("a"), sniffLen-1), []byte("ü and more")...)
	if got := Classify(data); got != ContentText {
		t.Errorf("Classify() = %v, want %v", got, ContentText)
	}
}
