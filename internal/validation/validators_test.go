// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"grimm.is/sentinel/internal/errors"
)

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"static", "sandbox", "ipc", "external_api", "tier-2"} {
		assert.NoError(t, ValidateIdentifier(ok), ok)
	}
	for _, bad := range []string{"", "has space", "semi;colon", "dots.not.allowed", strings.Repeat("a", 65)} {
		err := ValidateIdentifier(bad)
		assert.Error(t, err, bad)
		assert.Equal(t, errors.KindValidation, errors.GetKind(err))
	}
}

func TestValidateSocketPath(t *testing.T) {
	assert.NoError(t, ValidateSocketPath("/run/sentinel/sentinel.sock"))

	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"relative", "run/sentinel.sock"},
		{"nul", "/run/\x00.sock"},
		{"traversal", "/run/../etc/sentinel.sock"},
		{"too long", "/" + strings.Repeat("s", MaxSocketPath)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateSocketPath(tt.path))
		})
	}
}

func TestValidateFilename(t *testing.T) {
	assert.NoError(t, ValidateFilename(""))
	assert.NoError(t, ValidateFilename("invoice.pdf.exe"))
	assert.Error(t, ValidateFilename("dir/file"))
	assert.Error(t, ValidateFilename("a\x00b"))
	assert.Error(t, ValidateFilename(strings.Repeat("x", MaxFilenameLength+1)))
}

func TestValidateSubject(t *testing.T) {
	assert.NoError(t, ValidateSubject("sentinel.verdicts"))
	for _, bad := range []string{"", "sentinel.*", "sentinel.>", "a..b", "with space", ".lead"} {
		assert.Error(t, ValidateSubject(bad), bad)
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "rm -rf tmp", SanitizeString("rm -rf $(tmp)"))
	assert.Equal(t, "ab", SanitizeString("a\nb\x00"))
}
