// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package validation checks names and paths that arrive from config files
// and clients.
package validation

import (
	"path/filepath"
	"regexp"
	"strings"

	"grimm.is/sentinel/internal/errors"
)

// MaxSocketPath is the longest unix socket path the kernel accepts
// (sun_path minus the terminating NUL).
const MaxSocketPath = 107

// MaxFilenameLength bounds client-supplied display names.
const MaxFilenameLength = 255

var (
	// Valid identifier: alphanumeric, dash, underscore
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// NATS subject tokens: no whitespace, no wildcards
	subjectTokenRegex = regexp.MustCompile(`^[^\s*>.]+$`)

	// Dangerous characters that should never reach a shell or a log line
	dangerousChars = []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r", "\x00"}
)

// ValidateIdentifier validates a breaker or retry policy name.
func ValidateIdentifier(id string) error {
	if id == "" {
		return errors.New(errors.KindValidation, "identifier cannot be empty")
	}
	if len(id) > 64 {
		return errors.New(errors.KindValidation, "identifier too long (max 64 characters)")
	}
	if !identifierRegex.MatchString(id) {
		return errors.Errorf(errors.KindValidation, "invalid identifier: %q (must be alphanumeric with -_)", id)
	}
	return nil
}

// ValidateSocketPath checks a unix socket path is absolute, clean and short
// enough to bind.
func ValidateSocketPath(path string) error {
	switch {
	case path == "":
		return errors.New(errors.KindValidation, "socket path cannot be empty")
	case strings.Contains(path, "\x00"):
		return errors.New(errors.KindValidation, "null byte in socket path")
	case !filepath.IsAbs(path):
		return errors.Errorf(errors.KindValidation, "socket path %q must be absolute", path)
	case len(path) > MaxSocketPath:
		return errors.Errorf(errors.KindValidation, "socket path too long (%d > %d bytes)", len(path), MaxSocketPath)
	}
	if strings.Contains(path, "..") {
		return errors.Errorf(errors.KindValidation, "path traversal not allowed: %s", path)
	}
	return nil
}

// ValidateFilename checks a scan_content display name. It is a base name,
// not a path.
func ValidateFilename(name string) error {
	switch {
	case len(name) > MaxFilenameLength:
		return errors.Errorf(errors.KindValidation, "filename too long (max %d bytes)", MaxFilenameLength)
	case strings.Contains(name, "\x00"):
		return errors.New(errors.KindValidation, "null byte in filename")
	case strings.ContainsRune(name, '/'):
		return errors.Errorf(errors.KindValidation, "filename %q must not contain a path separator", name)
	}
	return nil
}

// ValidateSubject checks a NATS publish subject: dot-separated, non-empty
// tokens with no wildcards or whitespace.
func ValidateSubject(subject string) error {
	if subject == "" {
		return errors.New(errors.KindValidation, "subject cannot be empty")
	}
	for _, tok := range strings.Split(subject, ".") {
		if !subjectTokenRegex.MatchString(tok) {
			return errors.Errorf(errors.KindValidation, "invalid subject %q", subject)
		}
	}
	return nil
}

// SanitizeString removes dangerous characters from a string (for display
// and helper environments).
func SanitizeString(s string) string {
	for _, char := range dangerousChars {
		s = strings.ReplaceAll(s, char, "")
	}
	return s
}
