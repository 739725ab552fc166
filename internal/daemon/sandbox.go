// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/sentinel"
	"grimm.is/sentinel/internal/validation"
)

// maxHelperOutput bounds what a sandbox helper may print.
const maxHelperOutput = 1 << 20

// ExecSandbox runs samples through an external helper. The sample is written
// to the helper's stdin and the helper prints one BehavioralMetrics JSON
// object on stdout. The sample's filename is passed in SENTINEL_FILENAME.
type ExecSandbox struct {
	Command []string
}

// NewExecSandbox returns nil when command is empty so callers can treat an
// unconfigured sandbox as absent.
func NewExecSandbox(command []string) *ExecSandbox {
	if len(command) == 0 {
		return nil
	}
	return &ExecSandbox{Command: append([]string(nil), command...)}
}

func (s *ExecSandbox) Run(ctx context.Context, data []byte, filename string) (*sentinel.BehavioralMetrics, error) {
	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Env = append(cmd.Environ(), "SENTINEL_FILENAME="+validation.SanitizeString(filename))

	var stdout, stderr limitedBuffer
	stdout.limit, stderr.limit = maxHelperOutput, 4096
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.KindTimeout, "sandbox helper timed out")
		}
		msg := strings.TrimSpace(stderr.String())
		return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, "sandbox helper failed"), "stderr", msg)
	}
	if stdout.overflow {
		return nil, errors.New(errors.KindProtocol, "sandbox helper output too large")
	}

	var m sentinel.BehavioralMetrics
	if err := json.Unmarshal(stdout.Bytes(), &m); err != nil {
		return nil, errors.Wrap(err, errors.KindProtocol, "sandbox helper printed invalid metrics")
	}
	return &m, nil
}

type limitedBuffer struct {
	bytes.Buffer
	limit    int
	overflow bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.Len()
	if len(p) > room {
		b.overflow = true
		if room > 0 {
			b.Buffer.Write(p[:room])
		}
		return len(p), nil
	}
	return b.Buffer.Write(p)
}
