// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package retry

import (
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"grimm.is/sentinel/internal/breaker"
	"grimm.is/sentinel/internal/errors"
)

func TestPredicates(t *testing.T) {
	plain := fmt.Errorf("some error")

	tests := []struct {
		name      string
		pred      Predicate
		retryable []error
		permanent []error
	}{
		{
			name:      "database",
			pred:      DatabasePredicate,
			retryable: []error{unix.EAGAIN, unix.ECONNREFUSED, unix.ETIMEDOUT, unix.EBUSY, unix.EINTR, unix.EHOSTUNREACH},
			permanent: []error{unix.ENOENT, unix.EACCES, unix.EINVAL, unix.ENOSPC, unix.EIO, plain},
		},
		{
			name:      "file io",
			pred:      FileIOPredicate,
			retryable: []error{unix.EAGAIN, unix.EBUSY, unix.EINTR, unix.ETXTBSY},
			permanent: []error{unix.ENOENT, unix.EACCES, unix.ENOSPC, unix.EROFS, unix.EISDIR, unix.ECONNREFUSED, plain},
		},
		{
			name:      "ipc",
			pred:      IPCPredicate,
			retryable: []error{unix.EAGAIN, unix.ECONNREFUSED, unix.ECONNRESET, unix.ETIMEDOUT, unix.EPIPE},
			permanent: []error{unix.EINVAL, unix.EPROTO, unix.EADDRINUSE, plain},
		},
		{
			name:      "network",
			pred:      NetworkPredicate,
			retryable: []error{unix.EAGAIN, unix.ECONNREFUSED, unix.ENETDOWN, unix.ETIMEDOUT},
			permanent: []error{unix.EPROTO, unix.EAFNOSUPPORT, plain},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, err := range tt.retryable {
				assert.True(t, tt.pred(err), "%v should be retryable", err)
			}
			for _, err := range tt.permanent {
				assert.False(t, tt.pred(err), "%v should be permanent", err)
			}
		})
	}
}

func TestPredicateUnwrapsSyscallErrors(t *testing.T) {
	// The shape net.Dial returns for a refused unix socket connection.
	err := &net.OpError{Op: "dial", Net: "unix", Err: os.NewSyscallError("connect", unix.ECONNREFUSED)}
	assert.True(t, IPCPredicate(err))

	wrapped := errors.Wrap(err, errors.KindUnavailable, "dial sentinel")
	assert.True(t, IPCPredicate(wrapped))
}

func TestKindRules(t *testing.T) {
	timeout := errors.New(errors.KindTimeout, "read timeout")
	closed := errors.New(errors.KindClosed, "peer closed")
	protocol := errors.Wrap(unix.EAGAIN, errors.KindProtocol, "bad length")

	assert.True(t, IPCPredicate(timeout))
	assert.True(t, IPCPredicate(closed))
	assert.False(t, IPCPredicate(protocol), "protocol kind wins over a retryable errno")

	assert.True(t, NetworkPredicate(timeout))
	assert.False(t, DatabasePredicate(timeout))

	for _, pred := range []Predicate{DatabasePredicate, FileIOPredicate, IPCPredicate, NetworkPredicate} {
		assert.False(t, pred(breaker.ErrCircuitOpen))
	}
}

func TestDNSErrors(t *testing.T) {
	assert.True(t, NetworkPredicate(&net.DNSError{Err: "server misbehaving", IsTemporary: true}))
	assert.True(t, NetworkPredicate(&net.DNSError{Err: "i/o timeout", IsTimeout: true}))
	assert.True(t, NetworkPredicate(&net.DNSError{Err: "no such host", IsNotFound: true}))
	assert.False(t, NetworkPredicate(&net.DNSError{Err: "cannot unmarshal DNS message"}))
}

func TestCombinators(t *testing.T) {
	either := Any(FileIOPredicate, IPCPredicate)
	assert.True(t, either(unix.ETXTBSY))
	assert.True(t, either(unix.EPIPE))
	assert.False(t, either(unix.EACCES))

	notIPC := Not(IPCPredicate)
	assert.False(t, notIPC(unix.EPIPE))
	assert.True(t, notIPC(unix.EINVAL))

	assert.True(t, Always(unix.EACCES))
	assert.False(t, Never(unix.EAGAIN))
}

func TestPredicateByName(t *testing.T) {
	for _, name := range []string{"database", "file_io", "ipc", "network", "never"} {
		p, err := PredicateByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, p, name)
	}

	p, err := PredicateByName("")
	require.NoError(t, err)
	assert.Nil(t, p, "empty name keeps the retry-everything default")

	_, err = PredicateByName("sometimes")
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}
