// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package retry

import (
	"net"

	"golang.org/x/sys/unix"

	"grimm.is/sentinel/internal/errors"
)

// Predicate reports whether err is worth retrying.
type Predicate func(err error) bool

// Any retries when any of preds does.
func Any(preds ...Predicate) Predicate {
	return func(err error) bool {
		for _, p := range preds {
			if p(err) {
				return true
			}
		}
		return false
	}
}

// Not inverts pred.
func Not(pred Predicate) Predicate {
	return func(err error) bool { return !pred(err) }
}

// Always retries every error.
func Always(error) bool { return true }

// Never treats every error as permanent.
func Never(error) bool { return false }

// Errno sets shared by the predicates below.
var (
	connectionErrnos = []unix.Errno{unix.ECONNREFUSED, unix.ECONNRESET, unix.ECONNABORTED}
	networkErrnos    = []unix.Errno{unix.ENETDOWN, unix.ENETUNREACH, unix.EHOSTDOWN, unix.EHOSTUNREACH}
	transientErrnos  = []unix.Errno{unix.ETIMEDOUT, unix.EAGAIN, unix.EWOULDBLOCK, unix.EINTR}
)

// permanentKinds are never retried regardless of the underlying errno.
var permanentKinds = map[errors.Kind]bool{
	errors.KindValidation:  true,
	errors.KindNotFound:    true,
	errors.KindPermission:  true,
	errors.KindProtocol:    true,
	errors.KindCircuitOpen: true,
}

func errnoIn(err error, sets ...[]unix.Errno) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	for _, set := range sets {
		for _, e := range set {
			if errno == e {
				return true
			}
		}
	}
	return false
}

// classify applies the kind rules shared by every predicate. decided is
// false when the error carries no kind information.
func classify(err error, retryKinds ...errors.Kind) (retry, decided bool) {
	kind := errors.GetKind(err)
	if permanentKinds[kind] {
		return false, true
	}
	for _, k := range retryKinds {
		if kind == k {
			return true, true
		}
	}
	return false, false
}

// DatabasePredicate retries connection loss, timeouts, interrupted calls and
// busy/locked resources. Permission, missing files, invalid arguments, full
// disks and every non-errno error are permanent.
func DatabasePredicate(err error) bool {
	if retry, ok := classify(err); ok {
		return retry
	}
	return errnoIn(err, connectionErrnos, networkErrnos, transientErrnos, []unix.Errno{unix.EBUSY})
}

// FileIOPredicate retries EAGAIN, EBUSY, EINTR and ETXTBSY only.
func FileIOPredicate(err error) bool {
	if retry, ok := classify(err); ok {
		return retry
	}
	return errnoIn(err, []unix.Errno{unix.EAGAIN, unix.EWOULDBLOCK, unix.EBUSY, unix.EINTR, unix.ETXTBSY})
}

// IPCPredicate retries socket-level transients, broken pipes, read timeouts
// and peers that closed the connection. Framing violations are permanent.
func IPCPredicate(err error) bool {
	if retry, ok := classify(err, errors.KindTimeout, errors.KindClosed); ok {
		return retry
	}
	return errnoIn(err,
		connectionErrnos,
		[]unix.Errno{unix.ENETDOWN, unix.ENETUNREACH},
		transientErrnos,
		[]unix.Errno{unix.EPIPE},
	)
}

// NetworkPredicate retries connection and route failures, timeouts and
// transient DNS failures.
func NetworkPredicate(err error) bool {
	if retry, ok := classify(err, errors.KindTimeout); ok {
		return retry
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout || dnsErr.IsNotFound
	}
	return errnoIn(err, connectionErrnos, networkErrnos, transientErrnos)
}

// PredicateByName resolves a predicate from configuration.
func PredicateByName(name string) (Predicate, error) {
	switch name {
	case "", "always":
		return nil, nil
	case "never":
		return Never, nil
	case "database":
		return DatabasePredicate, nil
	case "file_io":
		return FileIOPredicate, nil
	case "ipc":
		return IPCPredicate, nil
	case "network":
		return NetworkPredicate, nil
	}
	return nil, errors.Errorf(errors.KindValidation, "retry: unknown predicate %q", name)
}
