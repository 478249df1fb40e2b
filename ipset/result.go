package ipset

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

var (
	// ErrSessionInit is returned by Open when no kernel connection could be allocated.
	ErrSessionInit   = errors.New("ipset session init failed")
	ErrSetNotExist   = errors.New("set does not exist")
	ErrSetExist      = errors.New("set already exists")
	ErrElemNotExist  = errors.New("element is not in set")
	ErrInvalidMember = errors.New("invalid member for set")
	ErrNotOpen       = errors.New("session not open")
)

// Result is the outcome of a single command. Callers that only care about
// success use OK, which is what the bool returning methods report.
type Result int

const (
	ResultOK Result = iota
	ResultNotFound
	ResultInvalidMember
	ResultSetMissing
	ResultTransportError
)

func (r Result) OK() bool {
	return r == ResultOK
}

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultNotFound:
		return "not_found"
	case ResultInvalidMember:
		return "invalid_member"
	case ResultSetMissing:
		return "set_missing"
	}
	return "transport_error"
}

// ipset private errnos, see linux/netfilter/ipset/ip_set.h
const (
	errnoIPSetTypeMismatch  unix.Errno = 4102
	errnoIPSetExist         unix.Errno = 4103
	errnoIPSetInvalidCidr   unix.Errno = 4104
	errnoIPSetInvalidFamily unix.Errno = 4106
	errnoIPSetTimeout       unix.Errno = 4107
	errnoIPSetIPAddrIPv4    unix.Errno = 4109
	errnoIPSetIPAddrIPv6    unix.Errno = 4110
)

var errTextTable = []struct {
	text string
	err  error
}{
	{"does not exist", ErrSetNotExist},
	{"not added", ErrElemNotExist},
	{"is not in set", ErrElemNotExist},
	{"already exists", ErrSetExist},
	{"type mismatch", ErrInvalidMember},
	{"invalid argument", ErrInvalidMember},
	{"syntax error", ErrInvalidMember},
	{"without timeout support", ErrInvalidMember},
	{"invalid cidr", ErrInvalidMember},
	{"invalid family", ErrInvalidMember},
	{"invalid ipv4 address", ErrInvalidMember},
	{"invalid ipv6 address", ErrInvalidMember},
}

// normalizeErr maps backend errors onto the package sentinels, keeping the
// original error in the chain.
func normalizeErr(err error) error {
	if err == nil {
		return nil
	}
	for _, e := range []error{ErrSetNotExist, ErrSetExist, ErrElemNotExist, ErrInvalidMember} {
		if errors.Is(err, e) {
			return err
		}
	}
	// netlink reports ipset private codes as nl.IPSetError, the exec and
	// memory backends as unix.Errno.
	var ipsetErr nl.IPSetError
	if errors.As(err, &ipsetErr) {
		if sentinel := ipsetErrnoSentinel(unix.Errno(ipsetErr)); sentinel != nil {
			return joinErr(sentinel, err)
		}
		return err
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		if sentinel := ipsetErrnoSentinel(errno); sentinel != nil {
			return joinErr(sentinel, err)
		}
		return err
	}
	lower := strings.ToLower(err.Error())
	for _, item := range errTextTable {
		if strings.Contains(lower, item.text) {
			return joinErr(item.err, err)
		}
	}
	return err
}

func ipsetErrnoSentinel(errno unix.Errno) error {
	switch errno {
	case unix.ENOENT:
		return ErrSetNotExist
	case errnoIPSetExist:
		return ErrElemNotExist
	case unix.EINVAL, errnoIPSetTypeMismatch, errnoIPSetInvalidCidr, errnoIPSetInvalidFamily,
		errnoIPSetTimeout, errnoIPSetIPAddrIPv4, errnoIPSetIPAddrIPv6:
		return ErrInvalidMember
	}
	return nil
}

func joinErr(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}

// classify collapses an error from a kernel connection into a Result.
func classify(err error) Result {
	if err == nil {
		return ResultOK
	}
	err = normalizeErr(err)
	switch {
	case errors.Is(err, ErrElemNotExist):
		return ResultNotFound
	case errors.Is(err, ErrSetNotExist):
		return ResultSetMissing
	case errors.Is(err, ErrInvalidMember):
		return ResultInvalidMember
	}
	return ResultTransportError
}
