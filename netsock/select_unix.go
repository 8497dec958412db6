//go:build linux || darwin

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package netsock

import (
	"net"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// selectTimeoutMicros is the select(2) timeout spec §4.2 requires for a
// single socket's DataAvailable check.
const selectTimeoutMicros = 250

// FDSet is a portable fd_set, laid out as a flat byte bitmap rather than
// unix.FdSet's platform-specific word array (int64 words on linux, int32 on
// darwin) so the same Set/Zero logic works unchanged on both of the
// platforms this build constraint covers.
type FDSet struct {
	raw [unix.FD_SETSIZE / 8]byte
}

// Zero clears every bit.
func (s *FDSet) Zero() { *s = FDSet{} }

// Set marks fd as a member.
func (s *FDSet) Set(fd int) {
	if fd < 0 || fd >= unix.FD_SETSIZE {
		return
	}
	s.raw[fd/8] |= 1 << uint(fd%8)
}

// IsSet reports whether fd is a member.
func (s *FDSet) IsSet(fd int) bool {
	if fd < 0 || fd >= unix.FD_SETSIZE {
		return false
	}
	return s.raw[fd/8]&(1<<uint(fd%8)) != 0
}

func (s *FDSet) sys() *unix.FdSet {
	return (*unix.FdSet)(unsafe.Pointer(&s.raw[0]))
}

// Select wraps select(2): nfd is the highest fd in read plus one, per the
// usual select(2) calling convention, and timeout is rounded up to
// microsecond resolution.
func Select(nfd int, read *FDSet, timeout time.Duration) (int, error) {
	var sys *unix.FdSet
	if read != nil {
		sys = read.sys()
	}
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	n, err := unix.Select(nfd, sys, nil, nil, &tv)
	if err == unix.EINTR {
		return 0, nil
	}
	return n, err
}

// RawFD extracts the underlying file descriptor from a net.Conn, if any.
func RawFD(conn net.Conn) (int, bool) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd int
	err = raw.Control(func(f uintptr) { fd = int(f) })
	if err != nil {
		return 0, false
	}
	return fd, true
}

// dataAvailable polls conn's raw file descriptor with select(2) and a
// 250µs timeout, the same call the reactor's poll loop makes in bulk
// against a batch of registered sockets.
func dataAvailable(conn net.Conn) (bool, error) {
	fd, ok := RawFD(conn)
	if !ok {
		return true, nil
	}
	var set FDSet
	set.Set(fd)
	n, err := Select(fd+1, &set, selectTimeoutMicros*time.Microsecond)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// controlDualStack clears IPV6_V6ONLY before bind so an IPv6 listener also
// accepts IPv4-mapped connections, per spec §6.
func controlDualStack(family Family) func(network, address string, c syscall.RawConn) error {
	if family != FamilyIPv6 {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var setErr error
		err := c.Control(func(fd uintptr) {
			setErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
		})
		if err != nil {
			return err
		}
		return setErr
	}
}
