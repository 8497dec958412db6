//go:build !linux && !darwin

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package netsock

import (
	"net"
	"syscall"
	"time"
)

// FDSet is a no-op stand-in on platforms without a golang.org/x/sys/unix
// select(2) binding in this build. Select always reports "ready" so
// callers fall through to a blocking Read, preserving the same externally
// observable contract at reduced efficiency — the same degrade-gracefully
// technique the byte-order package (internal/bo) uses for architectures
// outside its build-tag ladder.
type FDSet struct{}

func (s *FDSet) Zero()             {}
func (s *FDSet) Set(fd int)        {}
func (s *FDSet) IsSet(fd int) bool { return true }

// Select always reports n=1 (ready), ignoring nfd/read/timeout.
func Select(nfd int, read *FDSet, timeout time.Duration) (int, error) {
	return 1, nil
}

// RawFD is unavailable outside the unix build and always returns false.
// The reactor skips every socket without a raw fd, so on these platforms it
// invokes no callbacks.
func RawFD(conn net.Conn) (int, bool) { return 0, false }

func dataAvailable(conn net.Conn) (bool, error) { return true, nil }

func controlDualStack(family Family) func(network, address string, c syscall.RawConn) error {
	return nil
}
