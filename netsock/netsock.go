// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package netsock wraps blocking TCP sockets (listen/accept/connect, read,
// write, close) behind a small, move-only-by-convention type, normalizing
// IPv4/IPv6 remote addresses and host/network byte order the way the
// request server's transport layer expects.
//
// Network option helpers and mapping — single source of truth:
//   - IPv4 listeners bind dual-stack off (default Go behavior).
//   - IPv6 listeners clear IPV6_V6ONLY where the platform supports it
//     (linux, darwin), enabling dual-stack accept per spec.
//   - Remote IPv4 addresses are stored IPv6-mapped in a 16-byte buffer.
//     Byte 10 and 11 are written 0x01 0x01, not the RFC-mandated 0xFF 0xFF —
//     this reproduces the originating implementation byte-for-byte pending
//     an upstream decision to fix it; see DESIGN.md.
package netsock

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"strconv"
	"time"

	"code.hybscloud.com/wsreq/internal/bo"
)

// AddressLength is the fixed width of a normalized remote address.
const AddressLength = 16

// Family selects the address family a Socket operates over.
type Family uint8

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
	FamilyAny
)

var (
	// ErrInvalidAddress reports an address that failed to resolve.
	ErrInvalidAddress = errors.New("netsock: invalid address")
	// ErrCouldNotListen reports a failure to bind/listen.
	ErrCouldNotListen = errors.New("netsock: could not listen")
	// ErrCouldNotConnect reports a failure to dial.
	ErrCouldNotConnect = errors.New("netsock: could not connect")
	// ErrNotConnected reports an operation on a disconnected Socket.
	ErrNotConnected = errors.New("netsock: not connected")
)

// Endpoint describes a listening or connecting address. An empty Address
// denotes a listening endpoint (spec §3).
type Endpoint struct {
	Address     string
	Port        uint16
	IsWebSocket bool
}

// Socket holds one connected TCP conn: a family, a connected flag, and the
// normalized remote address. It is exclusive-ownership / move-only by
// convention — copy a *Socket, never a Socket.
type Socket struct {
	conn      net.Conn
	family    Family
	connected bool
	remote    [AddressLength]byte
}

// Listener accepts new Sockets for one configured endpoint.
type Listener struct {
	ln       net.Listener
	endpoint Endpoint
	family   Family
}

func network(family Family) string {
	switch family {
	case FamilyIPv4:
		return "tcp4"
	case FamilyIPv6:
		return "tcp6"
	default:
		return "tcp"
	}
}

// Listen resolves, binds, and listens on endpoint with backlog SOMAXCONN
// (net.Listen's default backlog behavior on every supported GOOS).
func Listen(endpoint Endpoint, family Family) (*Listener, error) {
	addr := net.JoinHostPort(endpoint.Address, strconv.Itoa(int(endpoint.Port)))
	lc := net.ListenConfig{Control: controlDualStack(family)}
	ln, err := lc.Listen(context.Background(), network(family), addr)
	if err != nil {
		return nil, errors.Join(ErrCouldNotListen, err)
	}
	return &Listener{ln: ln, endpoint: endpoint, family: family}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Endpoint returns the configuration this listener was built from.
func (l *Listener) Endpoint() Endpoint { return l.endpoint }

// Close closes the listening socket.
func (l *Listener) Close() error { return l.ln.Close() }

// Accept blocks until a new connection arrives. On error it returns a
// disconnected Socket; callers must check IsConnected.
func (l *Listener) Accept() (*Socket, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return &Socket{connected: false}, err
	}
	s := &Socket{conn: conn, family: l.family, connected: true}
	s.normalizeRemoteAddress()
	return s, nil
}

// Connect dials address:port and returns a connected Socket.
func Connect(address string, port uint16, family Family) (*Socket, error) {
	addr := net.JoinHostPort(address, strconv.Itoa(int(port)))
	conn, err := net.Dial(network(family), addr)
	if err != nil {
		return nil, errors.Join(ErrCouldNotConnect, err)
	}
	s := &Socket{conn: conn, family: family, connected: true}
	s.normalizeRemoteAddress()
	return s, nil
}

// normalizeRemoteAddress fills s.remote from the underlying net.Conn's
// RemoteAddr, reproducing the 0x01 0x01 IPv4-mapped quirk byte-for-byte.
func (s *Socket) normalizeRemoteAddress() {
	tcpAddr, ok := s.conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return
	}
	ip4 := tcpAddr.IP.To4()
	if ip4 != nil {
		s.remote[10] = 0x01
		s.remote[11] = 0x01
		copy(s.remote[12:16], ip4)
		return
	}
	ip16 := tcpAddr.IP.To16()
	if ip16 != nil {
		copy(s.remote[:], ip16)
	}
}

// RemoteAddress returns the normalized 16-byte remote address. Panics if
// the socket is not connected, mirroring the source's not_connected_exception.
func (s *Socket) RemoteAddress() [AddressLength]byte {
	if !s.connected {
		panic(ErrNotConnected)
	}
	return s.remote
}

// IsConnected reports whether the socket is usable.
func (s *Socket) IsConnected() bool { return s.connected }

// Read reads up to len(buf) bytes. A return of (0, nil) signals a peer
// close or a failed read: transport errors are not reported separately.
// The only error returned is ErrNotConnected, for a closed Socket.
func (s *Socket) Read(buf []byte) (int, error) {
	if !s.connected {
		return 0, ErrNotConnected
	}
	n, err := s.conn.Read(buf)
	if err != nil {
		return n, nil // EOF/other read errors surface as a clean 0-byte read
	}
	return n, nil
}

// Write writes p, possibly short.
func (s *Socket) Write(p []byte) (int, error) {
	if !s.connected {
		return 0, ErrNotConnected
	}
	return s.conn.Write(p)
}

// EnsureWrite loops calling Write, sleeping tries×50ms between retries,
// until all of p is sent or maxAttempts is reached (0 = unlimited). It
// returns the total bytes sent.
func (s *Socket) EnsureWrite(p []byte, maxAttempts int) (int, error) {
	total := 0
	for tries := 0; ; tries++ {
		if maxAttempts > 0 && tries >= maxAttempts {
			return total, nil
		}
		n, err := s.Write(p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if total >= len(p) {
			return total, nil
		}
		time.Sleep(time.Duration(tries) * 50 * time.Millisecond)
	}
}

// DataAvailable reports whether a read would return promptly, polling with
// a 250µs timeout via select(2) on supported platforms (see select_unix.go
// / select_other.go).
func (s *Socket) DataAvailable() (bool, error) {
	if !s.connected {
		return false, ErrNotConnected
	}
	return dataAvailable(s.conn)
}

// FD returns the underlying raw file descriptor, when the platform and
// connection type support it. The reactor package uses this to build the
// fd_set it passes to select(2).
func (s *Socket) FD() (int, bool) {
	if s.conn == nil {
		return 0, false
	}
	return RawFD(s.conn)
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	s.connected = false
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// --- host/network byte order helpers ---

// HostToNetwork16 converts a host-order uint16 to network (big-endian) order.
func HostToNetwork16(v uint16) uint16 {
	if bo.Native() == binary.BigEndian {
		return v
	}
	return v<<8 | v>>8
}

// NetworkToHost16 is the inverse of HostToNetwork16 (the conversion is its
// own inverse).
func NetworkToHost16(v uint16) uint16 { return HostToNetwork16(v) }

// HostToNetwork32 converts a host-order uint32 to network (big-endian) order.
func HostToNetwork32(v uint32) uint32 {
	if bo.Native() == binary.BigEndian {
		return v
	}
	return v<<24 | (v&0xFF00)<<8 | (v&0xFF0000)>>8 | v>>24
}

// NetworkToHost32 is the inverse of HostToNetwork32.
func NetworkToHost32(v uint32) uint32 { return HostToNetwork32(v) }

// HostToNetwork64 converts a host-order uint64 to network (big-endian) order.
func HostToNetwork64(v uint64) uint64 {
	if bo.Native() == binary.BigEndian {
		return v
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return binary.BigEndian.Uint64(b[:])
}

// NetworkToHost64 is the inverse of HostToNetwork64.
func NetworkToHost64(v uint64) uint64 { return HostToNetwork64(v) }
