// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package conn

import (
	"encoding/binary"

	"code.hybscloud.com/wsreq/netsock"
)

// TCPConn frames application messages over a raw TCP socket with a 2-byte
// little-endian length prefix: no other wrapping. A single Socket.Read may
// return any number of whole messages, a partial one, or both; TCPConn
// accumulates across calls and only ever hands back whole messages.
type TCPConn struct {
	sock          *netsock.Socket
	opts          Options
	buf           [MessageMaxSize]byte
	bytesReceived int
}

// NewTCP wraps sock in the length-prefix framing discipline.
func NewTCP(sock *netsock.Socket, opts ...Option) *TCPConn {
	return &TCPConn{sock: sock, opts: resolveOptions(opts)}
}

// ReadMessages reads once from the socket, appends the result to whatever
// partial message was already buffered, and peels off as many complete
// (length-prefix, payload) pairs as are now available. A 0-byte read
// (clean peer close) is reported as a single Closed message.
func (c *TCPConn) ReadMessages() ([]Message, error) {
	n, err := c.sock.Read(c.buf[c.bytesReceived:])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		c.sock.Close()
		return []Message{{Closed: true}}, nil
	}
	c.bytesReceived += n

	var messages []Message
	for c.bytesReceived >= MessageLengthBytes {
		length := int(binary.LittleEndian.Uint16(c.buf[:MessageLengthBytes]))
		if length > c.opts.ReadLimit {
			c.sock.Close()
			return append(messages, Message{Closed: true}), nil
		}
		total := MessageLengthBytes + length
		if c.bytesReceived < total {
			break
		}

		data := make([]byte, length)
		copy(data, c.buf[MessageLengthBytes:total])
		messages = append(messages, Message{Data: data, Length: length})

		remaining := c.bytesReceived - total
		copy(c.buf[:remaining], c.buf[total:c.bytesReceived])
		c.bytesReceived = remaining
	}
	return messages, nil
}

// Send writes payload unframed: the caller is responsible for any prefix
// it wants the peer to see. A short write (ensureWrite's 10 attempts
// exhausted before every byte landed) disconnects the client.
func (c *TCPConn) Send(payload []byte) error {
	n, err := c.sock.EnsureWrite(payload, 10)
	if err != nil || n < len(payload) {
		c.sock.Close()
		if err != nil {
			return err
		}
		return ErrShortWrite
	}
	return nil
}

// Close closes the underlying socket. Raw TCP framing carries no close
// code, so code is ignored.
func (c *TCPConn) Close(_ CloseCode) error {
	return c.sock.Close()
}

// RemoteAddress returns the peer's normalized 16-byte address.
func (c *TCPConn) RemoteAddress() [netsock.AddressLength]byte {
	return c.sock.RemoteAddress()
}

var _ FramedConn = (*TCPConn)(nil)
