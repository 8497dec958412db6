// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package conn

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"strings"

	"code.hybscloud.com/wsreq/netsock"
)

// wsGUID is the fixed suffix RFC 6455 §1.3 defines for computing
// Sec-WebSocket-Accept from the client's Sec-WebSocket-Key.
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const (
	opContinuation byte = 0x0
	opText         byte = 0x1
	opBinary       byte = 0x2
	opClose        byte = 0x8
	opPing         byte = 0x9
	opPong         byte = 0xA
)

// WSConn frames application messages as a strict subset of RFC 6455: no
// extensions, no compression, server never masks outbound frames, and
// only Binary carries application payload (Text closes the connection).
// One connection fragments into at most one in-flight message at a time.
type WSConn struct {
	sock  *netsock.Socket
	opts  Options
	buf   [MessageMaxSize]byte
	ready bool

	// bytesReceived counts bytes in buf starting at reassembled that have
	// been read from the socket but not yet parsed into whole frames.
	bytesReceived int
	// reassembled counts bytes at the front of buf that are unmasked
	// payload from earlier non-FIN fragments of the in-flight message.
	reassembled int
}

// NewWS wraps sock in WebSocket framing. The opening handshake has not run
// yet; the first ReadMessages call performs it.
func NewWS(sock *netsock.Socket, opts ...Option) *WSConn {
	return &WSConn{sock: sock, opts: resolveOptions(opts)}
}

// ReadMessages drives the handshake to completion before any frame is
// parsed, then parses as many whole frames as the most recent socket read
// made available. A protocol violation closes the connection and reports
// it as a single Closed message; callers must stop reading afterward.
func (c *WSConn) ReadMessages() ([]Message, error) {
	if !c.ready {
		ready, closed, err := c.doHandshake()
		if err != nil {
			return nil, err
		}
		if closed {
			c.sock.Close()
			return []Message{{Closed: true}}, nil
		}
		if !ready {
			return nil, nil
		}
		c.ready = true
		return nil, nil
	}

	n, err := c.sock.Read(c.buf[c.reassembled+c.bytesReceived:])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		c.sock.Close()
		return []Message{{Closed: true}}, nil
	}
	c.bytesReceived += n

	var messages []Message
	for c.bytesReceived >= 2 {
		base := c.reassembled
		b0, b1 := c.buf[base], c.buf[base+1]
		fin := b0&0x80 != 0
		rsv := b0&0x70 != 0
		opcode := b0 & 0x0F
		masked := b1&0x80 != 0
		length := int(b1 & 0x7F)
		headerLen := 2

		if rsv || !masked {
			return c.closeWith(CloseProtocolError)
		}

		if length == 127 {
			return c.closeWith(CloseFrameTooLarge)
		}
		if length == 126 {
			if c.bytesReceived < headerLen+2 {
				break
			}
			length = int(binary.BigEndian.Uint16(c.buf[base+headerLen : base+headerLen+2]))
			headerLen += 2
		}
		if length > c.opts.ReadLimit {
			return c.closeWith(CloseFrameTooLarge)
		}

		if c.bytesReceived < headerLen+4 {
			break
		}
		var maskKey [4]byte
		copy(maskKey[:], c.buf[base+headerLen:base+headerLen+4])
		headerLen += 4

		if c.bytesReceived < headerLen+length {
			break
		}

		payloadOff := base + headerLen
		for i := 0; i < length; i++ {
			c.buf[payloadOff+i] ^= maskKey[i%4]
		}

		trailing := c.bytesReceived - headerLen - length

		switch opcode {
		case opText:
			return c.closeWith(CloseUnsupportedData)
		case opClose:
			return c.closeWith(CloseNormal)
		case opPing:
			if length > 125 {
				return c.closeWith(CloseFrameTooLarge)
			}
			if err := c.writeFrame(opPong, c.buf[payloadOff:payloadOff+length]); err != nil {
				c.sock.Close()
				return []Message{{Closed: true}}, nil
			}
			copy(c.buf[base:base+trailing], c.buf[payloadOff+length:payloadOff+length+trailing])
			c.bytesReceived = trailing
		case opPong:
			copy(c.buf[base:base+trailing], c.buf[payloadOff+length:payloadOff+length+trailing])
			c.bytesReceived = trailing
		case opContinuation, opBinary:
			if fin {
				copy(c.buf[base:base+length], c.buf[payloadOff:payloadOff+length])
				data := make([]byte, c.reassembled+length)
				copy(data, c.buf[:c.reassembled+length])
				messages = append(messages, Message{Data: data, Length: len(data)})
				copy(c.buf[:trailing], c.buf[payloadOff+length:payloadOff+length+trailing])
				c.reassembled = 0
				c.bytesReceived = trailing
			} else {
				copy(c.buf[base:base+length+trailing], c.buf[payloadOff:payloadOff+length+trailing])
				c.reassembled += length
				c.bytesReceived = trailing
			}
		default:
			return c.closeWith(CloseProtocolError)
		}
	}
	return messages, nil
}

func (c *WSConn) closeWith(code CloseCode) ([]Message, error) {
	c.Close(code)
	return []Message{{Closed: true}}, nil
}

// Send frames payload as a single unfragmented Binary frame. The server
// never masks outbound frames, per RFC 6455 §5.1 (masking is a
// client-to-server obligation only).
func (c *WSConn) Send(payload []byte) error {
	return c.writeFrame(opBinary, payload)
}

func (c *WSConn) writeFrame(opcode byte, payload []byte) error {
	if len(payload) > 0xFFFF {
		c.Close(CloseMessageTooBig)
		return ErrPayloadTooLarge
	}

	var header []byte
	if len(payload) <= 125 {
		header = []byte{0x80 | opcode, byte(len(payload))}
	} else {
		header = []byte{0x80 | opcode, 126, 0, 0}
		binary.BigEndian.PutUint16(header[2:4], uint16(len(payload)))
	}

	if n, err := c.sock.EnsureWrite(header, 10); err != nil || n < len(header) {
		c.sock.Close()
		if err != nil {
			return err
		}
		return ErrShortWrite
	}
	if len(payload) == 0 {
		return nil
	}
	if n, err := c.sock.EnsureWrite(payload, 10); err != nil || n < len(payload) {
		c.sock.Close()
		if err != nil {
			return err
		}
		return ErrShortWrite
	}
	return nil
}

// Close sends a Close frame whose 2-byte payload carries code in network
// (big-endian) byte order, then closes the socket.
func (c *WSConn) Close(code CloseCode) error {
	var payload [2]byte
	binary.BigEndian.PutUint16(payload[:], uint16(code))
	c.writeFrame(opClose, payload[:])
	return c.sock.Close()
}

// RemoteAddress returns the peer's normalized 16-byte address.
func (c *WSConn) RemoteAddress() [netsock.AddressLength]byte {
	return c.sock.RemoteAddress()
}

// doHandshake accumulates bytes until a full HTTP/1.1 upgrade request
// (terminated by a blank line) is buffered, then validates and answers it.
// ready is true once the 101 response has been sent; closed is true if the
// peer hung up before sending a full request; err is ErrHandshakeFailed if
// the request is malformed (no Sec-WebSocket-Key) or the response could
// not be written.
func (c *WSConn) doHandshake() (ready, closed bool, err error) {
	n, rerr := c.sock.Read(c.buf[c.bytesReceived:])
	if rerr != nil {
		return false, false, rerr
	}
	if n == 0 {
		return false, true, nil
	}
	c.bytesReceived += n

	headerEnd := bytes.Index(c.buf[:c.bytesReceived], []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return false, false, nil
	}

	key := extractWebSocketKey(c.buf[:headerEnd])
	if key == "" {
		c.sock.Close()
		return false, false, ErrHandshakeFailed
	}

	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + computeAcceptKey(key) + "\r\n\r\n"
	n2, werr := c.sock.EnsureWrite([]byte(response), 10)
	if werr != nil || n2 < len(response) {
		c.sock.Close()
		return false, false, ErrHandshakeFailed
	}

	remaining := c.bytesReceived - (headerEnd + 4)
	copy(c.buf[:remaining], c.buf[headerEnd+4:c.bytesReceived])
	c.bytesReceived = remaining
	return true, false, nil
}

func extractWebSocketKey(header []byte) string {
	for _, line := range strings.Split(string(header), "\r\n") {
		const prefix = "Sec-WebSocket-Key:"
		if len(line) > len(prefix) && strings.EqualFold(line[:len(prefix)], prefix) {
			return strings.TrimSpace(line[len(prefix):])
		}
	}
	return ""
}

func computeAcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

var _ FramedConn = (*WSConn)(nil)
