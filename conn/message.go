// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package conn implements the two framing disciplines that coexist over a
// connection's receive buffer: length-prefixed raw TCP (TCPConn) and a
// strict subset of RFC 6455 WebSocket framing (WSConn). Both satisfy
// FramedConn, the small capability set {read_frames, send_message, close}
// Design Notes calls for in place of deep inheritance.
package conn

import "code.hybscloud.com/wsreq/netsock"

// MessageMaxSize is the per-connection receive buffer size: large enough
// for one maximum-sized WebSocket frame (2-byte header, 2-byte extended
// length, 4-byte mask key, MaxPayloadSize byte payload) with no headroom
// to spare — a frame at exactly MaxPayloadSize must still fit.
const MessageMaxSize = 2 + 2 + 4 + MaxPayloadSize

// MaxPayloadSize is the largest application message payload either
// framing discipline accepts: the ceiling a 2-byte TCP length prefix can
// express, and the WebSocket length7==126 boundary (a declared length of
// 65535 must be accepted per the extended-length encoding).
const MaxPayloadSize = 65535

// MessageLengthBytes is the width of the TCP length prefix.
const MessageLengthBytes = 2

// Message is a contiguous (data, length) pair delivered to the request
// server, plus a Closed flag signaling that the connection was terminated
// during the read. Data is a fresh copy owned by the caller once returned
// from ReadMessages; later reads on the same connection do not modify it.
type Message struct {
	Data   []byte
	Length int
	Closed bool
}

// FramedConn is the capability set both connection variants expose to the
// request server: read whole application messages, send one message back,
// and close with a reason code. A tagged sum type over this small
// interface replaces the deep inheritance hierarchy the originating
// implementation used.
type FramedConn interface {
	// ReadMessages drains one readable notification's worth of bytes from
	// the socket and returns zero or more whole application messages.
	ReadMessages() ([]Message, error)
	// Send writes one application message back to the peer, framing it if
	// the underlying discipline requires it.
	Send(payload []byte) error
	// Close sends a protocol-appropriate close indication (if any) and
	// closes the underlying socket.
	Close(code CloseCode) error
	// RemoteAddress returns the peer's normalized 16-byte address.
	RemoteAddress() [netsock.AddressLength]byte
}
