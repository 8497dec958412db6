// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package conn

// CloseCode is a WebSocket close reason, sent in the 2-byte big-endian
// payload of an outbound Close frame (RFC 6455 §7.4).
type CloseCode uint16

const (
	// CloseNormal is a normal, expected closure.
	CloseNormal CloseCode = 1000
	// CloseGoingAway signals the peer is going away (e.g. server shutdown).
	CloseGoingAway CloseCode = 1001
	// CloseProtocolError signals a generic protocol violation: bad opcode,
	// a reserved bit set, or an unmasked client frame.
	CloseProtocolError CloseCode = 1002
	// CloseUnsupportedData is sent when a Text frame arrives; this server
	// only accepts Binary application messages.
	CloseUnsupportedData CloseCode = 1003
	// CloseMessageTooBig is sent when an outbound message would not fit in
	// a single frame's 16-bit length field.
	CloseMessageTooBig CloseCode = 1004
	// CloseFrameTooLarge is sent when an inbound frame is too large to
	// accept: it declares the 64-bit extended length form (length7 == 127),
	// which this server never accepts, its payload exceeds the connection's
	// ReadLimit, or it is a Ping with more than 125 payload bytes.
	CloseFrameTooLarge CloseCode = 1009
)
