// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package conn

import "errors"

var (
	// ErrPayloadTooLarge is returned by Send when payload exceeds 65535
	// bytes: the single-frame form this server always uses has no room
	// for more.
	ErrPayloadTooLarge = errors.New("conn: payload exceeds 65535 bytes")
	// ErrHandshakeFailed reports a malformed or incomplete opening
	// handshake request.
	ErrHandshakeFailed = errors.New("conn: websocket handshake failed")
	// ErrShortWrite is returned when ensureWrite's retry budget was
	// exhausted before the full message landed.
	ErrShortWrite = errors.New("conn: short write, connection closed")
)
