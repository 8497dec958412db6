// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package server_test

import (
	"bytes"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"code.hybscloud.com/wsreq/buffer"
	"code.hybscloud.com/wsreq/netsock"
	"code.hybscloud.com/wsreq/server"
)

func freeListenerConfig(t *testing.T, isWebSocket bool) (server.ListenerConfig, func() (host string, port uint16)) {
	t.Helper()
	probe, err := netsock.Listen(netsock.Endpoint{Port: 0}, netsock.FamilyIPv4)
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	host, portStr, err := net.SplitHostPort(probe.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	probe.Close()

	lc := server.ListenerConfig{
		Endpoint: netsock.Endpoint{Address: host, Port: uint16(port), IsWebSocket: isWebSocket},
		Family:   netsock.FamilyIPv4,
	}
	return lc, func() (string, uint16) { return host, uint16(port) }
}

func readAtLeast(t *testing.T, c *netsock.Socket, n int) []byte {
	t.Helper()
	buf := make([]byte, 4096)
	got := 0
	deadline := time.Now().Add(2 * time.Second)
	for got < n && time.Now().Before(deadline) {
		m, err := c.Read(buf[got:])
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		got += m
		if m == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	if got < n {
		t.Fatalf("only read %d of %d bytes", got, n)
	}
	return buf[:got]
}

func TestServerTCPSingleRequest(t *testing.T) {
	lc, addr := freeListenerConfig(t, false)

	handler := func(workerIndex int, client *server.Client, category, method uint8, params, response *buffer.Buffer, state any) bool {
		if category != 1 || method != 2 {
			t.Errorf("category/method = %d/%d, want 1/2", category, method)
		}
		response.Write([]byte{0xBE, 0xEF})
		return true
	}

	srv, err := server.New(server.Config{
		Listeners: []server.ListenerConfig{lc},
		Workers:   2,
		RetryCode: 0xFFFF,
	}, handler)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	defer srv.Close()

	host, port := addr()
	client, err := netsock.Connect(host, port, netsock.FamilyIPv4)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	req := []byte{0x06, 0x00, 0x2A, 0x00, 0x01, 0x02, 0xDE, 0xAD}
	if _, err := client.EnsureWrite(req, 10); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readAtLeast(t, client, 4)
	want := []byte{0x2A, 0x00, 0xBE, 0xEF}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func maskedBinaryFrame(payload []byte) []byte {
	header := []byte{0x80 | 0x2, 0x80 | byte(len(payload))}
	maskKey := [4]byte{0x01, 0x02, 0x03, 0x04}
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ maskKey[i%4]
	}
	out := append(header, maskKey[:]...)
	return append(out, masked...)
}

func TestServerWebSocketSingleMessage(t *testing.T) {
	lc, addr := freeListenerConfig(t, true)

	handler := func(workerIndex int, client *server.Client, category, method uint8, params, response *buffer.Buffer, state any) bool {
		response.WriteByte(0x99)
		return true
	}

	srv, err := server.New(server.Config{
		Listeners: []server.ListenerConfig{lc},
		Workers:   2,
		RetryCode: 0xFFFF,
	}, handler)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	defer srv.Close()

	host, port := addr()
	client, err := netsock.Connect(host, port, netsock.FamilyIPv4)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	handshake := "GET / HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	if _, err := client.EnsureWrite([]byte(handshake), 10); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	resp := readAtLeast(t, client, len("HTTP/1.1 101"))
	if !bytes.HasPrefix(resp, []byte("HTTP/1.1 101")) {
		t.Fatalf("unexpected handshake response: %q", resp)
	}

	msg := maskedBinaryFrame([]byte{0x2A, 0x00, 0x01, 0x02})
	if _, err := client.EnsureWrite(msg, 10); err != nil {
		t.Fatalf("write message: %v", err)
	}

	frame := readAtLeast(t, client, 5)
	if frame[0] != 0x82 {
		t.Fatalf("frame[0] = %x, want 0x82 (FIN+Binary)", frame[0])
	}
	if frame[1]&0x80 != 0 {
		t.Fatalf("server frame must not be masked, got length byte %x", frame[1])
	}
	length := int(frame[1] & 0x7F)
	payload := frame[2 : 2+length]
	want := []byte{0x2A, 0x00, 0x99}
	if !bytes.Equal(payload, want) {
		t.Fatalf("payload = % x, want % x", payload, want)
	}
}

func TestServerRetryExhaustionAppendsRetryCode(t *testing.T) {
	lc, addr := freeListenerConfig(t, false)

	const retryCode = 0xABCD
	handler := func(workerIndex int, client *server.Client, category, method uint8, params, response *buffer.Buffer, state any) bool {
		return false
	}

	srv, err := server.New(server.Config{
		Listeners: []server.ListenerConfig{lc},
		Workers:   1,
		RetryCode: retryCode,
	}, handler)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	defer srv.Close()

	host, port := addr()
	client, err := netsock.Connect(host, port, netsock.FamilyIPv4)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	req := []byte{0x06, 0x00, 0x2A, 0x00, 0x01, 0x02, 0xDE, 0xAD}
	if _, err := client.EnsureWrite(req, 10); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readAtLeast(t, client, 4)
	id := binary.LittleEndian.Uint16(got[:2])
	code := binary.LittleEndian.Uint16(got[2:4])
	if id != 0x002A {
		t.Fatalf("id = %x, want 0x002A", id)
	}
	if code != retryCode {
		t.Fatalf("retry code = %x, want %x", code, retryCode)
	}
}
