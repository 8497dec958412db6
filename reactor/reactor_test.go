// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reactor_test

import (
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"code.hybscloud.com/wsreq/netsock"
	"code.hybscloud.com/wsreq/reactor"
)

func loopbackPair(t *testing.T) (client, server *netsock.Socket) {
	t.Helper()
	ln, err := netsock.Listen(netsock.Endpoint{Port: 0}, netsock.FamilyIPv4)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	acceptCh := make(chan *netsock.Socket, 1)
	go func() {
		s, _ := ln.Accept()
		acceptCh <- s
	}()

	client, err = netsock.Connect(host, uint16(port), netsock.FamilyIPv4)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	server = <-acceptCh
	return client, server
}

func TestMultiplexerInvokesCallbackOnReadable(t *testing.T) {
	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	mux := reactor.New(zerolog.Nop())
	mux.Start()
	defer mux.Stop()

	var invocations int32
	done := make(chan struct{}, 1)
	mux.Register(server, "client-state", func(sock *netsock.Socket, state any) {
		if state != "client-state" {
			t.Errorf("callback state = %v, want client-state", state)
		}
		atomic.AddInt32(&invocations, 1)
		select {
		case done <- struct{}{}:
		default:
		}
	})

	client.EnsureWrite([]byte("ping"), 10)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("callback not invoked within timeout")
	}

	if atomic.LoadInt32(&invocations) == 0 {
		t.Fatalf("expected at least one invocation")
	}
}

func TestMultiplexerSkipsNilStateButStaysRegistered(t *testing.T) {
	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	mux := reactor.New(zerolog.Nop())
	mux.Start()
	defer mux.Stop()

	var invoked int32
	mux.Register(server, nil, func(sock *netsock.Socket, state any) {
		atomic.AddInt32(&invoked, 1)
	})

	client.EnsureWrite([]byte("ping"), 10)
	time.Sleep(150 * time.Millisecond)

	if atomic.LoadInt32(&invoked) != 0 {
		t.Fatalf("callback invoked for nil-state entry")
	}
}

func TestMultiplexerUnregisterStopsCallbacks(t *testing.T) {
	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	mux := reactor.New(zerolog.Nop())
	mux.Start()
	defer mux.Stop()

	var invoked int32
	mux.Register(server, "state", func(sock *netsock.Socket, state any) {
		atomic.AddInt32(&invoked, 1)
	})
	mux.Unregister(server)

	client.EnsureWrite([]byte("ping"), 10)
	time.Sleep(150 * time.Millisecond)

	if atomic.LoadInt32(&invoked) != 0 {
		t.Fatalf("callback invoked after unregister")
	}
}
