// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package server assembles the accept path, receive path, and fixed
// worker pool into a request/response server: a message in on any
// registered connection becomes a Request, a worker hands it to the
// caller's Handler, and the handler's response (or the retry-exhaustion
// envelope) goes back out through the same connection.
package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"code.hybscloud.com/wsreq/buffer"
	"code.hybscloud.com/wsreq/conn"
	"code.hybscloud.com/wsreq/netsock"
	"code.hybscloud.com/wsreq/queue"
	"code.hybscloud.com/wsreq/reactor"
)

// MaxRetries is the number of times the handler may refuse a Request in
// total (the first attempt included) before a worker gives up and appends
// the configured retry code.
const MaxRetries = 5

// dequeueTimeout bounds how long a worker blocks on an empty queue before
// re-checking the running flag, per spec.
const dequeueTimeout = time.Second

// ErrNoWorkers reports a Config with zero Workers.
var ErrNoWorkers = errors.New("server: Workers must be > 0")

// ErrNoListeners reports a Config with no configured Listeners.
var ErrNoListeners = errors.New("server: at least one listener is required")

// Handler processes one decoded request and writes into response,
// returning true once response is ready to send. Returning false puts the
// request back on the queue, until the handler has refused it MaxRetries
// times in total. The handler must not block indefinitely: it runs on one
// of a fixed number of workers, and while it blocks that worker takes no
// other request from the shared queue.
type Handler func(workerIndex int, client *Client, category, method uint8, params, response *buffer.Buffer, state any) bool

// ListenerConfig is one (port, framing) pair the server accepts on.
// Endpoint.IsWebSocket selects WebSocket framing for connections accepted
// on this listener; Endpoint.Address empty means listen on all interfaces.
type ListenerConfig struct {
	Endpoint netsock.Endpoint
	Family   netsock.Family
}

// Config configures a RequestServer. New rejects a Config without
// Listeners or with zero Workers; the remaining fields may be left at their
// zero values. The caller populates it as a plain struct rather than
// through functional options like conn's per-connection Option values.
type Config struct {
	Listeners []ListenerConfig
	Workers   uint8
	RetryCode uint16
	Logger    zerolog.Logger
	State     any

	// OnConnect and OnDisconnect are optional hooks invoked on the accept
	// and receive-path-detected-close events respectively. Either may be
	// nil.
	OnConnect    func(*Client)
	OnDisconnect func(*Client)
}

// Client is per-connection state, stored as the reactor registration's
// opaque state and handed back to the handler on every request from this
// connection.
type Client struct {
	fconn conn.FramedConn

	sendMu sync.Mutex
	closed atomic.Bool
}

// RemoteAddress returns the client's normalized 16-byte remote address.
func (c *Client) RemoteAddress() [netsock.AddressLength]byte {
	return c.fconn.RemoteAddress()
}

// send serializes writes to this client's connection: two workers can
// otherwise interleave EnsureWrite retries for two different responses
// onto the same socket.
func (c *Client) send(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.fconn.Send(payload)
}

func (c *Client) disconnect(srv *RequestServer, sock *netsock.Socket) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	// disconnect runs inside the multiplexer callback, which holds the lock
	// Unregister takes, so unregistering happens on its own goroutine. The
	// closed socket is skipped by the poll loop until then.
	go srv.mux.Unregister(sock)
	c.fconn.Close(conn.CloseNormal)
	if srv.cfg.OnDisconnect != nil {
		srv.cfg.OnDisconnect(c)
	}
}

// Request is one decoded, not-yet-handled message: the connection it
// arrived on, its parameter bytes, and how many times a worker has
// already tried it.
type Request struct {
	client     *Client
	parameters *buffer.Buffer
	attempts   uint8
}

// RequestServer owns the listeners, the async read multiplexer, the work
// queue, and the fixed worker pool.
type RequestServer struct {
	cfg     Config
	handler Handler

	listeners []*netsock.Listener
	mux       *reactor.Multiplexer
	q         *queue.WorkQueue[*Request]

	running   atomic.Bool
	workersWG sync.WaitGroup
	acceptWG  sync.WaitGroup
}

// New constructs listeners for every configured endpoint, starts the
// multiplexer, and spawns cfg.Workers worker goroutines. The server is
// running by the time New returns.
func New(cfg Config, handler Handler) (*RequestServer, error) {
	if cfg.Workers == 0 {
		return nil, ErrNoWorkers
	}
	if len(cfg.Listeners) == 0 {
		return nil, ErrNoListeners
	}

	s := &RequestServer{
		cfg:     cfg,
		handler: handler,
		mux:     reactor.New(cfg.Logger),
		q:       queue.New[*Request](),
	}

	for _, lc := range cfg.Listeners {
		ln, err := netsock.Listen(lc.Endpoint, lc.Family)
		if err != nil {
			s.closeListeners()
			return nil, err
		}
		s.listeners = append(s.listeners, ln)
	}

	s.running.Store(true)
	s.mux.Start()

	for i, lc := range cfg.Listeners {
		s.acceptWG.Add(1)
		go s.acceptLoop(s.listeners[i], lc.Endpoint.IsWebSocket)
	}

	for i := 0; i < int(cfg.Workers); i++ {
		s.workersWG.Add(1)
		go s.workerLoop(i)
	}

	return s, nil
}

func (s *RequestServer) closeListeners() {
	for _, ln := range s.listeners {
		ln.Close()
	}
}

// Close stops accepting and processing: it flips the running flag, stops
// the multiplexer, closes every listener, kills queue waiters, and waits
// for the worker goroutines to return. No in-flight handler invocation is
// interrupted.
func (s *RequestServer) Close() error {
	s.running.Store(false)
	s.mux.Stop()
	s.closeListeners()
	s.q.KillWaiters()
	s.workersWG.Wait()
	s.acceptWG.Wait()
	return nil
}

func (s *RequestServer) acceptLoop(ln *netsock.Listener, isWebSocket bool) {
	defer s.acceptWG.Done()
	for s.running.Load() {
		sock, err := ln.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.cfg.Logger.Warn().Err(err).Msg("server: accept failed")
			continue
		}

		var fc conn.FramedConn
		if isWebSocket {
			fc = conn.NewWS(sock)
		} else {
			fc = conn.NewTCP(sock)
		}

		client := &Client{fconn: fc}
		s.mux.Register(sock, client, s.onReadable)

		if s.cfg.OnConnect != nil {
			s.cfg.OnConnect(client)
		}
	}
}

func (s *RequestServer) onReadable(sock *netsock.Socket, state any) {
	client, ok := state.(*Client)
	if !ok || client == nil {
		return
	}

	messages, err := client.fconn.ReadMessages()
	if err != nil {
		client.disconnect(s, sock)
		return
	}

	for _, m := range messages {
		if m.Closed || m.Length == 0 {
			client.disconnect(s, sock)
			return
		}
		params := buffer.New()
		params.Adopt(m.Data)
		s.q.Enqueue(&Request{client: client, parameters: params})
	}
}

func (s *RequestServer) workerLoop(workerIndex int) {
	defer s.workersWG.Done()
	response := buffer.New()

	for s.running.Load() {
		req, ok := s.q.Dequeue(dequeueTimeout)
		if !ok {
			continue
		}

		if req.parameters.Len() < 4 {
			continue
		}
		id, err := req.parameters.ReadUint16()
		if err != nil {
			continue
		}
		category, err := req.parameters.ReadByte()
		if err != nil {
			continue
		}
		method, err := req.parameters.ReadByte()
		if err != nil {
			continue
		}

		response.Reset()
		response.WriteUint16(id)

		handled := s.handler(workerIndex, req.client, category, method, req.parameters, response, s.cfg.State)
		if handled {
			req.client.send(response.Bytes())
			continue
		}

		req.attempts++
		if req.attempts < MaxRetries {
			req.parameters.Seek(0)
			s.q.Enqueue(req)
			continue
		}
		response.WriteUint16(s.cfg.RetryCode)
		req.client.send(response.Bytes())
	}
}
