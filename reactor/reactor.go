// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package reactor implements the async read multiplexer: a background
// goroutine that registers sockets, polls them with select(2), and invokes
// a per-socket callback when readable.
//
// Registration/unregistration and the poll loop are serialized on the same
// mutex; a callback runs while that lock is held, matching spec §4.3's
// "registration and unregistration are mutex-serialized with the poll
// loop; the callback runs while the list lock is held". The iteration
// cursor rotates across ticks, giving round-robin fairness once more than
// FDSetSize sockets are registered, and a registered socket with a nil
// state is skipped but stays registered.
package reactor

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"code.hybscloud.com/wsreq/netsock"
)

// FDSetSize is the maximum number of sockets snapshotted into one select(2)
// call per tick, matching the conventional FD_SETSIZE.
const FDSetSize = 1024

// tickPeriod is how often the poll loop wakes up, per spec §4.3 ("every
// ~25ms").
const tickPeriod = 25 * time.Millisecond

// selectTimeout is the select(2) timeout applied to each poll, per spec §4.3.
const selectTimeout = 250 * time.Microsecond

// Callback is invoked for a socket once select(2) reports it readable.
type Callback func(sock *netsock.Socket, state any)

type entry struct {
	sock     *netsock.Socket
	state    any
	callback Callback
}

// Multiplexer is the async read multiplexer. The zero value is not usable;
// construct with New.
type Multiplexer struct {
	mu      sync.Mutex
	entries []*entry
	cursor  int

	logger zerolog.Logger

	stopCh  chan struct{}
	stopped chan struct{}
	started bool
}

// New returns a Multiplexer that logs poll failures through logger.
func New(logger zerolog.Logger) *Multiplexer {
	return &Multiplexer{
		logger:  logger,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start spawns the background poll goroutine. Safe to call at most once.
func (m *Multiplexer) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()
	go m.loop()
}

// Stop signals the poll goroutine to exit and waits for it to do so.
func (m *Multiplexer) Stop() {
	close(m.stopCh)
	<-m.stopped
}

// Register adds sock to the poll set with an opaque state value passed back
// to callback on every readable notification.
func (m *Multiplexer) Register(sock *netsock.Socket, state any, callback Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, &entry{sock: sock, state: state, callback: callback})
}

// Unregister removes sock from the poll set. A no-op if sock was never
// registered or was already removed.
func (m *Multiplexer) Unregister(sock *netsock.Socket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.sock == sock {
			m.entries = append(m.entries[:i:i], m.entries[i+1:]...)
			if m.cursor > i {
				m.cursor--
			}
			return
		}
	}
}

func (m *Multiplexer) loop() {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	defer close(m.stopped)
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.pollOnce()
		}
	}
}

// pollOnce snapshots up to FDSetSize registered sockets starting at the
// rotating cursor, selects on them, and invokes callbacks for the readable
// ones while the list lock is held.
func (m *Multiplexer) pollOnce() {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := len(m.entries)
	if total == 0 {
		return
	}
	batch := total
	if batch > FDSetSize {
		batch = FDSetSize
	}

	var set netsock.FDSet
	maxFD := -1
	type candidate struct {
		idx int
		fd  int
	}
	candidates := make([]candidate, 0, batch)

	for i := 0; i < batch; i++ {
		idx := (m.cursor + i) % total
		e := m.entries[idx]
		if e.state == nil {
			continue
		}
		fd, ok := e.sock.FD()
		if !ok || !e.sock.IsConnected() {
			continue
		}
		set.Set(fd)
		if fd > maxFD {
			maxFD = fd
		}
		candidates = append(candidates, candidate{idx: idx, fd: fd})
	}
	m.cursor = (m.cursor + batch) % total

	if maxFD < 0 {
		return
	}

	ready, err := netsock.Select(maxFD+1, &set, selectTimeout)
	if err != nil {
		m.logger.Warn().Err(err).Msg("reactor: select failed")
		return
	}
	if ready == 0 {
		return
	}

	for _, c := range candidates {
		if !set.IsSet(c.fd) {
			continue
		}
		e := m.entries[c.idx]
		e.callback(e.sock, e.state)
	}
}
