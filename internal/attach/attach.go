// Package attach runs the single output pump per session: it reads PTY
// output, auto-answers terminal queries, feeds the session's parser and
// ring, and fans output out to every attached client over a bounded
// per-client queue.
package attach

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"

	"wtmux/internal/notification"
	"wtmux/internal/session"
)

// clientQueueSize bounds how many unconsumed output chunks an attached
// client can accumulate; a client whose queue is full is disconnected (see
// broadcast).
const clientQueueSize = 256

// readChunkSize is the buffer size for each PTY master read.
const readChunkSize = 4096

// Client is one attached consumer of a session's live output.
type Client struct {
	id   int
	ch   chan []byte
	done chan struct{}
}

// C is the channel of output chunks for this client, starting with a
// replay of the session's screen state, then every live chunk thereafter.
func (c *Client) C() <-chan []byte { return c.ch }

// Pump owns the PTY read loop for exactly one session and fans output out
// to its attached clients.
type Pump struct {
	sess   *session.Session
	logger *slog.Logger

	mu       sync.Mutex
	clients  map[int]*Client
	nextID   int
	stopped  bool
	stopCh   chan struct{}
	wroteMtx sync.Mutex // serializes writes back into the PTY (query answers + client input)

	onNotify func(notification.Notification)
}

// OnNotify registers a callback invoked for every OSC 9/777 notification an
// AI provider emits in its output, e.g. to signal task completion. Must be
// called before Run; nil disables notification scanning.
func (p *Pump) OnNotify(fn func(notification.Notification)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onNotify = fn
}

// NewPump creates a pump for sess. It does not start reading until Run is
// called (typically in its own goroutine by the caller after Start()ing
// the session).
func NewPump(sess *session.Session, logger *slog.Logger) *Pump {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pump{
		sess:    sess,
		logger:  logger,
		clients: make(map[int]*Client),
		stopCh:  make(chan struct{}),
	}
}

// Run reads from the session's PTY handle until it exits or the pump is
// stopped. It is meant to be called once, in its own goroutine.
func (p *Pump) Run() {
	handle := p.sess.Handle()
	if handle == nil {
		return
	}

	buf := make([]byte, readChunkSize)
	for {
		n, err := handle.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			p.sess.ProcessOutput(chunk)
			p.answerQueries(chunk)
			p.notify(chunk)
			p.broadcast(chunk)
		}
		if err != nil {
			p.Stop()
			return
		}
		select {
		case <-p.stopCh:
			return
		default:
		}
	}
}

// Stop tears the pump down: every attached client's channel is closed so
// readers observe the session ending.
func (p *Pump) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stopCh)
	for _, c := range p.clients {
		close(c.ch)
	}
	p.clients = make(map[int]*Client)
}

// Attach registers a new client, seeding its queue with a replay of the
// session's current screen state before any live chunk.
func (p *Pump) Attach() *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	c := &Client{id: id, ch: make(chan []byte, clientQueueSize), done: make(chan struct{})}

	if p.stopped {
		close(c.ch)
		return c
	}

	replay := p.sess.GetScreenState()
	if len(replay) > 0 {
		c.ch <- replay
	}

	p.clients[id] = c
	return c
}

// Detach removes a client from the fan-out set. The output pump itself
// keeps running regardless.
func (p *Pump) Detach(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.clients[c.id]; ok {
		delete(p.clients, c.id)
	}
}

// broadcast fans chunk out to every attached client. A client whose queue is
// already full is disconnected rather than having the chunk dropped under
// it: a silently dropped chunk would desync the client's terminal state
// from the replay it would get on a fresh Attach, so instead its channel is
// closed and it is removed from the fan-out set, forcing a reconnect that
// replays current screen state.
func (p *Pump) broadcast(chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, c := range p.clients {
		select {
		case c.ch <- chunk:
		default:
			p.logger.Warn("attach: disconnecting slow client", "session_id", p.sess.ID)
			close(c.ch)
			delete(p.clients, id)
		}
	}
}

// Write forwards input bytes from an attached client to the PTY. Writes
// from concurrent clients are serialized here; the system makes no
// fairness guarantee beyond arrival order.
func (p *Pump) Write(data []byte) (int, error) {
	p.wroteMtx.Lock()
	defer p.wroteMtx.Unlock()
	return p.sess.Write(data)
}

// writeBack sends a query-response back into the PTY, under the same lock
// client input writes use.
func (p *Pump) writeBack(data []byte) {
	p.wroteMtx.Lock()
	defer p.wroteMtx.Unlock()
	if _, err := p.sess.Write(data); err != nil {
		p.logger.Debug("attach: failed to write query response", "session_id", p.sess.ID, "error", err)
	}
}

// notify scans chunk for OSC 9/777 notification sequences and forwards any
// found to the registered callback, if one is set.
func (p *Pump) notify(chunk []byte) {
	p.mu.Lock()
	fn := p.onNotify
	p.mu.Unlock()
	if fn == nil {
		return
	}
	for _, n := range notification.Detect(chunk) {
		fn(n)
	}
}

// answerQueries scans chunk for recognized terminal-query escape sequences
// and writes the tabulated response back into the PTY, so attach/detach
// cycles never leave a query unanswered by a client that happened to be
// away when it arrived.
func (p *Pump) answerQueries(chunk []byte) {
	for _, q := range queryTable {
		if idx := bytes.Index(chunk, q.match); idx >= 0 {
			p.writeBack(q.respond(p.sess))
		}
	}
}

type query struct {
	match   []byte
	respond func(s *session.Session) []byte
}

var queryTable = []query{
	{
		match: []byte("\x1b[6n"),
		respond: func(s *session.Session) []byte {
			row, col := s.CursorPosition()
			return []byte(fmt.Sprintf("\x1b[%d;%dR", row+1, col+1))
		},
	},
	{
		match:   []byte("\x1b[c"),
		respond: func(s *session.Session) []byte { return []byte("\x1b[?1;2c") },
	},
	{
		match:   []byte("\x1b[0c"),
		respond: func(s *session.Session) []byte { return []byte("\x1b[?1;2c") },
	},
	{
		match:   []byte("\x1b[>c"),
		respond: func(s *session.Session) []byte { return []byte("\x1b[>41;0;0c") },
	},
	{
		match:   []byte("\x1b[>0c"),
		respond: func(s *session.Session) []byte { return []byte("\x1b[>41;0;0c") },
	},
	{
		match:   []byte("\x1b[?u"),
		respond: func(s *session.Session) []byte { return []byte("\x1b[?0u") },
	},
	{
		match:   []byte("\x1b]10;?\x07"),
		respond: func(s *session.Session) []byte { return []byte("\x1b]10;rgb:d0/d0/d0\x07") },
	},
	{
		match:   []byte("\x1b]10;?\x1b\\"),
		respond: func(s *session.Session) []byte { return []byte("\x1b]10;rgb:d0/d0/d0\x1b\\") },
	},
	{
		match:   []byte("\x1b]11;?\x07"),
		respond: func(s *session.Session) []byte { return []byte("\x1b]11;rgb:1e/1e/1e\x07") },
	},
	{
		match:   []byte("\x1b]11;?\x1b\\"),
		respond: func(s *session.Session) []byte { return []byte("\x1b]11;rgb:1e/1e/1e\x1b\\") },
	},
}
