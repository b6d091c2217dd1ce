package rpc

import (
	"encoding/base64"
	"net/http"

	"github.com/gorilla/websocket"

	"wtmux/internal/eventbus"
	"wtmux/internal/wireerr"
)

// upgrader has no origin restriction: the socket is a local UNIX-domain
// transport, not exposed to a browser origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// attachHello is the first client-to-server message on an AttachSession
// stream: it names the session and the terminal size to start it at.
type attachHello struct {
	SessionID string `json:"session_id"`
	Rows      uint16 `json:"rows"`
	Cols      uint16 `json:"cols"`
}

// attachInbound is every subsequent client-to-server message: either input
// bytes (base64-encoded, since PTY output is not valid UTF-8 in general) or
// a resize.
type attachInbound struct {
	Data   string `json:"data,omitempty"`
	Resize *struct {
		Rows uint16 `json:"rows"`
		Cols uint16 `json:"cols"`
	} `json:"resize,omitempty"`
}

// attachOutbound is every server-to-client message: a chunk of PTY output.
type attachOutbound struct {
	Data string `json:"data"`
}

// attachSession upgrades to a websocket and multiplexes one client onto one
// session's attach.Pump. The first message selects (and, if necessary,
// starts) the session; the server's first reply is a replay of current
// screen state via Pump.Attach, matching spec.md §4.7's attach semantics.
func (h *handlers) attachSession(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("rpc: attach upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var hello attachHello
	if err := conn.ReadJSON(&hello); err != nil {
		return
	}

	sess, pump, err := h.d.StartSession(hello.SessionID)
	if err != nil {
		conn.WriteJSON(errorBody{Kind: wireerr.KindOf(err), Message: err.Error()})
		return
	}
	if hello.Rows != 0 && hello.Cols != 0 {
		_ = sess.Resize(hello.Rows, hello.Cols)
	}

	client := pump.Attach()
	defer pump.Detach(client)

	done := make(chan struct{})

	// Reader goroutine: client input and resize requests. Mirrors the
	// tunnel manager's reader-goroutine-plus-channel shape.
	go func() {
		defer close(done)
		for {
			var in attachInbound
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			if in.Resize != nil {
				_ = sess.Resize(in.Resize.Rows, in.Resize.Cols)
				continue
			}
			if in.Data != "" {
				raw, err := base64.StdEncoding.DecodeString(in.Data)
				if err != nil {
					continue
				}
				if _, err := pump.Write(raw); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case chunk, ok := <-client.C():
			if !ok {
				return
			}
			msg := attachOutbound{Data: base64.StdEncoding.EncodeToString(chunk)}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// subscribeEvents upgrades to a websocket and streams eventbus.Event values,
// optionally filtered to one repo via a ?repo_id= query parameter.
func (h *handlers) subscribeEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("rpc: subscribe upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	repoFilter := r.URL.Query().Get("repo_id")
	sub := h.d.Bus.Subscribe(repoFilter)
	defer sub.Close()

	// A reader goroutine exists solely to notice client disconnect; the
	// client sends nothing on this stream.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := conn.WriteJSON(wireEvent(ev)); err != nil {
				return
			}
		}
	}
}

type wireEventBody struct {
	Kind   eventbus.Kind `json:"kind"`
	RepoID string        `json:"repo_id,omitempty"`
	Data   any           `json:"data"`
}

func wireEvent(ev eventbus.Event) wireEventBody {
	return wireEventBody{Kind: ev.Kind, RepoID: ev.RepoID, Data: ev.Data}
}
