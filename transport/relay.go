// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// wsFrame is the relay wire format. Application frames carry a channel
// name and the opaque envelope bytes; the relay routes on To without
// looking inside Data. Control frames carry relay-originated
// notifications (focus changes, window destruction) and have Control
// set instead.
type wsFrame struct {
	Channel string          `json:"channel,omitempty"`
	To      string          `json:"to,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`

	Control string `json:"control,omitempty"`
	Label   string `json:"label,omitempty"`
}

// Control frame names.
const (
	controlFocusChanged    = "focus-changed"
	controlWindowDestroyed = "window-destroyed"
)

// Relay is the development-time hub behind WSHost. Each window process
// connects to /ws?label=<window>; the relay fans broadcasts out, routes
// targeted frames by label, and emits window-destroyed control frames
// when a connection drops. POST /focus/{label} injects a focus-changed
// notification, standing in for the desktop runtime.
type Relay struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*relayConn
}

// NewRelay creates an empty relay.
func NewRelay(logger *slog.Logger) *Relay {
	return &Relay{
		logger: logger,
		conns:  make(map[string]*relayConn),
	}
}

// Router returns the relay's HTTP surface.
func (r *Relay) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws", r.handleWS)
	router.HandleFunc("/windows", r.handleWindows).Methods(http.MethodGet)
	router.HandleFunc("/focus/{label}", r.handleFocus).Methods(http.MethodPost)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)
	return router
}

// relayConn serializes writes to one client connection.
type relayConn struct {
	label string
	conn  *websocket.Conn

	mu sync.Mutex
}

func (c *relayConn) write(frame wsFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

func (r *Relay) handleWS(w http.ResponseWriter, req *http.Request) {
	label := req.URL.Query().Get("label")
	if label == "" {
		http.Error(w, "label query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "label", label, "error", err)
		return
	}

	client := &relayConn{label: label, conn: conn}

	// Re-attaching under the same label closes the previous
	// connection, which is observed as a destroy of the old window.
	r.mu.Lock()
	previous := r.conns[label]
	r.conns[label] = client
	r.mu.Unlock()
	if previous != nil {
		previous.conn.Close()
	}

	r.logger.Info("window connected", "label", label)
	r.readLoop(client)
}

// readLoop pumps frames from one client until the connection drops,
// then unregisters it and announces the destruction.
func (r *Relay) readLoop(client *relayConn) {
	defer func() {
		r.mu.Lock()
		current := r.conns[client.label] == client
		if current {
			delete(r.conns, client.label)
		}
		r.mu.Unlock()
		client.conn.Close()

		if current {
			r.logger.Info("window disconnected", "label", client.label)
			r.fanOut(wsFrame{Control: controlWindowDestroyed, Label: client.label}, client.label)
		}
	}()

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			r.logger.Warn("dropping malformed frame", "label", client.label, "error", err)
			continue
		}
		r.route(client, frame)
	}
}

// route delivers one application frame: targeted when To is set,
// otherwise to every window except the sender.
func (r *Relay) route(sender *relayConn, frame wsFrame) {
	if frame.To != "" {
		r.mu.Lock()
		target := r.conns[frame.To]
		r.mu.Unlock()
		if target == nil {
			r.logger.Warn("dropping frame for vanished window",
				"from", sender.label, "target", frame.To)
			return
		}
		if err := target.write(frame); err != nil {
			r.logger.Warn("write to window failed",
				"target", frame.To, "error", err)
		}
		return
	}
	r.fanOut(frame, sender.label)
}

// fanOut writes frame to every connection except the excluded label.
func (r *Relay) fanOut(frame wsFrame, exclude string) {
	r.mu.Lock()
	targets := make([]*relayConn, 0, len(r.conns))
	for label, conn := range r.conns {
		if label == exclude {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.Unlock()

	for _, target := range targets {
		if err := target.write(frame); err != nil {
			r.logger.Warn("write to window failed",
				"target", target.label, "error", err)
		}
	}
}

func (r *Relay) handleWindows(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	labels := make([]string, 0, len(r.conns))
	for label := range r.conns {
		labels = append(labels, label)
	}
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(labels)
}

func (r *Relay) handleFocus(w http.ResponseWriter, req *http.Request) {
	label := mux.Vars(req)["label"]
	r.fanOut(wsFrame{Control: controlFocusChanged, Label: label}, "")
	w.WriteHeader(http.StatusAccepted)
}
