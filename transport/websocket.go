// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Compile-time interface check.
var _ Host = (*WSHost)(nil)

// WSHost is a Host backed by a Relay connection. Targeted frames are
// routed by the relay, so EmitTo cannot observe a vanished target
// synchronously; the relay logs and drops instead, which still
// satisfies the at-most-once contract. Lost connections are redialed
// with exponential backoff; frames sent while disconnected are dropped.
type WSHost struct {
	baseURL *url.URL
	label   string
	logger  *slog.Logger
	client  *http.Client

	mu           sync.Mutex
	nextID       int
	listeners    map[string]map[int]func([]byte)
	focusFns     map[int]func(string)
	destroyedFns map[int]func(string)

	outbound  chan wsFrame
	closed    chan struct{}
	closeOnce sync.Once
}

// DialRelay connects to the relay at baseURL (http:// or https://) as
// the window identified by label, retrying the initial dial with
// exponential backoff until ctx is cancelled.
func DialRelay(ctx context.Context, baseURL, label string, logger *slog.Logger) (*WSHost, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing relay URL: %w", err)
	}

	host := &WSHost{
		baseURL:      parsed,
		label:        label,
		logger:       logger.With("window", label),
		client:       &http.Client{Timeout: 10 * time.Second},
		listeners:    make(map[string]map[int]func([]byte)),
		focusFns:     make(map[int]func(string)),
		destroyedFns: make(map[int]func(string)),
		outbound:     make(chan wsFrame, 64),
		closed:       make(chan struct{}),
	}

	conn, err := host.dial(ctx)
	if err != nil {
		return nil, err
	}
	go host.run(conn)
	return host, nil
}

// wsURL converts the relay base URL into the websocket endpoint for
// this window.
func (h *WSHost) wsURL() string {
	endpoint := *h.baseURL
	endpoint.Scheme = strings.Replace(endpoint.Scheme, "http", "ws", 1)
	endpoint.Path = "/ws"
	endpoint.RawQuery = url.Values{"label": {h.label}}.Encode()
	return endpoint.String()
}

func (h *WSHost) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	operation := func() error {
		var err error
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, h.wsURL(), nil)
		return err
	}
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("dialing relay: %w", err)
	}
	return conn, nil
}

// run owns the connection: it pumps frames in both directions and
// redials when the connection drops, until Close.
func (h *WSHost) run(conn *websocket.Conn) {
	for {
		h.pump(conn)
		conn.Close()

		select {
		case <-h.closed:
			return
		default:
		}

		h.logger.Warn("relay connection lost, redialing")
		ctx, cancel := h.closeContext()
		fresh, err := h.dial(ctx)
		cancel()
		if err != nil {
			// Close was called mid-redial.
			return
		}
		conn = fresh
	}
}

// closeContext returns a context cancelled when the host is closed.
func (h *WSHost) closeContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-h.closed:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// pump runs one connection's read and write loops until either fails.
func (h *WSHost) pump(conn *websocket.Conn) {
	writerDone := make(chan struct{})
	readerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for {
			select {
			case frame := <-h.outbound:
				if err := conn.WriteJSON(frame); err != nil {
					return
				}
			case <-readerDone:
				return
			case <-h.closed:
				conn.Close()
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.handleFrame(data)
	}
	close(readerDone)
	<-writerDone
}

func (h *WSHost) handleFrame(data []byte) {
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.logger.Warn("dropping malformed relay frame", "error", err)
		return
	}

	switch frame.Control {
	case controlFocusChanged:
		for _, fn := range h.focusObservers() {
			fn(frame.Label)
		}
		return
	case controlWindowDestroyed:
		for _, fn := range h.destroyedObservers() {
			fn(frame.Label)
		}
		return
	case "":
		// Application frame.
	default:
		h.logger.Warn("dropping unknown control frame", "control", frame.Control)
		return
	}

	h.mu.Lock()
	fns := make([]func([]byte), 0, len(h.listeners[frame.Channel]))
	for _, fn := range h.listeners[frame.Channel] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(frame.Data)
	}
}

// enqueue hands a frame to the write pump. Frames are dropped when the
// host is closed or the outbound buffer is full: the bus tolerates loss
// and debounces its own sends, so blocking the caller would be worse.
func (h *WSHost) enqueue(frame wsFrame) error {
	select {
	case <-h.closed:
		return fmt.Errorf("relay host is closed")
	default:
	}
	select {
	case h.outbound <- frame:
		return nil
	default:
		h.logger.Warn("outbound buffer full, dropping frame", "channel", frame.Channel)
		return nil
	}
}

// Broadcast sends the frame to every other window via the relay.
func (h *WSHost) Broadcast(_ context.Context, channel string, frame []byte) error {
	return h.enqueue(wsFrame{Channel: channel, Data: frame})
}

// EmitTo sends the frame to one window via the relay. A vanished
// target is logged and dropped relay-side.
func (h *WSHost) EmitTo(_ context.Context, label, channel string, frame []byte) error {
	return h.enqueue(wsFrame{Channel: channel, To: label, Data: frame})
}

// Listen registers fn for frames on the channel.
func (h *WSHost) Listen(channel string, fn func([]byte)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listeners[channel] == nil {
		h.listeners[channel] = make(map[int]func([]byte))
	}
	id := h.nextID
	h.nextID++
	h.listeners[channel][id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners[channel], id)
	}, nil
}

// Windows asks the relay for the connected window labels.
func (h *WSHost) Windows(ctx context.Context) ([]string, error) {
	endpoint := *h.baseURL
	endpoint.Path = "/windows"

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building windows request: %w", err)
	}
	response, err := h.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("listing windows: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing windows: relay returned %s", response.Status)
	}
	var labels []string
	if err := json.NewDecoder(response.Body).Decode(&labels); err != nil {
		return nil, fmt.Errorf("decoding window list: %w", err)
	}
	return labels, nil
}

// OnFocus registers a focus-changed observer.
func (h *WSHost) OnFocus(fn func(string)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.focusFns[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.focusFns, id)
	}
}

// OnDestroyed registers a window-destroyed observer.
func (h *WSHost) OnDestroyed(fn func(string)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.destroyedFns[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.destroyedFns, id)
	}
}

func (h *WSHost) focusObservers() []func(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fns := make([]func(string), 0, len(h.focusFns))
	for _, fn := range h.focusFns {
		fns = append(fns, fn)
	}
	return fns
}

func (h *WSHost) destroyedObservers() []func(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fns := make([]func(string), 0, len(h.destroyedFns))
	for _, fn := range h.destroyedFns {
		fns = append(fns, fn)
	}
	return fns
}

// Close tears the connection down. Safe to call more than once.
func (h *WSHost) Close() {
	h.closeOnce.Do(func() { close(h.closed) })
}
