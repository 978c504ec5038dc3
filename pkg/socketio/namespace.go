package socketio

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Handler receives an event's arguments: the JSON array sent by the
// server with the event name (element 0) already removed.
type Handler func(args []json.RawMessage)

type handlerEntry struct {
	fn   Handler
	once bool
}

// Namespace is a logical Socket.IO channel, identified by a path-like
// name (default "/"). It is owned by its [Client] and stays valid across
// reconnects: its sid is cleared and re-set in place rather than the
// Namespace being replaced, so user references never dangle.
type Namespace struct {
	client *Client
	name   string

	mu  sync.RWMutex
	sid string

	handlersMu sync.Mutex
	handlers   map[string][]handlerEntry
}

func newNamespace(c *Client, name string) *Namespace {
	return &Namespace{
		client:   c,
		name:     name,
		handlers: make(map[string][]handlerEntry),
	}
}

// Name returns the namespace's path, e.g. "/" or "/chat".
func (n *Namespace) Name() string {
	return n.name
}

// Connected reports whether the server has acknowledged this namespace
// with a non-empty sid.
func (n *Namespace) Connected() bool {
	return n.SID() != ""
}

// SID returns the namespace's Socket.IO session id, or "" if disconnected.
func (n *Namespace) SID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sid
}

func (n *Namespace) setSID(sid string) {
	n.mu.Lock()
	n.sid = sid
	n.mu.Unlock()
}

// On registers a handler that fires every time event is dispatched.
// The reserved events "connect" and "disconnect" fire (with no
// arguments, and with a single reason-string argument respectively)
// the way a Socket.IO client's own connection lifecycle events do.
// Packets of the binary_event and binary_ack types are never decoded
// and never reach any handler.
func (n *Namespace) On(event string, h Handler) {
	n.addHandler(event, h, false)
}

// Once registers a handler that fires at most once, then unregisters
// itself.
func (n *Namespace) Once(event string, h Handler) {
	n.addHandler(event, h, true)
}

func (n *Namespace) addHandler(event string, h Handler, once bool) {
	n.handlersMu.Lock()
	defer n.handlersMu.Unlock()
	n.handlers[event] = append(n.handlers[event], handlerEntry{fn: h, once: once})
}

// dispatch invokes every handler registered for event, in registration
// order, removing any one-shot handlers that just fired.
func (n *Namespace) dispatch(event string, args []json.RawMessage) {
	n.handlersMu.Lock()
	entries := n.handlers[event]
	if len(entries) == 0 {
		n.handlersMu.Unlock()
		return
	}
	remaining := entries[:0:0]
	for _, e := range entries {
		if !e.once {
			remaining = append(remaining, e)
		}
	}
	n.handlers[event] = remaining
	n.handlersMu.Unlock()

	for _, e := range entries {
		e.fn(args)
	}
}

func (n *Namespace) fireConnect() {
	n.dispatch("connect", nil)
}

func (n *Namespace) fireDisconnect(reason string) {
	raw, _ := json.Marshal(reason)
	n.dispatch("disconnect", []json.RawMessage{raw})
}

// Emit sends an 'event' packet to the server. If args is a single
// value that already marshals to a JSON array, ev is prepended as
// element 0; otherwise the wire payload is the array [ev, args...].
func (n *Namespace) Emit(ev string, args ...any) error {
	payload, err := encodeEventPayload(ev, args)
	if err != nil {
		return err
	}

	body := encodeEnvelope(packetEvent, n.name, payload)
	if err := n.client.sendSIO(body); err != nil {
		n.client.logger.Error("failed to emit Socket.IO event",
			slog.String("namespace", n.name), slog.String("event", ev), slog.Any("error", err))
		return err
	}
	return nil
}

// encodeEventPayload implements the emit encoding rule: a single
// argument that already marshals to a JSON array has ev merged in as
// element 0; anything else (including zero or multiple arguments) forms
// the array [ev, args...].
func encodeEventPayload(ev string, args []any) ([]byte, error) {
	if len(args) == 1 {
		raw, err := json.Marshal(args[0])
		if err != nil {
			return nil, err
		}

		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err == nil {
			evRaw, err := json.Marshal(ev)
			if err != nil {
				return nil, err
			}
			merged := make([]json.RawMessage, 0, len(arr)+1)
			merged = append(merged, evRaw)
			merged = append(merged, arr...)
			return json.Marshal(merged)
		}
	}

	arr := make([]any, 0, len(args)+1)
	arr = append(arr, ev)
	arr = append(arr, args...)
	return json.Marshal(arr)
}
