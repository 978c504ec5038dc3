// Package socketio implements a client-side Socket.IO v4 client: HTTP
// upgrade (via [engineio.Dial]), namespace multiplexing, event
// dispatch, and a fixed-backoff reconnect policy layered on top of a
// single [engineio.Session].
package socketio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/errgroup"

	"github.com/tinywire/sio/internal/logger"
	"github.com/tinywire/sio/pkg/engineio"
	"github.com/tinywire/sio/pkg/neterr"
	"github.com/tinywire/sio/pkg/watchdog"
)

// reconnectBackoff is the fixed delay between reconnect attempts: a
// constant 1 s, no exponential schedule.
const reconnectBackoff = time.Second

type clientState int32

const (
	stateDisconnected clientState = iota
	stateConnecting
	stateConnected
	stateErrored
)

// Client is a Socket.IO v4 client bound to one server URL. Construct it
// with [New], call [Client.Open] to connect, then use [Client.Socket]
// to get namespace handles to register handlers and emit events on.
type Client struct {
	logger *slog.Logger
	id     string // A short, log-friendly instance id (not a protocol field).

	rawURL string
	query  url.Values

	mu         sync.Mutex
	state      clientState
	engine     *engineio.Session
	namespaces map[string]*Namespace
	nsOrder    []string
	onOpen     func()
	everOpened bool

	watchdog watchdog.Watchdog
	extender *watchdog.Extender

	cancel context.CancelFunc
}

// Option configures a [Client] before [New] returns it.
type Option func(*Client)

// WithWatchdog makes w the watchdog that the client's pre-open
// watchdog-extender alarm kicks and that each Engine.IO session is
// dialed with. A session kicks it on its poll ticks only once refresh is
// turned on for that session (see [Client.SetWatchdog]).
func WithWatchdog(w watchdog.Watchdog) Option {
	return func(c *Client) {
		c.watchdog = w
	}
}

// New constructs a Socket.IO client for rawURL ("ws://host[:port]/path",
// "wss://…", or "http(s)://…"). query is merged into the Engine.IO
// query string alongside EIO=4&transport=websocket.
func New(rawURL string, query url.Values, opts ...Option) *Client {
	c := &Client{
		logger:     slog.Default(),
		id:         shortuuid.New(),
		rawURL:     rawURL,
		query:      query,
		namespaces: make(map[string]*Namespace),
		watchdog:   watchdog.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("client_id", c.id))
	c.extender = watchdog.NewExtender(c.watchdog)
	return c
}

// OnOpen registers a callback invoked once per successful (re)connect,
// once the Engine.IO open packet has been received.
func (c *Client) OnOpen(cb func()) {
	c.mu.Lock()
	c.onOpen = cb
	c.mu.Unlock()
}

// Socket returns the namespace handle for ns (default "/"), creating it
// on first reference.
func (c *Client) Socket(ns string) *Namespace {
	if ns == "" {
		ns = "/"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.namespaces[ns]
	if !ok {
		n = newNamespace(c, ns)
		c.namespaces[ns] = n
		c.nsOrder = append(c.nsOrder, ns)
	}
	return n
}

// Connect sends the Socket.IO '0' connect packet for ns (default "/").
func (c *Client) Connect(ns string) error {
	return c.sendConnect(c.Socket(ns).Name())
}

func (c *Client) sendConnect(ns string) error {
	return c.sendSIO(encodeEnvelope(packetConnect, ns, nil))
}

// Disconnect sends the Socket.IO '1' disconnect packet for ns and
// immediately removes its registration. The send is best-effort: it is
// ignored if the engine is already gone.
func (c *Client) Disconnect(ns string) {
	if ns == "" {
		ns = "/"
	}

	c.mu.Lock()
	delete(c.namespaces, ns)
	for i, n := range c.nsOrder {
		if n == ns {
			c.nsOrder = append(c.nsOrder[:i], c.nsOrder[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	_ = c.sendSIO(encodeEnvelope(packetDisconnect, ns, nil))
}

// SetWatchdog installs w as the client's watchdog: the extender alarm and
// every Engine.IO session dialed from now on use it. If an engine is
// connected, it also turns on that session's per-tick watchdog refresh;
// that session keeps kicking the watchdog it was dialed with.
func (c *Client) SetWatchdog(w watchdog.Watchdog) {
	c.mu.Lock()
	c.watchdog = w
	c.extender = watchdog.NewExtender(w)
	eng := c.engine
	c.mu.Unlock()

	if eng != nil {
		eng.SetRefreshWatchdog()
	}
}

func (c *Client) sendSIO(body []byte) error {
	c.mu.Lock()
	eng := c.engine
	c.mu.Unlock()

	if eng == nil {
		return fmt.Errorf("socket.io: not connected")
	}
	return <-eng.SendMessage(body)
}

// buildURL assembles the Engine.IO query string
// "?EIO=4&transport=websocket[&k=v]…", defaulting the path to
// "/socket.io/" the way the server expects.
func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(c.rawURL)
	if err != nil {
		return "", fmt.Errorf("socket.io: invalid URL: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}

	q := url.Values{}
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	for k, vs := range c.query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *Client) dial(ctx context.Context) (*engineio.Session, error) {
	url, err := c.buildURL()
	if err != nil {
		return nil, err
	}
	return engineio.Dial(ctx, url, engineio.WithWatchdog(c.watchdog))
}

func (c *Client) setState(s clientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Open performs the HTTP upgrade and Engine.IO handshake: on HTTP 101,
// the connected transport is handed to a new Engine.IO session; on any
// other status or HTTP error, the client transitions to error. It
// blocks until the first Engine.IO open packet arrives (or ctx is
// done), then starts the background supervisor that dispatches events
// and manages reconnects for the lifetime of ctx.
func (c *Client) Open(ctx context.Context) error {
	c.setState(stateConnecting)
	c.extender.Start()

	eng, err := c.dial(ctx)
	if err != nil {
		c.extender.Stop()
		c.setState(stateErrored)
		return err
	}

	info, err := eng.ReadInitialPacket(ctx)
	if err != nil {
		c.extender.Stop()
		c.setState(stateErrored)
		return err
	}
	c.extender.Stop()

	ctx, cancel := context.WithCancel(logger.InContext(ctx, c.logger))
	c.mu.Lock()
	c.cancel = cancel
	c.engine = eng
	c.everOpened = true
	c.mu.Unlock()
	c.setState(stateConnected)

	c.logger.Debug("Socket.IO client open", slog.String("sid", info.SID))
	c.fireOnOpen()

	go c.supervise(ctx, eng)
	return nil
}

// Close cancels the client's background supervisor and best-effort
// disconnects the current engine. It does not attempt a final reconnect.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	eng := c.engine
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if eng != nil {
		eng.Close()
	}
}

func (c *Client) fireOnOpen() {
	c.mu.Lock()
	cb := c.onOpen
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// supervise runs as a [Client] goroutine for the client's entire
// lifetime: it dispatches inbound Socket.IO packets for the current
// engine, and on closure runs the fixed-backoff reconnect loop,
// re-`connect`ing every previously known namespace (in registration
// order) before the next on_open fires, so reconnects restore the
// namespaces the caller had before the drop.
func (c *Client) supervise(ctx context.Context, eng *engineio.Session) {
	for {
		reason := c.dispatchUntilClosed(ctx, eng)
		if ctx.Err() != nil {
			return
		}

		c.disconnectAllNamespaces(reason)

		select {
		case <-time.After(reconnectBackoff):
		case <-ctx.Done():
			return
		}

		newEng, info, ok := c.reconnectLoop(ctx)
		if !ok {
			return
		}

		c.mu.Lock()
		c.engine = newEng
		nsOrder := append([]string(nil), c.nsOrder...)
		c.mu.Unlock()
		c.setState(stateConnected)

		c.logger.Debug("Socket.IO client reconnected", slog.String("sid", info.SID))

		// The '0' connect packets go out one at a time, in registration
		// order: with a limit of 1, each g.Go waits for the previous send to
		// finish. Wait reports the first failure; a failed send does not
		// stop the ones after it.
		var g errgroup.Group
		g.SetLimit(1)
		for _, ns := range nsOrder {
			ns := ns
			g.Go(func() error {
				if err := c.sendConnect(ns); err != nil {
					return fmt.Errorf("namespace %s: %w", ns, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			c.logger.Error("failed to re-connect one or more namespaces after reconnect", slog.Any("error", err))
		}

		c.fireOnOpen()
		eng = newEng
	}
}

// reconnectLoop rebuilds the HTTP upgrader and Engine.IO session,
// retrying with a fixed delay between attempts and no retry limit.
func (c *Client) reconnectLoop(ctx context.Context) (*engineio.Session, engineio.OpenInfo, bool) {
	c.extender.Start()
	defer c.extender.Stop()

	for attempt := 0; ; attempt++ {
		eng, err := c.dial(ctx)
		if err == nil {
			info, err := eng.ReadInitialPacket(ctx)
			if err == nil {
				return eng, info, true
			}
		}

		if ctx.Err() != nil {
			return nil, engineio.OpenInfo{}, false
		}

		c.logger.Error("failed to reconnect Socket.IO client", slog.Any("error", err), slog.Int("attempt", attempt))

		select {
		case <-time.After(reconnectBackoff):
		case <-ctx.Done():
			return nil, engineio.OpenInfo{}, false
		}
	}
}

func (c *Client) dispatchUntilClosed(ctx context.Context, eng *engineio.Session) []string {
	for {
		select {
		case body, ok := <-eng.Messages():
			if !ok {
				return reasonFor(<-eng.Closed())
			}
			c.handlePacket(body)
		case <-ctx.Done():
			return nil
		}
	}
}

// reasonFor maps an Engine.IO closure to the disconnect reason array
// passed to the "disconnect" event handlers.
func reasonFor(err *neterr.Error) []string {
	if err == nil {
		return []string{"transport close"}
	}
	switch err.Code {
	case neterr.Timeout:
		return []string{"ping timeout"}
	case neterr.Closed:
		return []string{"transport close"}
	default:
		return []string{"transport error"}
	}
}

func (c *Client) disconnectAllNamespaces(reason []string) {
	if len(reason) == 0 {
		reason = []string{"transport error"}
	}

	c.mu.Lock()
	c.engine = nil
	c.setStateLocked(stateDisconnected)
	var affected []*Namespace
	for _, ns := range c.nsOrder {
		n := c.namespaces[ns]
		if n.Connected() {
			affected = append(affected, n)
		}
	}
	c.mu.Unlock()

	for _, n := range affected {
		n.setSID("")
		n.fireDisconnect(reason[0])
	}
}

func (c *Client) setStateLocked(s clientState) {
	c.state = s
}

// handlePacket classifies and dispatches one inbound Socket.IO packet.
func (c *Client) handlePacket(body []byte) {
	env, ok := decodeEnvelope(body)
	if !ok {
		return
	}

	n := c.Socket(env.ns)

	switch env.typ {
	case packetConnect:
		var ack struct {
			SID string `json:"sid"`
		}
		if len(env.payload) > 0 {
			if err := json.Unmarshal(env.payload, &ack); err != nil {
				c.logger.Error("failed to parse Socket.IO connect packet", slog.Any("error", err))
				return
			}
		}
		if ack.SID != "" {
			n.setSID(ack.SID)
		}
		n.fireConnect()

	case packetDisconnect:
		n.setSID("")
		n.fireDisconnect("io server disconnect")

	case packetEvent:
		idx := firstJSONDelim(env.payload)
		if idx < 0 {
			return
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(env.payload[idx:], &arr); err != nil || len(arr) == 0 {
			c.logger.Error("failed to parse Socket.IO event packet", slog.Any("error", err))
			return
		}

		var ev string
		if err := json.Unmarshal(arr[0], &ev); err != nil {
			c.logger.Error("Socket.IO event packet missing event name", slog.Any("error", err))
			return
		}

		n.dispatch(ev, arr[1:])

	case packetAck, packetConnectError, packetBinaryEvent, packetBinaryAck:
		// Accepted but not dispatched.
	}
}

// firstJSONDelim finds the start of the first JSON array or object in
// payload, skipping any leading ack-id digits.
func firstJSONDelim(payload []byte) int {
	return strings.IndexAny(string(payload), "[{")
}
