// Package engineio implements the client side of the Engine.IO v4
// session protocol (https://github.com/socketio/engine.io-protocol):
// it turns a connected [websocket.Conn] into a session with a
// negotiated sid, a ping/pong heartbeat, and a ping-timeout watchdog.
package engineio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinywire/sio/internal/logger"
	"github.com/tinywire/sio/pkg/neterr"
	"github.com/tinywire/sio/pkg/watchdog"
	"github.com/tinywire/sio/pkg/websocket"
)

// pollTick is the interval of the background clock used for EIO
// heartbeat timeout and watchdog extension. It is implemented here as a
// plain [time.Ticker] goroutine rather than a callback threaded down
// from the byte transport.
const pollTick = time.Second

// state is the Engine.IO session lifecycle: init -> opening -> open ->
// closed.
type state int32

const (
	stateOpening state = iota
	stateOpen
	stateClosed
)

// OpenInfo carries the fields of the EIO '0' open packet that matter to
// callers: the negotiated session id and heartbeat timing.
type OpenInfo struct {
	SID          string
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// Session is a client-side Engine.IO v4 session layered on one
// [websocket.Conn]. A Session is used exactly once: reconnection is a
// Socket.IO-layer concern (a new Session per attempt), not something a
// Session does to itself.
type Session struct {
	logger *slog.Logger
	ws     *websocket.Conn

	watchdog        watchdog.Watchdog
	refreshWatchdog atomic.Bool

	state       atomic.Int32
	msSincePing atomic.Int64 // Milliseconds, reset on every ping.
	lastSize    atomic.Int64

	info   OpenInfo
	infoMu sync.RWMutex

	openOnce sync.Once
	openedCh chan OpenInfo

	closeOnce sync.Once
	closedCh  chan *neterr.Error

	messages chan []byte
	done     chan struct{}
}

// Option configures a [Session] before it starts its I/O goroutines.
type Option func(*Session)

// WithWatchdog arms the session to kick w on every poll tick once
// [Session.SetRefreshWatchdog] is called.
func WithWatchdog(w watchdog.Watchdog) Option {
	return func(s *Session) {
		s.watchdog = w
	}
}

// Dial performs a WebSocket handshake to url and opens an Engine.IO
// session on top of it, building the WebSocket internally rather than
// taking one as a parameter; see [Open] for the latter.
func Dial(ctx context.Context, url string, opts ...Option) (*Session, error) {
	ws, err := websocket.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial WebSocket for Engine.IO session: %w", err)
	}
	return Open(ctx, ws, opts...), nil
}

// Open wraps an already-connected [websocket.Conn] in a new Engine.IO
// session. It starts the session's dispatch and heartbeat goroutines
// immediately; the server is expected to send its '0' open packet
// without further prompting.
func Open(ctx context.Context, ws *websocket.Conn, opts ...Option) *Session {
	s := &Session{
		logger:   logger.FromContext(ctx),
		ws:       ws,
		watchdog: watchdog.Noop(),
		openedCh: make(chan OpenInfo, 1),
		closedCh: make(chan *neterr.Error, 1),
		messages: make(chan []byte),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(stateOpening))

	for _, opt := range opts {
		opt(s)
	}

	go s.dispatchLoop()
	go s.tickLoop()

	return s
}

// SetRefreshWatchdog instructs the session to kick its [watchdog.Watchdog]
// on every poll tick from now on, regardless of session state.
func (s *Session) SetRefreshWatchdog() {
	s.refreshWatchdog.Store(true)
}

// SendMessage prepends the Engine.IO '4' message type byte to payload
// and sends it as a single WebSocket text frame.
func (s *Session) SendMessage(payload []byte) <-chan error {
	return s.ws.SendTextMessage(encodePacket(packetMessage, payload))
}

// Close ends the session from the client side: it reports [neterr.Closed]
// on [Session.Closed] and tears down the underlying WebSocket. Safe to
// call multiple times or concurrently with the session closing itself.
func (s *Session) Close() {
	s.closeWith(neterr.Closed, nil)
}

// Messages delivers the bodies of inbound '4' message packets, with the
// type byte already consumed. The channel is closed when the session
// closes. When the server or the transport ends the session, every
// message received before that has already been delivered, since
// delivery and that close share one goroutine; when the session is ended
// by [Session.Close] or a heartbeat timeout, messages not yet delivered
// are dropped.
func (s *Session) Messages() <-chan []byte {
	return s.messages
}

// Opened delivers the session's [OpenInfo] exactly once, when the first
// '0' packet arrives. The channel is never written to again and is never
// closed, so a later read blocks.
func (s *Session) Opened() <-chan OpenInfo {
	return s.openedCh
}

// Closed delivers the reason the session closed, exactly once.
func (s *Session) Closed() <-chan *neterr.Error {
	return s.closedCh
}

// ReadInitialPacket blocks until the session's open packet arrives (or
// ctx is done). In this push-based implementation the open packet flows
// through [Session.dispatchLoop] like any other packet, so this is a
// convenience wait rather than a forced extra read.
func (s *Session) ReadInitialPacket(ctx context.Context) (OpenInfo, error) {
	select {
	case info, ok := <-s.openedCh:
		if !ok {
			return OpenInfo{}, errors.New("engine.io: session closed before open packet arrived")
		}
		return info, nil
	case <-ctx.Done():
		return OpenInfo{}, ctx.Err()
	}
}

// PacketSize returns the body length of the most recently delivered
// message packet (the WebSocket frame size minus the '4' type byte).
func (s *Session) PacketSize() int {
	return int(s.lastSize.Load())
}

func (s *Session) currentInfo() OpenInfo {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	return s.info
}

// dispatchLoop runs as a [Session] goroutine: it is the single point
// that reads inbound WebSocket messages, so message delivery order and
// state transitions stay exactly the arrival order.
func (s *Session) dispatchLoop() {
	defer close(s.messages)

	incoming := s.ws.IncomingMessages()
	for {
		var msg websocket.Message
		var ok bool
		select {
		case msg, ok = <-incoming:
		case <-s.done:
			return
		}
		if !ok {
			break
		}

		if msg.Opcode != websocket.OpcodeText {
			continue // Binary WS frames carry undecoded SIO binary attachments.
		}

		pt, body, ok := decodePacket(msg.Data)
		if !ok {
			continue
		}

		switch pt {
		case packetOpen:
			s.handleOpen(body)
		case packetClose:
			s.closeWith(neterr.Closed, nil)
			return
		case packetPing:
			s.msSincePing.Store(0)
			if err := <-s.ws.SendTextMessage(encodePacket(packetPong, nil)); err != nil {
				s.logger.Error("failed to send Engine.IO pong", slog.Any("error", err))
			}
		case packetMessage:
			s.lastSize.Store(int64(len(body)))
			select {
			case s.messages <- body:
			case <-s.done:
				return
			}
		case packetUpgrade, packetNoop:
			// Not used by a WebSocket-only client.
		default:
			s.logger.Debug("ignoring unrecognized Engine.IO packet", slog.String("type", string(pt)))
		}
	}

	// The WebSocket layer closed without an EIO close packet: this
	// surfaces to namespaces as disconnect(["transport close"]).
	s.closeWith(neterr.Closed, errors.New("engine.io: transport closed"))
}

func (s *Session) handleOpen(body []byte) {
	var p openPacket
	if err := json.Unmarshal(body, &p); err != nil {
		s.logger.Error("failed to parse Engine.IO open packet", slog.Any("error", err))
		s.closeWith(neterr.Invalid, fmt.Errorf("engine.io: malformed open packet: %w", err))
		return
	}

	info := OpenInfo{
		SID:          p.SID,
		PingInterval: time.Duration(p.PingInterval) * time.Millisecond,
		PingTimeout:  time.Duration(p.PingTimeout) * time.Millisecond,
	}

	s.infoMu.Lock()
	s.info = info
	s.infoMu.Unlock()

	s.msSincePing.Store(0)
	s.state.Store(int32(stateOpen))

	s.openOnce.Do(func() {
		s.openedCh <- info
	})

	s.logger.Debug("Engine.IO session open",
		slog.String("sid", info.SID), slog.Duration("ping_interval", info.PingInterval),
		slog.Duration("ping_timeout", info.PingTimeout))
}

// tickLoop runs as a [Session] goroutine, standing in for the
// transport's 1-second on_poll callback.
func (s *Session) tickLoop() {
	t := time.NewTicker(pollTick)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			s.tick()
		case <-s.done:
			return
		}
	}
}

func (s *Session) tick() {
	if state(s.state.Load()) == stateOpen {
		info := s.currentInfo()
		elapsed := s.msSincePing.Add(pollTick.Milliseconds())
		if time.Duration(elapsed)*time.Millisecond > info.PingInterval+info.PingTimeout {
			s.closeWith(neterr.Timeout, errors.New("engine.io: ping timeout"))
		}
	}

	if s.refreshWatchdog.Load() {
		s.watchdog.Kick()
	}
}

// closeWith transitions the session to closed and reports err exactly
// once, then closes the underlying WebSocket. It is idempotent, like
// [websocket.Conn.sendCloseControlFrame].
func (s *Session) closeWith(code neterr.Code, err error) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(stateClosed))
		close(s.done)

		var ne *neterr.Error
		if err != nil {
			ne = neterr.Wrap(code, err)
		} else {
			ne = &neterr.Error{Code: code}
		}
		s.closedCh <- ne
		close(s.closedCh)

		status := websocket.StatusNormalClosure
		if code != neterr.Closed {
			status = websocket.StatusGoingAway
		}
		s.ws.Close(status)
	})
}
