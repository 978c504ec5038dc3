// Package websocket is a lightweight client-only implementation of the
// WebSocket protocol (RFC 6455), used as the transport underneath an
// Engine.IO session.
//
// It focuses on continuous asynchronous reading of text/binary
// messages, and enables occasional writing, over a single [Conn].
// Reconnection and connection pooling are not this package's concern:
// they live two layers up, in package socketio, which replaces the
// Engine.IO session (and with it the [Conn]) wholesale on disconnect
// rather than this package hiding the replacement behind a stable handle.
//
// Design goals, in order: correctness against the RFC, reliability,
// maintainability, and efficiency.
//
// Note A: this package does not reassemble fragmented messages. Every
// data frame must arrive with FIN=1; a server that fragments a message
// or sends a continuation frame gets its connection closed with a
// protocol error. See [Conn.checkFrameHeader].
//
// Note B: WebSocket [extensions] and [subprotocols] are not supported.
//
// [extensions]: https://www.iana.org/assignments/websocket/websocket.xhtml#extension-name
// [subprotocols]: https://www.iana.org/assignments/websocket/websocket.xhtml#subprotocol-name
package websocket
