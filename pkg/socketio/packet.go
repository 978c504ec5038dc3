package socketio

import "bytes"

// packetType is the single ASCII digit that prefixes every Socket.IO v4
// packet, as defined in https://github.com/socketio/socket.io-protocol.
type packetType byte

const (
	packetConnect      packetType = '0'
	packetDisconnect   packetType = '1'
	packetEvent        packetType = '2'
	packetAck          packetType = '3'
	packetConnectError packetType = '4'
	packetBinaryEvent  packetType = '5'
	packetBinaryAck    packetType = '6'
)

// envelope is a parsed Socket.IO packet: its type, the namespace it
// targets (already defaulted to "/"), and the remaining bytes (a JSON
// object, a JSON array, or nothing).
type envelope struct {
	typ     packetType
	ns      string
	payload []byte
}

// decodeEnvelope parses one Engine.IO message body as a Socket.IO
// packet: `<type_digit>["/"<ns>","]<json>`.
func decodeEnvelope(body []byte) (envelope, bool) {
	if len(body) == 0 {
		return envelope{}, false
	}

	e := envelope{typ: packetType(body[0]), ns: "/"}
	rest := body[1:]

	if len(rest) > 0 && rest[0] == '/' {
		if idx := bytes.IndexByte(rest, ','); idx >= 0 {
			e.ns = string(rest[:idx])
			rest = rest[idx+1:]
		}
	}

	e.payload = rest
	return e, true
}

// encodeEnvelope serializes a Socket.IO packet, omitting the namespace
// prefix for the default namespace "/".
func encodeEnvelope(t packetType, ns string, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(t))
	if ns != "" && ns != "/" {
		buf.WriteString(ns)
		buf.WriteByte(',')
	}
	buf.Write(payload)
	return buf.Bytes()
}
