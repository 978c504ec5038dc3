// Package sntp provides the minimal SNTP client that establishes
// wall-clock time before TLS: a TLS client needs a roughly correct
// clock to validate certificate validity periods. It is a one-shot
// query, not a full NTP client with clock discipline.
package sntp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"
)

// Client fetches the current time from an SNTP server.
type Client interface {
	Now(ctx context.Context, server string) (time.Time, error)
}

// UDPClient is a [Client] implementing the SNTP v4 query defined in
// RFC 4330 / RFC 5905 §7.3: a single 48-byte request/response exchange
// over UDP port 123, enough to read the server's transmit timestamp.
type UDPClient struct {
	// Timeout bounds the round trip. Zero means 5 seconds.
	Timeout time.Duration
}

const (
	packetSize    = 48
	modeClient    = 3
	versionNumber = 4 << 3 // NTP version 4, in the li/vn/mode byte.

	// ntpEpochOffset is the number of seconds between the NTP epoch
	// (1900-01-01) and the Unix epoch (1970-01-01).
	ntpEpochOffset = 2208988800
)

func (c *UDPClient) Now(ctx context.Context, server string) (time.Time, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "udp", addrWithDefaultPort(server))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to dial SNTP server: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	req := make([]byte, packetSize)
	req[0] = versionNumber | modeClient
	if _, err := conn.Write(req); err != nil {
		return time.Time{}, fmt.Errorf("failed to send SNTP request: %w", err)
	}

	resp := make([]byte, packetSize)
	n, err := conn.Read(resp)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read SNTP response: %w", err)
	}
	if n < packetSize {
		return time.Time{}, errors.New("SNTP response shorter than one packet")
	}

	return parseTransmitTimestamp(resp), nil
}

// parseTransmitTimestamp reads the 64-bit transmit timestamp at offset
// 40 of an NTP/SNTP packet: 32-bit seconds since the NTP epoch, 32-bit
// fractional seconds.
func parseTransmitTimestamp(packet []byte) time.Time {
	seconds := binary.BigEndian.Uint32(packet[40:44])
	fraction := binary.BigEndian.Uint32(packet[44:48])

	secs := int64(seconds) - ntpEpochOffset
	nanos := (int64(fraction) * 1e9) >> 32

	return time.Unix(secs, nanos).UTC()
}

func addrWithDefaultPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, "123")
}
