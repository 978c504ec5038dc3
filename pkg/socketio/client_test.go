package socketio

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/tinywire/sio/pkg/neterr"
)

func TestBuildURL(t *testing.T) {
	c := New("ws://example.com/", url.Values{"token": {"xyz"}})

	got, err := c.buildURL()
	if err != nil {
		t.Fatalf("buildURL() error = %v", err)
	}

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("buildURL() produced unparseable URL %q: %v", got, err)
	}
	if u.Path != "/socket.io/" {
		t.Errorf("path = %q, want %q", u.Path, "/socket.io/")
	}
	q := u.Query()
	if q.Get("EIO") != "4" {
		t.Errorf("EIO = %q, want 4", q.Get("EIO"))
	}
	if q.Get("transport") != "websocket" {
		t.Errorf("transport = %q, want websocket", q.Get("transport"))
	}
	if q.Get("token") != "xyz" {
		t.Errorf("token = %q, want xyz", q.Get("token"))
	}
}

func TestBuildURLPreservesExplicitPath(t *testing.T) {
	c := New("ws://example.com/custom/", url.Values{})
	got, err := c.buildURL()
	if err != nil {
		t.Fatalf("buildURL() error = %v", err)
	}
	u, _ := url.Parse(got)
	if u.Path != "/custom/" {
		t.Errorf("path = %q, want %q", u.Path, "/custom/")
	}
}

func TestClientHandlePacketConnect(t *testing.T) {
	c := New("ws://example.invalid/", url.Values{})
	n := c.Socket("/")

	connected := 0
	n.On("connect", func(args []json.RawMessage) { connected++ })

	c.handlePacket([]byte(`0{"sid":"abc123"}`))

	if !n.Connected() {
		t.Fatal("namespace should be connected after a connect packet with a sid")
	}
	if n.SID() != "abc123" {
		t.Errorf("SID = %q, want abc123", n.SID())
	}
	if connected != 1 {
		t.Errorf("connect handler fired %d times, want 1", connected)
	}
}

func TestClientHandlePacketEventDefaultNamespace(t *testing.T) {
	c := New("ws://example.invalid/", url.Values{})
	n := c.Socket("/")

	var got []json.RawMessage
	n.On("msg", func(args []json.RawMessage) { got = args })

	c.handlePacket([]byte(`2["msg",1,"two"]`))

	if len(got) != 2 || string(got[0]) != "1" || string(got[1]) != `"two"` {
		t.Errorf("dispatched args = %v, want [1 \"two\"]", got)
	}
}

func TestClientHandlePacketEventNamespaced(t *testing.T) {
	c := New("ws://example.invalid/", url.Values{})
	n := c.Socket("/chat")

	fired := 0
	n.On("ping", func(args []json.RawMessage) { fired++ })

	c.handlePacket([]byte(`2/chat,["ping"]`))

	if fired != 1 {
		t.Fatalf("handler on /chat fired %d times, want 1", fired)
	}

	// The default namespace must not see an event meant for /chat.
	defaultFired := 0
	c.Socket("/").On("ping", func(args []json.RawMessage) { defaultFired++ })
	c.handlePacket([]byte(`2/chat,["ping"]`))
	if defaultFired != 0 {
		t.Errorf("default namespace handler fired %d times, want 0", defaultFired)
	}
}

func TestClientHandlePacketServerInitiatedDisconnect(t *testing.T) {
	c := New("ws://example.invalid/", url.Values{})
	n := c.Socket("/")
	n.setSID("abc")

	var reason string
	n.On("disconnect", func(args []json.RawMessage) {
		if len(args) > 0 {
			_ = json.Unmarshal(args[0], &reason)
		}
	})

	c.handlePacket([]byte(`1`))

	if n.Connected() {
		t.Fatal("namespace should be disconnected after a server '1' packet")
	}
	if reason != "io server disconnect" {
		t.Errorf("reason = %q, want %q", reason, "io server disconnect")
	}
}

func TestClientHandlePacketIgnoresAckAndConnectError(t *testing.T) {
	c := New("ws://example.invalid/", url.Values{})
	// Must not panic or alter namespace state for packet types Non-goals exclude.
	c.handlePacket([]byte(`3[1,"ok"]`))
	c.handlePacket([]byte(`4{"message":"nope"}`))
}

func TestDisconnectRemovesNamespaceRegistration(t *testing.T) {
	c := New("ws://example.invalid/", url.Values{})
	c.Socket("/chat")

	if _, ok := c.namespaces["/chat"]; !ok {
		t.Fatal("namespace should exist after Socket()")
	}

	c.Disconnect("/chat")

	if _, ok := c.namespaces["/chat"]; ok {
		t.Error("namespace should be removed after Disconnect()")
	}
	for _, ns := range c.nsOrder {
		if ns == "/chat" {
			t.Error("nsOrder should not retain a disconnected namespace")
		}
	}
}

func TestDisconnectAllNamespaces(t *testing.T) {
	c := New("ws://example.invalid/", url.Values{})
	root := c.Socket("/")
	chat := c.Socket("/chat")
	root.setSID("r1")
	chat.setSID("c1")

	var reasons []string
	root.On("disconnect", func(args []json.RawMessage) {
		var r string
		_ = json.Unmarshal(args[0], &r)
		reasons = append(reasons, r)
	})
	chat.On("disconnect", func(args []json.RawMessage) {
		var r string
		_ = json.Unmarshal(args[0], &r)
		reasons = append(reasons, r)
	})

	c.disconnectAllNamespaces([]string{"ping timeout"})

	if root.Connected() || chat.Connected() {
		t.Fatal("all namespaces should be disconnected")
	}
	if len(reasons) != 2 {
		t.Fatalf("got %d disconnect callbacks, want 2", len(reasons))
	}
	for _, r := range reasons {
		if r != "ping timeout" {
			t.Errorf("reason = %q, want %q", r, "ping timeout")
		}
	}
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		name string
		err  *neterr.Error
		want string
	}{
		{name: "nil", err: nil, want: "transport close"},
		{name: "timeout", err: &neterr.Error{Code: neterr.Timeout}, want: "ping timeout"},
		{name: "closed", err: &neterr.Error{Code: neterr.Closed}, want: "transport close"},
		{name: "other", err: &neterr.Error{Code: neterr.Other}, want: "transport error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reasonFor(tt.err)
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("reasonFor() = %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestFirstJSONDelim(t *testing.T) {
	tests := []struct {
		payload string
		want    int
	}{
		{payload: `["msg",1]`, want: 0},
		{payload: `{"sid":"x"}`, want: 0},
		{payload: ``, want: -1},
		{payload: `garbage`, want: -1},
	}
	for _, tt := range tests {
		if got := firstJSONDelim([]byte(tt.payload)); got != tt.want {
			t.Errorf("firstJSONDelim(%q) = %d, want %d", tt.payload, got, tt.want)
		}
	}
}

func TestSocketReturnsSameHandleOnRepeatedCalls(t *testing.T) {
	c := New("ws://example.invalid/", url.Values{})
	a := c.Socket("/chat")
	b := c.Socket("/chat")
	if a != b {
		t.Error("Socket() should return the same Namespace for the same name")
	}
	if c.Socket("") != c.Socket("/") {
		t.Error("Socket(\"\") should alias the default namespace")
	}
}
