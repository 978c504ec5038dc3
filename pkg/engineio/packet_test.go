package engineio

import (
	"reflect"
	"testing"
)

func TestDecodePacket(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantType packetType
		wantBody []byte
		wantOK   bool
	}{
		{name: "empty", data: nil, wantOK: false},
		{name: "type_only", data: []byte("4"), wantType: packetMessage, wantBody: []byte{}, wantOK: true},
		{name: "type_and_body", data: []byte("4hello"), wantType: packetMessage, wantBody: []byte("hello"), wantOK: true},
		{name: "open", data: []byte(`0{"sid":"x"}`), wantType: packetOpen, wantBody: []byte(`{"sid":"x"}`), wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotBody, gotOK := decodePacket(tt.data)
			if gotOK != tt.wantOK {
				t.Fatalf("decodePacket() ok = %v, want %v", gotOK, tt.wantOK)
			}
			if !gotOK {
				return
			}
			if gotType != tt.wantType {
				t.Errorf("decodePacket() type = %q, want %q", gotType, tt.wantType)
			}
			if !reflect.DeepEqual(gotBody, tt.wantBody) {
				t.Errorf("decodePacket() body = %q, want %q", gotBody, tt.wantBody)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	body := []byte("2/chat,[\"msg\",1]")
	encoded := encodePacket(packetMessage, body)

	gotType, gotBody, ok := decodePacket(encoded)
	if !ok {
		t.Fatal("decodePacket() ok = false")
	}
	if gotType != packetMessage {
		t.Errorf("type = %q, want %q", gotType, packetMessage)
	}
	if string(gotBody) != string(body) {
		t.Errorf("body = %q, want %q", gotBody, body)
	}
}
