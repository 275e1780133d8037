package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresenceEntry_Transport(t *testing.T) {
	nio := PresenceEntry{Username: "alice", ViaNio: true}
	assert.Equal(t, "nio", nio.Transport())

	http := PresenceEntry{Username: "bob", ViaNio: false}
	assert.Equal(t, "http", http.Transport())
}

func TestPresenceEntry_Tuple(t *testing.T) {
	e := PresenceEntry{
		Username: "alice",
		IP:       "10.0.0.5",
		FileTcp:  9000,
		VoiceUdp: PortUnset,
		ViaNio:   true,
	}
	assert.Equal(t, "alice,10.0.0.5,9000,-1,nio", e.Tuple())

	h := PresenceEntry{
		Username: "bob",
		IP:       "10.0.0.6",
		FileTcp:  PortUnset,
		VoiceUdp: PortUnset,
		ViaNio:   false,
	}
	assert.Equal(t, "bob,10.0.0.6,-1,-1,http", h.Tuple())
}

func TestPresenceEntry_JSONShape(t *testing.T) {
	e := PresenceEntry{
		Username: "alice",
		IP:       "10.0.0.5",
		FileTcp:  9000,
		VoiceUdp: 9001,
		ViaNio:   true,
	}

	data, err := json.Marshal(e)
	assert.NoError(t, err)

	var m map[string]any
	assert.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "alice", m["user"])
	assert.Equal(t, "10.0.0.5", m["ip"])
	assert.Equal(t, float64(9000), m["fileTcp"])
	assert.Equal(t, float64(9001), m["voiceUdp"])
	assert.Equal(t, true, m["viaNio"])
}

func TestChatMessage_Frame(t *testing.T) {
	m := ChatMessage{From: "alice", Text: "hello there", Timestamp: 1700000000}
	assert.Equal(t, "CHAT_MSG:alice:1700000000:hello there", m.Frame())
}

func TestChatMessage_FrameKeepsColonsInText(t *testing.T) {
	m := ChatMessage{From: "alice", Text: "see you at 10:30", Timestamp: 1}
	assert.Equal(t, "CHAT_MSG:alice:1:see you at 10:30", m.Frame())
}

func TestNormalizeChatText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  hello  ", "hello"},
		{"line1\nline2", "line1 line2"},
		{"line1\r\nline2", "line1 line2"},
		{"line1\rline2", "line1 line2"},
		{"\n  spaced\nout  \n", "spaced out"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeChatText(tt.in), "input %q", tt.in)
	}
}

func TestNoopNotifier(t *testing.T) {
	var n SessionNotifier = NoopNotifier{}
	assert.False(t, n.PushLine("alice", "CHAT_MSG:bob:1:hi"))
}
