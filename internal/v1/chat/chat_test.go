package chat

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/types"
)

type stubPresence struct {
	online map[string]bool
}

func (s *stubPresence) IsOnline(user string) bool { return s.online[user] }

type recordingBroadcaster struct {
	mu    sync.Mutex
	lines []string
}

func (b *recordingBroadcaster) BroadcastLine(line string, except string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
}

func (b *recordingBroadcaster) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

func newTestCore(online ...string) (*Core, *recordingBroadcaster) {
	p := &stubPresence{online: map[string]bool{}}
	for _, u := range online {
		p.online[u] = true
	}
	c := NewCore(p, nil, "test-instance")
	b := &recordingBroadcaster{}
	c.SetBroadcaster(b)
	return c, b
}

func TestBroadcast_StoresAndFansOut(t *testing.T) {
	c, b := newTestCore("alice")
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	msg, err := c.Broadcast("alice", "hello")
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.From)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, int64(1700000000), msg.Timestamp)

	recent := c.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, msg, recent[0])

	lines := b.all()
	require.Len(t, lines, 1)
	assert.Equal(t, "CHAT_MSG:alice:1700000000:hello", lines[0])
}

func TestBroadcast_RejectsAbsentSender(t *testing.T) {
	c, b := newTestCore("alice")

	_, err := c.Broadcast("ghost", "boo")
	assert.ErrorIs(t, err, types.ErrForbidden)
	assert.Empty(t, c.Recent())
	assert.Empty(t, b.all())
}

func TestBroadcast_NormalizesText(t *testing.T) {
	c, _ := newTestCore("alice")

	msg, err := c.Broadcast("alice", "  line1\nline2\r\nline3  ")
	require.NoError(t, err)
	assert.Equal(t, "line1 line2 line3", msg.Text)
}

func TestBroadcast_RejectsEmptyText(t *testing.T) {
	c, b := newTestCore("alice")

	for _, text := range []string{"", "   ", "\n", " \r\n \n "} {
		_, err := c.Broadcast("alice", text)
		assert.ErrorIs(t, err, types.ErrIllegalArgument)
	}
	assert.Empty(t, c.Recent())
	assert.Empty(t, b.all())
}

func TestRing_EvictsOldestAtCapacity(t *testing.T) {
	c, _ := newTestCore("alice")

	for i := 0; i < RingSize+25; i++ {
		_, err := c.Broadcast("alice", fmt.Sprintf("msg-%d", i))
		require.NoError(t, err)
	}

	recent := c.Recent()
	require.Len(t, recent, RingSize)
	assert.Equal(t, "msg-25", recent[0].Text)
	assert.Equal(t, fmt.Sprintf("msg-%d", RingSize+24), recent[RingSize-1].Text)

	// Chronological order throughout.
	for i := 1; i < len(recent); i++ {
		assert.LessOrEqual(t, recent[i-1].Timestamp, recent[i].Timestamp)
	}
}

func TestRecent_ReturnsCopy(t *testing.T) {
	c, _ := newTestCore("alice")
	_, err := c.Broadcast("alice", "original")
	require.NoError(t, err)

	recent := c.Recent()
	recent[0].Text = "mutated"

	again := c.Recent()
	assert.Equal(t, "original", again[0].Text)
}

func TestReceiveRemote_NoPresenceCheck(t *testing.T) {
	c, b := newTestCore() // nobody online locally

	c.ReceiveRemote(types.ChatMessage{From: "remote-user", Text: "hi", Timestamp: 42})

	recent := c.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "remote-user", recent[0].From)

	lines := b.all()
	require.Len(t, lines, 1)
	assert.Equal(t, "CHAT_MSG:remote-user:42:hi", lines[0])
}

func TestBroadcast_ConcurrentSameOrderEverywhere(t *testing.T) {
	c, b := newTestCore("alice", "bob")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			user := "alice"
			if n%2 == 1 {
				user = "bob"
			}
			_, err := c.Broadcast(user, fmt.Sprintf("m%d", n))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	recent := c.Recent()
	lines := b.all()
	require.Len(t, recent, 100)
	require.Len(t, lines, 100)

	// Fan-out order must match ring order.
	for i, m := range recent {
		assert.Equal(t, m.Frame(), lines[i])
	}
}
