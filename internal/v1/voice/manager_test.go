package voice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/types"
)

type fakePeers map[string]types.PresenceEntry

func (p fakePeers) FindPeer(user string) (types.PresenceEntry, bool) {
	e, ok := p[user]
	return e, ok
}

func onlinePeers() fakePeers {
	return fakePeers{
		"alice": {Username: "alice", IP: "10.0.0.1", VoiceUdp: 5001, FileTcp: types.PortUnset, ViaNio: true},
		"bob":   {Username: "bob", IP: "10.0.0.2", VoiceUdp: 5002, FileTcp: types.PortUnset, ViaNio: true},
		"mute":  {Username: "mute", IP: "10.0.0.3", VoiceUdp: types.PortUnset, FileTcp: types.PortUnset, ViaNio: true},
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(onlinePeers(), DefaultSessionTimeout)
	t.Cleanup(m.Stop)
	return m
}

func TestInitiate_HappyPath(t *testing.T) {
	m := newTestManager(t)

	s, err := m.Initiate("alice", "bob", "10.0.0.1", 5001)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.ID)
	assert.Equal(t, StateRinging, s.State)
	assert.Equal(t, "10.0.0.2", s.TargetIP)
	assert.Equal(t, 5002, s.TargetPort)
	assert.Equal(t, 5001, s.InitiatorPort)
	assert.False(t, s.CreatedAt.IsZero())
	assert.True(t, s.AcceptedAt.IsZero())
}

func TestInitiate_Errors(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Initiate("alice", "alice", "10.0.0.1", 5001)
	assert.ErrorIs(t, err, types.ErrIllegalArgument)

	_, err = m.Initiate("alice", "ghost", "10.0.0.1", 5001)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = m.Initiate("alice", "mute", "10.0.0.1", 5001)
	assert.ErrorIs(t, err, types.ErrIllegalState)
}

func TestInitiate_OneSessionPerPair(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Initiate("alice", "bob", "10.0.0.1", 5001)
	require.NoError(t, err)

	// Same pair in either direction is rejected while the call lives.
	_, err = m.Initiate("alice", "bob", "10.0.0.1", 5001)
	assert.ErrorIs(t, err, types.ErrIllegalState)
	_, err = m.Initiate("bob", "alice", "10.0.0.2", 5002)
	assert.ErrorIs(t, err, types.ErrIllegalState)
}

func TestAccept(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Initiate("alice", "bob", "10.0.0.1", 5001)
	require.NoError(t, err)

	// Only the target may accept.
	_, err = m.Accept(s.ID, "alice", 6000)
	assert.ErrorIs(t, err, types.ErrForbidden)

	got, err := m.Accept(s.ID, "bob", 6000)
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, got.State)
	assert.Equal(t, 6000, got.TargetPort)
	assert.False(t, got.AcceptedAt.IsZero())

	// Accepting twice is an illegal state.
	_, err = m.Accept(s.ID, "bob", 6000)
	assert.ErrorIs(t, err, types.ErrIllegalState)

	_, err = m.Accept(999, "bob", 6000)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSDPExchangeConnects(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Initiate("alice", "bob", "10.0.0.1", 5001)
	require.NoError(t, err)
	_, err = m.Accept(s.ID, "bob", 5002)
	require.NoError(t, err)

	got, err := m.SetOffer(s.ID, "v=0 offer")
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, got.State)

	got, err = m.SetAnswer(s.ID, "v=0 answer")
	require.NoError(t, err)
	assert.Equal(t, StateConnected, got.State)
	assert.Equal(t, "v=0 offer", got.InitiatorSDPOffer)
	assert.Equal(t, "v=0 answer", got.TargetSDPAnswer)
}

func TestRejectRemovesSession(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Initiate("alice", "bob", "10.0.0.1", 5001)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Reject(s.ID, "stranger"), types.ErrForbidden)
	require.NoError(t, m.Reject(s.ID, "bob"))

	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	// Pair is free again after the reject.
	_, err = m.Initiate("alice", "bob", "10.0.0.1", 5001)
	assert.NoError(t, err)
}

func TestTerminate(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Initiate("alice", "bob", "10.0.0.1", 5001)
	require.NoError(t, err)

	require.NoError(t, m.Terminate(s.ID))
	assert.ErrorIs(t, m.Terminate(s.ID), types.ErrNotFound)
	assert.Equal(t, 0, m.Count())
}

func TestIncoming(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Initiate("alice", "bob", "10.0.0.1", 5001)
	require.NoError(t, err)

	incoming := m.Incoming("bob")
	require.Len(t, incoming, 1)
	assert.Equal(t, s.ID, incoming[0].ID)
	assert.Empty(t, m.Incoming("alice"))

	// Accepted calls are no longer incoming.
	_, err = m.Accept(s.ID, "bob", 5002)
	require.NoError(t, err)
	assert.Empty(t, m.Incoming("bob"))
}

func TestTerminateAllFor(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Initiate("alice", "bob", "10.0.0.1", 5001)
	require.NoError(t, err)

	ended := m.TerminateAllFor("bob")
	require.Len(t, ended, 1)
	assert.Equal(t, StateTerminated, ended[0].State)
	assert.Equal(t, 0, m.Count())

	assert.Empty(t, m.TerminateAllFor("bob"))
}

func TestEnsure_IdempotentPerPair(t *testing.T) {
	m := newTestManager(t)

	a, err := m.Ensure("alice", "bob")
	require.NoError(t, err)
	b, err := m.Ensure("bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	_, err = m.Ensure("alice", "alice")
	assert.ErrorIs(t, err, types.ErrIllegalArgument)
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	m := NewManager(onlinePeers(), 10*time.Minute)
	defer m.Stop()

	s, err := m.Initiate("alice", "bob", "10.0.0.1", 5001)
	require.NoError(t, err)

	// Move the clock past the idle cutoff and sweep directly.
	m.mu.Lock()
	m.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	m.mu.Unlock()
	m.sweep()

	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestGetBumpsActivity(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Initiate("alice", "bob", "10.0.0.1", 5001)
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	m.mu.Lock()
	m.now = func() time.Time { return later }
	m.mu.Unlock()

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, later, got.LastActivity)
}

func TestManagerStop_NoLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(onlinePeers(), DefaultSessionTimeout)
	_, err := m.Initiate("alice", "bob", "10.0.0.1", 5001)
	require.NoError(t, err)
	m.Stop()
}
