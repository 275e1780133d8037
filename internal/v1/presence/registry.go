// Package presence tracks which users are online and which transport
// anchors their entry. It owns the single-presence-per-username invariant.
package presence

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/bus"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/metrics"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/types"
)

// Anchor identifies the transport object holding a presence entry: the TCP
// session for nio logins, an HTTP marker for bridged logins. Anchors are
// compared by identity, and evicted when a conflicting login replaces them.
type Anchor interface {
	// Evict tears down the transport so the replaced user is disconnected.
	Evict(reason string)
}

// HTTPAnchor marks a presence entry installed through the HTTP bridge.
// OnEvict, if set, stops the per-user file receiver.
type HTTPAnchor struct {
	Username string
	OnEvict  func(reason string)
}

func (a *HTTPAnchor) Evict(reason string) {
	if a.OnEvict != nil {
		a.OnEvict(reason)
	}
}

// Broadcaster fans a protocol line out to every live TCP session, skipping
// the named originator. The TCP hub implements it.
type Broadcaster interface {
	BroadcastLine(line string, exceptUsername string)
}

// Events published on the bus when presence changes.
const (
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
)

type record struct {
	entry  types.PresenceEntry
	anchor Anchor
}

// Registry is the process-wide presence table.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*record

	broadcaster  Broadcaster
	bus          types.BusService
	instanceID   string
	offlineHooks []func(user string)
}

// NewRegistry creates an empty registry. busSvc may wrap a nil *bus.Service
// for single-instance mode; instanceID tags published events so other
// instances can skip this one's echoes.
func NewRegistry(busSvc types.BusService, instanceID string) *Registry {
	return &Registry{
		entries:    make(map[string]*record),
		bus:        busSvc,
		instanceID: instanceID,
	}
}

// SetBroadcaster wires the TCP hub in. Must be called before traffic starts.
func (r *Registry) SetBroadcaster(b Broadcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcaster = b
}

// OnOffline registers fn to run after a user's presence entry is removed.
// Session managers use it to drop state tied to the user's login, e.g.
// abandoning an in-progress game. Register before traffic starts.
func (r *Registry) OnOffline(fn func(user string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offlineHooks = append(r.offlineHooks, fn)
}

// Login installs a presence entry for user, replacing any existing one, and
// returns the replaced entry and its anchor. The caller must tear the prior
// anchor down (Evict). Joined/list broadcasts go to every live TCP session
// except the user logging in.
func (r *Registry) Login(user, ip string, fileTcp, voiceUdp int, viaNio bool, anchor Anchor) (*types.PresenceEntry, Anchor) {
	entry := types.PresenceEntry{
		Username: user,
		IP:       ip,
		FileTcp:  fileTcp,
		VoiceUdp: voiceUdp,
		ViaNio:   viaNio,
	}

	r.mu.Lock()
	var prevEntry *types.PresenceEntry
	var prevAnchor Anchor
	if old, ok := r.entries[user]; ok {
		e := old.entry
		prevEntry = &e
		prevAnchor = old.anchor
	}
	r.entries[user] = &record{entry: entry, anchor: anchor}
	broadcaster := r.broadcaster
	listFrame := r.userListFrameLocked()
	count := len(r.entries)
	r.mu.Unlock()

	metrics.PresenceEntries.Set(float64(count))
	logging.Info(context.Background(), "user logged in",
		zap.String("username", user),
		zap.String("ip", ip),
		zap.String("transport", entry.Transport()),
		zap.Bool("replaced", prevEntry != nil))

	if broadcaster != nil {
		broadcaster.BroadcastLine("USER_JOINED:"+user+":"+entry.Transport(), user)
		broadcaster.BroadcastLine(listFrame, user)
	}

	if r.bus != nil {
		ctx := context.Background()
		_ = r.bus.SetAdd(ctx, bus.KeyOnlineUsers, user)
		_ = r.bus.Publish(ctx, EventUserOnline, entry, r.instanceID)
	}

	return prevEntry, prevAnchor
}

// Logout removes the user's entry only when the installed anchor is the one
// the caller holds. This keeps an HTTP logout from clobbering a fresh TCP
// re-login and vice versa. Returns whether an entry was removed.
func (r *Registry) Logout(user string, expectedAnchor Anchor) bool {
	r.mu.Lock()
	rec, ok := r.entries[user]
	if !ok || rec.anchor != expectedAnchor {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, user)
	broadcaster := r.broadcaster
	hooks := r.offlineHooks
	listFrame := r.userListFrameLocked()
	count := len(r.entries)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(user)
	}

	metrics.PresenceEntries.Set(float64(count))
	logging.Info(context.Background(), "user logged out", zap.String("username", user))

	if broadcaster != nil {
		broadcaster.BroadcastLine("USER_LEFT:"+user, user)
		broadcaster.BroadcastLine(listFrame, user)
	}

	if r.bus != nil {
		ctx := context.Background()
		_ = r.bus.SetRem(ctx, bus.KeyOnlineUsers, user)
		_ = r.bus.Publish(ctx, EventUserOffline, types.PresenceEntry{Username: user}, r.instanceID)
	}

	return true
}

// FindPeer returns the presence entry for user.
func (r *Registry) FindPeer(user string) (types.PresenceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entries[user]
	if !ok {
		return types.PresenceEntry{}, false
	}
	return rec.entry, true
}

// AnchorOf returns the anchor currently holding user's entry.
func (r *Registry) AnchorOf(user string) (Anchor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entries[user]
	if !ok {
		return nil, false
	}
	return rec.anchor, true
}

// IsOnline reports whether user has a presence entry.
func (r *Registry) IsOnline(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[user]
	return ok
}

// Snapshot returns all entries sorted by username.
func (r *Registry) Snapshot() []types.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// UserListFrame renders the USER_LIST broadcast for the current roster.
func (r *Registry) UserListFrame() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userListFrameLocked()
}

func (r *Registry) snapshotLocked() []types.PresenceEntry {
	out := make([]types.PresenceEntry, 0, len(r.entries))
	for _, rec := range r.entries {
		out = append(out, rec.entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (r *Registry) userListFrameLocked() string {
	entries := r.snapshotLocked()
	tuples := make([]string, 0, len(entries))
	for _, e := range entries {
		tuples = append(tuples, e.Tuple())
	}
	return "USER_LIST:" + strings.Join(tuples, ";")
}
