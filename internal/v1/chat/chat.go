// Package chat owns the bounded message ring and the append-then-fan-out
// broadcast that keeps every TCP observer seeing the same order.
package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/metrics"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/types"
)

// RingSize bounds the in-memory history; the oldest message is evicted
// when a broadcast would exceed it.
const RingSize = 200

// EventChat is the bus event name for cross-instance chat relay.
const EventChat = "chat"

// PresenceChecker reports whether a user currently has a presence entry.
type PresenceChecker interface {
	IsOnline(user string) bool
}

// Broadcaster fans a line out to live TCP sessions. An empty except string
// means everyone receives it, the sender included.
type Broadcaster interface {
	BroadcastLine(line string, exceptUsername string)
}

// Core is the process-wide chat state.
type Core struct {
	mu   sync.Mutex
	ring []types.ChatMessage

	presence    PresenceChecker
	broadcaster Broadcaster
	bus         types.BusService
	instanceID  string
	now         func() time.Time
}

// NewCore creates the chat core. busSvc may be nil (or wrap a nil
// *bus.Service) in single-instance mode.
func NewCore(presence PresenceChecker, busSvc types.BusService, instanceID string) *Core {
	return &Core{
		ring:       make([]types.ChatMessage, 0, RingSize),
		presence:   presence,
		bus:        busSvc,
		instanceID: instanceID,
		now:        time.Now,
	}
}

// SetBroadcaster wires the TCP hub in. Must be called before traffic starts.
func (c *Core) SetBroadcaster(b Broadcaster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcaster = b
}

// Broadcast validates that from is present, normalizes the text, appends
// the message to the ring, and fans the frame out to every live TCP
// session. It returns the stored message for the HTTP acknowledgement.
func (c *Core) Broadcast(from, text string) (types.ChatMessage, error) {
	if c.presence != nil && !c.presence.IsOnline(from) {
		return types.ChatMessage{}, fmt.Errorf("%w: not logged in", types.ErrForbidden)
	}

	normalized := types.NormalizeChatText(text)
	if normalized == "" {
		return types.ChatMessage{}, fmt.Errorf("%w: empty message", types.ErrIllegalArgument)
	}

	msg := types.ChatMessage{
		From:      from,
		Text:      normalized,
		Timestamp: c.now().Unix(),
	}

	c.append(msg)
	metrics.ChatMessages.Inc()

	if c.bus != nil {
		_ = c.bus.Publish(context.Background(), EventChat, msg, c.instanceID)
	}

	return msg, nil
}

// ReceiveRemote appends a message relayed from another instance and fans it
// out locally. No presence check and no re-publish: the origin instance
// already did both.
func (c *Core) ReceiveRemote(msg types.ChatMessage) {
	c.append(msg)
	metrics.ChatMessages.Inc()
}

// append stores the message and broadcasts it inside one critical section,
// so all TCP observers see broadcasts in ring order.
func (c *Core) append(msg types.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.ring) == RingSize {
		copy(c.ring, c.ring[1:])
		c.ring[RingSize-1] = msg
	} else {
		c.ring = append(c.ring, msg)
	}

	if c.broadcaster != nil {
		c.broadcaster.BroadcastLine(msg.Frame(), "")
	}
}

// Recent returns a copy of the ring in chronological order.
func (c *Core) Recent() []types.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.ChatMessage, len(c.ring))
	copy(out, c.ring)
	return out
}
