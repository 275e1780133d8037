// Package types holds the domain types and interfaces shared between the
// TCP hub, the HTTP bridge, and the session managers.
package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/bus"
)

// Sentinel errors for domain operations. The HTTP layer maps them to status
// codes (IllegalArgument and IllegalState 400, NotFound 404, Forbidden 403);
// the TCP dispatcher maps them to ERROR:<cause> frames.
var (
	ErrIllegalArgument = errors.New("illegal argument")
	ErrIllegalState    = errors.New("illegal state")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
)

// PortUnset marks an optional fileTcp/voiceUdp port that was never declared.
const PortUnset = -1

// Cause strips the sentinel prefix from a domain error, leaving the
// human-readable cause for wire-level error frames.
func Cause(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{ErrIllegalArgument, ErrIllegalState, ErrNotFound, ErrForbidden} {
		prefix := sentinel.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}

// PresenceEntry records one online user. At most one entry exists per
// username; a conflicting login replaces the entry and evicts its anchor.
type PresenceEntry struct {
	Username string `json:"user"`
	IP       string `json:"ip"`
	FileTcp  int    `json:"fileTcp"`  // PortUnset if the user declared no file port
	VoiceUdp int    `json:"voiceUdp"` // PortUnset if the user declared no voice port
	ViaNio   bool   `json:"viaNio"`   // true when anchored to a live TCP socket
}

// Transport names the anchor kind on the wire.
func (e PresenceEntry) Transport() string {
	if e.ViaNio {
		return "nio"
	}
	return "http"
}

// Tuple renders the entry as the comma-joined USER_LIST element.
func (e PresenceEntry) Tuple() string {
	return fmt.Sprintf("%s,%s,%d,%d,%s", e.Username, e.IP, e.FileTcp, e.VoiceUdp, e.Transport())
}

// ChatMessage is one broadcast chat line. Timestamp is in seconds.
type ChatMessage struct {
	From      string `json:"from"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Frame renders the message as its TCP broadcast line (without newline).
func (m ChatMessage) Frame() string {
	return fmt.Sprintf("CHAT_MSG:%s:%d:%s", m.From, m.Timestamp, m.Text)
}

// NormalizeChatText trims surrounding whitespace and folds embedded
// newlines into single spaces so the text stays one wire line.
func NormalizeChatText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	return text
}

// SessionNotifier pushes a protocol line to a user's live TCP session.
// Implementations report whether a live session accepted the line.
type SessionNotifier interface {
	PushLine(username, line string) bool
}

// NoopNotifier discards every push. Used where no TCP hub is wired in.
type NoopNotifier struct{}

func (NoopNotifier) PushLine(string, string) bool { return false }

// BusService is the cross-instance pub/sub surface. A nil *bus.Service
// satisfies it in single-instance mode; all methods degrade to no-ops.
type BusService interface {
	Publish(ctx context.Context, event string, payload any, senderID string) error
	PublishDirect(ctx context.Context, targetUser string, event string, payload any, senderID string) error
	Subscribe(ctx context.Context, channel string, wg *sync.WaitGroup, handler func(bus.PubSubPayload))
	Close() error
	// Redis set operations for mirroring presence across instances
	SetAdd(ctx context.Context, key string, value string) error
	SetRem(ctx context.Context, key string, value string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
}
