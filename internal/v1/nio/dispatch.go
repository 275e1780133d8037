package nio

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/metrics"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/types"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/whiteboard"
)

// dispatch routes one frame to its handler and returns the command name for
// metrics. The first colon-separated token selects the command; everything
// handled here runs on the session's reader goroutine, so replies keep wire
// order.
func (h *Hub) dispatch(s *Session, line string) string {
	cmd, rest, _ := strings.Cut(line, ":")

	if s.Username() == "" && cmd != "LOGIN" {
		s.Send("ERROR:login first")
		metrics.TCPFrames.WithLabelValues(cmd, "unauthenticated").Inc()
		return cmd
	}

	var err error
	switch cmd {
	case "LOGIN":
		err = h.handleLogin(s, rest)
	case "MSG":
		err = h.handleMsg(s, rest)
	case "PEER":
		err = h.handlePeer(s, rest)
	case "USERS":
		s.Send(h.registry.UserListFrame())
	case "WHITEBOARD_OPEN":
		err = h.handleWhiteboardOpen(s, rest)
	case "WHITEBOARD_DRAW":
		err = h.handleWhiteboardDraw(s, rest)
	case "WHITEBOARD_CLEAR":
		err = h.handleWhiteboardClear(s, rest)
	case "WHITEBOARD_CLOSE":
		err = h.handleWhiteboardClose(s, rest)
	case "WHITEBOARD_SYNC":
		err = h.handleWhiteboardSync(s, rest)
	default:
		s.Send("ERROR:unknown command")
		metrics.TCPFrames.WithLabelValues("unknown", "error").Inc()
		return cmd
	}

	if err != nil {
		s.Send("ERROR:" + protocolCause(err))
		metrics.TCPFrames.WithLabelValues(cmd, "error").Inc()
	} else {
		metrics.TCPFrames.WithLabelValues(cmd, "ok").Inc()
	}
	return cmd
}

// protocolCause renders an error as the cause carried on an ERROR line.
// Authorization failures collapse to the fixed "not in session" wording.
func protocolCause(err error) string {
	if errors.Is(err, types.ErrForbidden) {
		return "not in session"
	}
	return types.Cause(err)
}

// handleLogin implements LOGIN:user:pass[:fileTcp[:voiceUdp]]. A username
// with a colon cannot appear: the colon splits it into the password field
// and authentication fails.
func (h *Hub) handleLogin(s *Session, rest string) error {
	if s.Username() != "" {
		return fmt.Errorf("%w: already logged in", types.ErrIllegalState)
	}

	parts := strings.Split(rest, ":")
	if len(parts) < 2 || parts[0] == "" {
		s.Send("LOGIN_FAIL:malformed login")
		return nil
	}
	user, pass := parts[0], parts[1]

	fileTcp, voiceUdp := types.PortUnset, types.PortUnset
	if len(parts) >= 3 && parts[2] != "" {
		p, err := strconv.Atoi(parts[2])
		if err != nil {
			return fmt.Errorf("%w: invalid file port", types.ErrIllegalArgument)
		}
		fileTcp = p
	}
	if len(parts) >= 4 && parts[3] != "" {
		p, err := strconv.Atoi(parts[3])
		if err != nil {
			return fmt.Errorf("%w: invalid voice port", types.ErrIllegalArgument)
		}
		voiceUdp = p
	}

	if h.loginLimit != nil && !h.loginLimit.Allow(s.ip) {
		s.Send("LOGIN_FAIL:rate limited")
		logging.Warn(s.ctx(), "login throttled", zap.String("user", user))
		return nil
	}

	if !h.creds.Verify(context.Background(), user, pass) {
		s.Send("LOGIN_FAIL:invalid credentials")
		return nil
	}

	s.setUsername(user)
	h.bindUser(user, s)

	prev, prevAnchor := h.registry.Login(user, s.ip, fileTcp, voiceUdp, true, s)
	if prev != nil && prevAnchor != nil {
		prevAnchor.Evict("relogin")
	}

	s.Send("LOGIN_SUCCESS:" + user)
	s.Send(h.registry.UserListFrame())
	return nil
}

// handleMsg delegates MSG:<text...> to the chat core. The text keeps any
// colons it contains: only the first token was consumed as the command.
func (h *Hub) handleMsg(s *Session, text string) error {
	_, err := h.chatCore.Broadcast(s.Username(), text)
	return err
}

// handlePeer answers PEER:user with the peer's address tuple or :offline.
func (h *Hub) handlePeer(s *Session, user string) error {
	if user == "" {
		return fmt.Errorf("%w: username required", types.ErrIllegalArgument)
	}
	entry, ok := h.registry.FindPeer(user)
	if !ok {
		s.Send("PEER:" + user + ":offline")
		return nil
	}
	s.Send(fmt.Sprintf("PEER:%s:%s:%d:%d:%s", entry.Username, entry.IP, entry.FileTcp, entry.VoiceUdp, entry.Transport()))
	return nil
}

// handleWhiteboardOpen creates (or reuses) the session with the peer. The
// caller gets WHITEBOARD_OPENED:<sid>:<peer>; the peer's live session gets
// WHITEBOARD_OPENED:<sid>:<caller>.
func (h *Hub) handleWhiteboardOpen(s *Session, peer string) error {
	wb, err := h.whiteboards.Create(s.Username(), peer)
	if err != nil {
		return err
	}
	s.Send(fmt.Sprintf("WHITEBOARD_OPENED:%d:%s", wb.ID, peer))
	h.PushLine(peer, fmt.Sprintf("WHITEBOARD_OPENED:%d:%s", wb.ID, s.Username()))
	return nil
}

// handleWhiteboardDraw implements
// WHITEBOARD_DRAW:sid:x1:y1:x2:y2:color:thick and relays the command to the
// other participant.
func (h *Hub) handleWhiteboardDraw(s *Session, rest string) error {
	parts := strings.Split(rest, ":")
	if len(parts) != 7 {
		return fmt.Errorf("%w: expected sid:x1:y1:x2:y2:color:thickness", types.ErrIllegalArgument)
	}
	sid, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid session id", types.ErrIllegalArgument)
	}
	coords := make([]float64, 4)
	for i := 0; i < 4; i++ {
		coords[i], err = strconv.ParseFloat(parts[1+i], 64)
		if err != nil {
			return fmt.Errorf("%w: invalid coordinate", types.ErrIllegalArgument)
		}
	}
	thickness, err := strconv.ParseFloat(parts[6], 64)
	if err != nil {
		return fmt.Errorf("%w: invalid thickness", types.ErrIllegalArgument)
	}

	cmd := whiteboard.Command{
		Type: whiteboard.TypeDraw, User: s.Username(),
		X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3],
		Color: parts[5], Thickness: thickness,
	}
	if err := h.whiteboards.Draw(sid, cmd); err != nil {
		return err
	}
	h.relayWhiteboard(sid, s.Username(), cmd)
	return nil
}

func (h *Hub) handleWhiteboardClear(s *Session, rest string) error {
	sid, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid session id", types.ErrIllegalArgument)
	}
	if err := h.whiteboards.Clear(sid, s.Username()); err != nil {
		return err
	}
	h.relayWhiteboard(sid, s.Username(), whiteboard.Command{Type: whiteboard.TypeClear, User: s.Username()})
	return nil
}

func (h *Hub) handleWhiteboardClose(s *Session, rest string) error {
	sid, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid session id", types.ErrIllegalArgument)
	}
	// The manager notifies the peer with WHITEBOARD_CLOSED.
	return h.whiteboards.Close(sid, s.Username())
}

// handleWhiteboardSync replies WHITEBOARD_SYNC:<sid>:<count> followed by one
// WHITEBOARD_COMMAND line per logged command, in order.
func (h *Hub) handleWhiteboardSync(s *Session, rest string) error {
	sid, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid session id", types.ErrIllegalArgument)
	}
	cmds, err := h.whiteboards.Commands(sid, s.Username())
	if err != nil {
		return err
	}
	s.Send(fmt.Sprintf("WHITEBOARD_SYNC:%d:%d", sid, len(cmds)))
	for _, cmd := range cmds {
		s.Send(cmd.Frame(sid))
	}
	return nil
}

// relayWhiteboard pushes the command frame to the other participant's live
// TCP session, if any.
func (h *Hub) relayWhiteboard(sid int64, from string, cmd whiteboard.Command) {
	peer, err := h.whiteboards.Peer(sid, from)
	if err != nil {
		return
	}
	h.PushLine(peer, cmd.Frame(sid))
}
