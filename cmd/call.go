package cmd

import (
	"context"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/BioHazard786/meshcall/internal/ui"
)

const systemUser = "•"

// call ties a running session to the live view. The observer methods run on
// the session's event loop; names is only touched there.
type call struct {
	name       string
	localID    string
	microphone string
	session    *mesh.Session
	media      *media.Manager
	playback   *media.Playback
	client     *signaling.Client
	lines      chan ui.ChatLine
	names      map[string]string
}

func newCall(name, localID, microphone string, client *signaling.Client, playback *media.Playback) *call {
	return &call{
		name:       name,
		localID:    localID,
		microphone: microphone,
		client:     client,
		playback:   playback,
		lines:      make(chan ui.ChatLine, 64),
		names:      make(map[string]string),
	}
}

func (c *call) Snapshot(ctx context.Context) (ui.Snapshot, error) {
	snap := ui.Snapshot{Name: c.name, LocalID: c.localID}

	err := c.session.Do(ctx, func(m *mesh.Mesh) {
		snap.Roster = m.Roster()
		snap.Links = m.Status()
	})
	if err != nil {
		return snap, err
	}

	if src, ok := c.media.Active(webrtc.RTPCodecTypeAudio); ok {
		snap.Microphone = src.ID
	}
	if src, ok := c.media.Active(webrtc.RTPCodecTypeVideo); ok {
		snap.Screen = src.ID
	}
	if remote, ok := c.playback.Screen(); ok {
		snap.Viewport = remote
		for _, p := range snap.Roster {
			if p.ID == remote {
				snap.Viewport = p.Name
			}
		}
	}
	return snap, nil
}

func (c *call) ToggleMicrophone(ctx context.Context) error {
	if _, ok := c.media.Active(webrtc.RTPCodecTypeAudio); ok {
		c.media.Stop(webrtc.RTPCodecTypeAudio)
		return nil
	}
	return c.media.StartMicrophone(ctx, c.microphone)
}

func (c *call) ToggleScreen(ctx context.Context) error {
	if _, ok := c.media.Active(webrtc.RTPCodecTypeVideo); ok {
		c.media.Stop(webrtc.RTPCodecTypeVideo)
		return nil
	}
	return c.media.StartScreenShare(ctx, "")
}

func (c *call) SendChat(text string) error {
	return c.client.SendChat(text)
}

// notify never blocks; a full backlog drops the line.
func (c *call) notify(line ui.ChatLine) {
	select {
	case c.lines <- line:
	default:
		slog.Debug("chat line dropped", "user", line.User)
	}
}

func (c *call) RosterChanged(roster []mesh.Participant) {
	next := make(map[string]string, len(roster))
	for _, p := range roster {
		next[p.ID] = p.Name
		if _, ok := c.names[p.ID]; !ok && p.ID != c.localID {
			c.notify(ui.ChatLine{User: systemUser, Text: p.Name + " joined"})
		}
	}
	for id, name := range c.names {
		if _, ok := next[id]; !ok {
			c.notify(ui.ChatLine{User: systemUser, Text: name + " left"})
		}
	}
	c.names = next
}

func (c *call) LinkStateChanged(string, mesh.State) {}

func (c *call) ConnectionStateChanged(remoteID string, state webrtc.PeerConnectionState) {
	name := c.names[remoteID]
	if name == "" {
		name = remoteID
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		c.notify(ui.ChatLine{User: systemUser, Text: "connected to " + name})
	case webrtc.PeerConnectionStateFailed:
		c.notify(ui.ChatLine{User: systemUser, Text: "connection to " + name + " failed"})
	}
}

// relayChat turns chat frames and relay errors into view lines until the
// handler shuts down.
func (c *call) relayChat(h *signaling.Handler) {
	byID := make(map[int64]signaling.ChatMessage)
	chat, errs := h.Chat, h.Error

	for chat != nil || errs != nil {
		select {
		case msg, ok := <-chat:
			if !ok {
				chat = nil
				continue
			}
			for _, line := range chatLines(msg, byID) {
				c.notify(line)
			}
		case reason, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.notify(ui.ChatLine{User: "relay", Text: reason})
		}
	}
}

func chatLines(msg *signaling.Message, byID map[int64]signaling.ChatMessage) []ui.ChatLine {
	switch msg.Type {
	case signaling.MessageTypeChatMessage:
		var m signaling.ChatMessage
		if err := msg.Decode(&m); err != nil {
			slog.Warn("malformed chat message", "error", err)
			return nil
		}
		byID[m.ID] = m
		return []ui.ChatLine{{User: m.User, Text: m.Text}}

	case signaling.MessageTypeHistory:
		var history []signaling.ChatMessage
		if err := msg.Decode(&history); err != nil {
			slog.Warn("malformed chat history", "error", err)
			return nil
		}
		lines := make([]ui.ChatLine, 0, len(history))
		for _, m := range history {
			byID[m.ID] = m
			lines = append(lines, ui.ChatLine{User: m.User, Text: m.Text, Edited: m.IsEdited})
		}
		return lines

	case signaling.MessageTypeMessageEdited:
		var e signaling.EditedPayload
		if err := msg.Decode(&e); err != nil {
			return nil
		}
		m, ok := byID[e.ID]
		if !ok {
			return nil
		}
		m.Text, m.IsEdited = e.Text, true
		byID[e.ID] = m
		return []ui.ChatLine{{User: m.User, Text: m.Text, Edited: true}}

	case signaling.MessageTypeMessageDeleted:
		var id int64
		if err := msg.Decode(&id); err != nil {
			return nil
		}
		m, ok := byID[id]
		if !ok {
			return nil
		}
		delete(byID, id)
		return []ui.ChatLine{{User: systemUser, Text: m.User + " deleted a message"}}
	}
	return nil
}
