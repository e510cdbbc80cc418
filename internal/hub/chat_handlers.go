package hub

import "encoding/json"

type chatRequest struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type editRequest struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

type reactionRequest struct {
	ID    int64  `json:"id"`
	Emoji string `json:"emoji"`
}

type messageEdited struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

type reactionUpdate struct {
	ID        int64      `json:"id"`
	Reactions []Reaction `json:"reactions"`
}

func (h *Hub) handleChat(c *Client, msg *Message) {
	if !c.joined {
		h.fail(c, ErrNotJoined.Error())
		return
	}

	switch msg.Type {
	case EventGetHistory:
		h.emit(c, EventHistory, h.chat.History())
		return

	case EventChatMessage:
		var req chatRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil || req.Text == "" {
			h.fail(c, "malformed chat message")
			return
		}
		h.broadcast(EventChatMessage, h.chat.Append(c.ID, c.Name, req.Text, req.Type))

	case EventEditMessage:
		var req editRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil || req.Text == "" {
			h.fail(c, "malformed edit")
			return
		}
		if err := h.chat.Edit(req.ID, c.ID, req.Text); err != nil {
			h.fail(c, err.Error())
			return
		}
		h.broadcast(EventMessageEdited, messageEdited{ID: req.ID, Text: req.Text})

	case EventDeleteMessage:
		var id int64
		if err := json.Unmarshal(msg.Payload, &id); err != nil {
			h.fail(c, "malformed delete")
			return
		}
		if err := h.chat.Delete(id, c.ID); err != nil {
			h.fail(c, err.Error())
			return
		}
		h.broadcast(EventMessageDeleted, id)

	case EventReaction:
		var req reactionRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil || req.Emoji == "" {
			h.fail(c, "malformed reaction")
			return
		}
		reactions, err := h.chat.React(req.ID, c.ID, c.Name, req.Emoji)
		if err != nil {
			h.fail(c, err.Error())
			return
		}
		h.broadcast(EventReactionUpdate, reactionUpdate{ID: req.ID, Reactions: reactions})
	}

	if h.mirror != nil {
		h.mirror.PublishHistory(h.chat.History())
	}
}
