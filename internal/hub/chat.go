package hub

import "time"

// ChatMessage is one entry of the relay's chat log.
type ChatMessage struct {
	ID        int64      `json:"id" msgpack:"id"`
	User      string     `json:"user" msgpack:"user"`
	OwnerID   string     `json:"-" msgpack:"owner"`
	Text      string     `json:"text" msgpack:"text"`
	Type      string     `json:"type" msgpack:"type"`
	IsEdited  bool       `json:"isEdited,omitempty" msgpack:"edited"`
	Reactions []Reaction `json:"reactions,omitempty" msgpack:"reactions"`
}

// Reaction is a single emoji placed on a message by one participant.
type Reaction struct {
	Emoji  string `json:"emoji" msgpack:"emoji"`
	User   string `json:"user" msgpack:"user"`
	UserID string `json:"-" msgpack:"user_id"`
}

// ChatStore is an append-only log with a retention cap. Edits, deletes and
// reactions address messages by id. It is owned by the hub goroutine.
type ChatStore struct {
	limit    int
	messages []*ChatMessage
	lastID   int64
	now      func() time.Time
}

// NewChatStore seeds the store with history (oldest first), keeping the
// newest limit entries.
func NewChatStore(limit int, history []ChatMessage) *ChatStore {
	s := &ChatStore{limit: limit, now: time.Now}
	for i := range history {
		m := history[i]
		s.push(&m)
	}
	return s
}

// Append stamps and records a new message. Ids are millisecond timestamps
// made strictly increasing.
func (s *ChatStore) Append(ownerID, user, text, typ string) ChatMessage {
	if typ == "" {
		typ = "text"
	}

	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}

	m := &ChatMessage{ID: id, User: user, OwnerID: ownerID, Text: text, Type: typ}
	s.push(m)
	return *m
}

func (s *ChatStore) push(m *ChatMessage) {
	if m.ID > s.lastID {
		s.lastID = m.ID
	}
	s.messages = append(s.messages, m)
	if over := len(s.messages) - s.limit; s.limit > 0 && over > 0 {
		s.messages = append([]*ChatMessage(nil), s.messages[over:]...)
	}
}

// History returns a copy of the log, oldest first.
func (s *ChatStore) History() []ChatMessage {
	out := make([]ChatMessage, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
		out[i].Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return out
}

// Edit replaces the text of a message owned by ownerID.
func (s *ChatStore) Edit(id int64, ownerID, text string) error {
	m, err := s.owned(id, ownerID)
	if err != nil {
		return err
	}
	m.Text = text
	m.IsEdited = true
	return nil
}

// Delete removes a message owned by ownerID.
func (s *ChatStore) Delete(id int64, ownerID string) error {
	if _, err := s.owned(id, ownerID); err != nil {
		return err
	}
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	return nil
}

// React toggles userID's emoji on a message and returns the new reaction set.
func (s *ChatStore) React(id int64, userID, user, emoji string) ([]Reaction, error) {
	m := s.find(id)
	if m == nil {
		return nil, ErrMessageNotFound
	}

	for i, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			return append([]Reaction(nil), m.Reactions...), nil
		}
	}

	m.Reactions = append(m.Reactions, Reaction{Emoji: emoji, User: user, UserID: userID})
	return append([]Reaction(nil), m.Reactions...), nil
}

func (s *ChatStore) find(id int64) *ChatMessage {
	for _, m := range s.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (s *ChatStore) owned(id int64, ownerID string) (*ChatMessage, error) {
	m := s.find(id)
	if m == nil {
		return nil, ErrMessageNotFound
	}
	if m.OwnerID != ownerID {
		return nil, ErrNotMessageOwner
	}
	return m, nil
}
