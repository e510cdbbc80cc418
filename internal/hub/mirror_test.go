package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryCodecKeepsOwnership(t *testing.T) {
	in := []ChatMessage{
		{ID: 1, User: "alice", OwnerID: "conn-1", Text: "hi", Type: "text"},
		{ID: 2, User: "bob", OwnerID: "conn-2", Text: "yo", Type: "text", IsEdited: true,
			Reactions: []Reaction{{Emoji: "👍", User: "alice", UserID: "conn-1"}}},
	}

	b, err := encodeHistory(in)
	require.NoError(t, err)

	out, err := decodeHistory(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeHistory([]byte{0xc1})
	assert.Error(t, err)
}

func TestOfferLatestReplacesPending(t *testing.T) {
	ch := make(chan []Participant, 1)

	offerLatest(ch, []Participant{{ID: "1"}})
	offerLatest(ch, []Participant{{ID: "2"}})
	offerLatest(ch, []Participant{{ID: "3"}})

	assert.Equal(t, []Participant{{ID: "3"}}, <-ch)
	assert.Len(t, ch, 0)
}

func TestNewRedisMirrorRejectsBadURL(t *testing.T) {
	_, err := NewRedisMirror(t.Context(), "not-a-redis-url", nil)
	assert.Error(t, err)
}
