package signaling

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/meshcall/internal/hub"
	"github.com/BioHazard786/meshcall/internal/logging"
	"github.com/BioHazard786/meshcall/internal/server"
)

func frame(t *testing.T, typ string, payload any) *Message {
	t.Helper()
	m, err := NewMessage(typ, payload)
	require.NoError(t, err)
	return m
}

func TestHandlerRoutes(t *testing.T) {
	asserts := assert.New(t)

	c := NewClient("ws://unused")
	h := NewHandler(c)
	go h.Start()

	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
	idx := uint16(0)
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host", SDPMLineIndex: &idx}

	c.incoming <- frame(t, MessageTypeWelcome, WelcomePayload{ID: "me"})
	c.incoming <- frame(t, MessageTypeUpdateUserList, []Participant{{ID: "me", Name: "alice"}})
	c.incoming <- frame(t, MessageTypeOffer, map[string]any{"sdp": sdp, "callerId": "bob"})
	c.incoming <- frame(t, MessageTypeAnswer, map[string]any{"sdp": sdp, "responderId": "carol"})
	c.incoming <- frame(t, MessageTypeICECandidate, map[string]any{"candidate": cand, "senderId": "dave"})
	c.incoming <- frame(t, MessageTypeOffer, map[string]any{"sdp": sdp})
	c.incoming <- frame(t, MessageTypeHistory, []ChatMessage{})
	c.incoming <- frame(t, MessageTypeError, ErrorPayload{Error: "nope"})
	close(c.incoming)

	asserts.Equal("me", <-h.Welcome)

	ev := <-h.Events
	asserts.Equal(MessageTypeUpdateUserList, ev.Type)
	asserts.Equal([]Participant{{ID: "me", Name: "alice"}}, ev.Roster)

	ev = <-h.Events
	asserts.Equal(MessageTypeOffer, ev.Type)
	asserts.Equal("bob", ev.Offer.CallerID)
	asserts.Equal(sdp, ev.Offer.SDP)

	asserts.Equal("carol", (<-h.Events).Answer.ResponderID)

	ev = <-h.Events
	asserts.Equal("dave", ev.Candidate.SenderID)
	asserts.Equal(cand.Candidate, ev.Candidate.Candidate.Candidate)

	asserts.Equal(MessageTypeHistory, (<-h.Chat).Type)
	asserts.Equal("nope", <-h.Error)

	// The offer without callerId was dropped; everything closes after EOF.
	_, ok := <-h.Events
	asserts.False(ok)
	_, ok = <-h.Chat
	asserts.False(ok)
}

func TestClientAgainstRelay(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relay := hub.NewHub(hub.Options{Logger: logging.Discard()})
	go relay.Run(ctx)
	srv := httptest.NewServer(server.NewRouter(relay, server.Options{Logger: logging.Discard()}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	connect := func(name string) (*Client, *Handler, string) {
		c := NewClient(url)
		require.NoError(t, c.Connect(ctx))
		h := NewHandler(c)
		go h.Start()

		var id string
		select {
		case id = <-h.Welcome:
		case <-time.After(5 * time.Second):
			t.Fatal("no welcome")
		}
		require.NoError(t, c.Join(name))
		return c, h, id
	}

	next := func(h *Handler, typ string) *Event {
		t.Helper()
		select {
		case ev, ok := <-h.Events:
			require.True(t, ok)
			require.Equal(t, typ, ev.Type)
			return ev
		case <-time.After(5 * time.Second):
			t.Fatalf("no %s event", typ)
		}
		return nil
	}

	alice, aliceH, aliceID := connect("alice")
	defer alice.Close()
	next(aliceH, MessageTypeUpdateUserList)

	bob, bobH, bobID := connect("bob")
	defer bob.Close()

	roster := next(bobH, MessageTypeUpdateUserList).Roster
	assert.Equal(t, []Participant{{ID: aliceID, Name: "alice"}, {ID: bobID, Name: "bob"}}, roster)
	assert.Equal(t, roster, next(aliceH, MessageTypeUpdateUserList).Roster)

	fetched, err := FetchRoster(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, roster, fetched)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\n"}
	require.NoError(t, alice.SendOffer(bobID, offer))

	got := next(bobH, MessageTypeOffer).Offer
	assert.Equal(t, aliceID, got.CallerID)
	assert.Equal(t, offer, got.SDP)

	require.NoError(t, bob.SendAnswer(aliceID, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}))
	answer := next(aliceH, MessageTypeAnswer).Answer
	assert.Equal(t, bobID, answer.ResponderID)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.SDP.Type)

	bob.Close()
	assert.Equal(t, []Participant{{ID: aliceID, Name: "alice"}}, next(aliceH, MessageTypeUpdateUserList).Roster)
	assert.ErrorIs(t, bob.SendChat("late"), ErrClosed)
}

func TestRosterURL(t *testing.T) {
	cases := map[string]string{
		"ws://localhost:8080/ws":          "http://localhost:8080/roster",
		"wss://relay.example.com/ws?x=1":  "https://relay.example.com/roster",
		"http://127.0.0.1:9000/somewhere": "http://127.0.0.1:9000/roster",
	}
	for in, want := range cases {
		got, err := RosterURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := RosterURL("ftp://relay")
	assert.Error(t, err)
}
