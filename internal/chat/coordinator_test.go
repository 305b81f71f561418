package chat

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guardianlink/internal/storage"
	helpers "guardianlink/internal/testing"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *memStore) {
	t.Helper()
	store := newMemStore()
	return NewCoordinator(zap.NewNop().Sugar(), store, store), store
}

// drain pops every buffered event off the client.
func drain(c *Client) []Event {
	var out []Event
	for {
		select {
		case ev := <-c.send:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func sendFrame(t *testing.T, co *Coordinator, c *Client, raw string) {
	t.Helper()
	co.dispatch(context.Background(), c, []byte(raw))
}

func TestIdentify(t *testing.T) {
	co, _ := newTestCoordinator(t)
	c := newClient(nil)

	sendFrame(t, co, c, `{"event":"identify_user","data":"alice"}`)

	events := drain(c)
	require.Len(t, events, 1)
	require.Equal(t, EventUserIdentified, events[0].Event)

	got, ok := co.presence.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, c, got)
}

func TestIdentifyUpgradesUndelivered(t *testing.T) {
	co, store := newTestCoordinator(t)
	ctx := context.Background()

	chat, err := co.GetOrCreateChat(ctx, []string{"alice", "bob"})
	require.NoError(t, err)

	msg, err := store.AppendMessage(ctx, storage.AppendMessageParams{ChatID: chat.ChatID, Sender: "alice", Body: "hi"})
	require.NoError(t, err)
	require.Equal(t, storage.StatusNotDelivered, msg.Status)

	read, err := store.AppendMessage(ctx, storage.AppendMessageParams{ChatID: chat.ChatID, Sender: "alice", Body: "old"})
	require.NoError(t, err)
	_, err = store.MarkRead(ctx, read.ID)
	require.NoError(t, err)

	bob := newClient(nil)
	sendFrame(t, co, bob, `{"event":"identify_user","data":"bob"}`)
	drain(bob)

	messages, err := store.MessagesByChat(ctx, chat.ChatID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, storage.StatusDelivered, messages[0].Status)
	// read never regresses to delivered
	require.Equal(t, storage.StatusRead, messages[1].Status)
}

func TestIdentifyRequiresUserID(t *testing.T) {
	co, _ := newTestCoordinator(t)
	c := newClient(nil)

	sendFrame(t, co, c, `{"event":"identify_user"}`)

	events := drain(c)
	require.Len(t, events, 1)
	require.Equal(t, EventError, events[0].Event)
}

func TestGetOrCreateChatIsIdempotent(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()

	first, err := co.GetOrCreateChat(ctx, []string{"bob", "alice"})
	require.NoError(t, err)

	// Reversed participant order must converge on the same chat.
	second, err := co.GetOrCreateChat(ctx, helpers.ReverseIDs([]string{"bob", "alice"}))
	require.NoError(t, err)
	require.Equal(t, first.ChatID, second.ChatID)
}

func TestSendMessageStatusDependsOnPresence(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()

	chat, err := co.GetOrCreateChat(ctx, []string{"alice", "bob"})
	require.NoError(t, err)

	alice := newClient(nil)
	alice.userID = "alice"
	co.presence.Register("alice", alice)
	co.rooms.join(chat.ChatID, alice)

	// bob offline: stored as not delivered
	sendFrame(t, co, alice, `{"event":"send_message","data":{"sender":"alice","chatId":"`+chat.ChatID+`","message":"hi"}}`)

	events := drain(alice)
	require.Len(t, events, 1)
	require.Equal(t, EventReceiveMessage, events[0].Event)
	msg := events[0].Data.(storage.Message)
	require.Equal(t, storage.StatusNotDelivered, msg.Status)

	// bob online but not viewing the chat: delivered plus a point-to-point
	// delivery notice
	bob := newClient(nil)
	bob.userID = "bob"
	co.presence.Register("bob", bob)

	sendFrame(t, co, alice, `{"event":"send_message","data":{"sender":"alice","chatId":"`+chat.ChatID+`","message":"hi again"}}`)

	events = drain(alice)
	require.Len(t, events, 1)
	msg = events[0].Data.(storage.Message)
	require.Equal(t, storage.StatusDelivered, msg.Status)

	bobEvents := drain(bob)
	require.Len(t, bobEvents, 1)
	require.Equal(t, EventMessageDelivered, bobEvents[0].Event)
}

func TestSendMessageToUnknownChat(t *testing.T) {
	co, store := newTestCoordinator(t)
	c := newClient(nil)

	sendFrame(t, co, c, `{"event":"send_message","data":{"sender":"alice","chatId":"nope","message":"hi"}}`)

	events := drain(c)
	require.Len(t, events, 1)
	require.Equal(t, EventError, events[0].Event)
	require.Empty(t, store.messages)
}

func TestSendMessageSurvivesSenderAbsence(t *testing.T) {
	// The sender is neither identified nor room-subscribed; the append still
	// happens.
	co, store := newTestCoordinator(t)
	ctx := context.Background()

	chat, err := co.GetOrCreateChat(ctx, []string{"alice", "bob"})
	require.NoError(t, err)

	c := newClient(nil)
	sendFrame(t, co, c, `{"event":"send_message","data":{"sender":"alice","chatId":"`+chat.ChatID+`","message":"hi"}}`)

	require.Empty(t, drain(c))
	messages, err := store.MessagesByChat(ctx, chat.ChatID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, storage.StatusNotDelivered, messages[0].Status)
}

func TestJoinChatZeroesUnread(t *testing.T) {
	co, store := newTestCoordinator(t)
	ctx := context.Background()

	chat, err := co.GetOrCreateChat(ctx, []string{"alice", "bob"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := store.AppendMessage(ctx, storage.AppendMessageParams{ChatID: chat.ChatID, Sender: "alice", Body: "hi"})
		require.NoError(t, err)
	}

	unread, err := store.CountUnread(ctx, chat.ChatID, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 3, unread)

	bob := newClient(nil)
	bob.userID = "bob"
	sendFrame(t, co, bob, `{"event":"join_chat","data":{"chatId":"`+chat.ChatID+`","userId":"bob"}}`)

	unread, err = store.CountUnread(ctx, chat.ChatID, "bob")
	require.NoError(t, err)
	require.Zero(t, unread)

	events := drain(bob)
	require.Len(t, events, 1)
	require.Equal(t, EventMessagesRead, events[0].Event)
}

func TestJoinChatSkipsBroadcastWhenNothingUnread(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()

	chat, err := co.GetOrCreateChat(ctx, []string{"alice", "bob"})
	require.NoError(t, err)

	bob := newClient(nil)
	bob.userID = "bob"
	sendFrame(t, co, bob, `{"event":"join_chat","data":{"chatId":"`+chat.ChatID+`","userId":"bob"}}`)

	require.Empty(t, drain(bob))
	require.True(t, co.rooms.contains(chat.ChatID, bob))
}

func TestMessagesKeepCreationOrder(t *testing.T) {
	co, store := newTestCoordinator(t)
	ctx := context.Background()

	chat, err := co.GetOrCreateChat(ctx, []string{"alice", "bob"})
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < 5; i++ {
		sender := "alice"
		if i%2 == 1 {
			sender = "bob"
		}
		msg, err := store.AppendMessage(ctx, storage.AppendMessageParams{ChatID: chat.ChatID, Sender: sender, Body: strconv.Itoa(i)})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	messages, err := store.MessagesByChat(ctx, chat.ChatID)
	require.NoError(t, err)
	require.Len(t, messages, len(ids))
	for i, msg := range messages {
		require.Equal(t, ids[i], msg.ID)
		if i > 0 {
			// creation time never decreases; equal timestamps fall back to
			// the insertion sequence id
			require.False(t, msg.CreatedAt.Before(messages[i-1].CreatedAt))
			require.Greater(t, msg.ID, messages[i-1].ID)
		}
	}

	// a second read returns the same sequence
	again, err := store.MessagesByChat(ctx, chat.ChatID)
	require.NoError(t, err)
	require.Equal(t, messages, again)
}

func TestMessageReadBroadcastsStatusUpdate(t *testing.T) {
	co, store := newTestCoordinator(t)
	ctx := context.Background()

	chat, err := co.GetOrCreateChat(ctx, []string{"alice", "bob"})
	require.NoError(t, err)

	msg, err := store.AppendMessage(ctx, storage.AppendMessageParams{ChatID: chat.ChatID, Sender: "alice", Body: "hi", Delivered: true})
	require.NoError(t, err)

	alice := newClient(nil)
	co.rooms.join(chat.ChatID, alice)

	bob := newClient(nil)
	sendFrame(t, co, bob, `{"event":"message_read","data":`+strconv.FormatInt(msg.ID, 10)+`}`)

	events := drain(alice)
	require.Len(t, events, 1)
	require.Equal(t, EventMessageStatusUpdate, events[0].Event)

	stored, err := store.MarkRead(ctx, msg.ID)
	require.NoError(t, err)
	require.Equal(t, storage.StatusRead, stored.Status)
}

func TestGroupChatAuthorization(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := co.CreateGroupChat(ctx, "gina", storage.RoleGuardian, "Class 3B", []string{"gina"})
	require.ErrorIs(t, err, ErrForbidden)

	group, err := co.CreateGroupChat(ctx, "tina", storage.RoleTeacher, "Class 3B", []string{"alice"})
	require.NoError(t, err)
	require.Equal(t, "tina", group.OwnerID)
	require.True(t, group.HasParticipant("tina"))

	// participants can rename
	renamed, err := co.RenameGroup(ctx, "alice", group.ChatID, "Class 3C")
	require.NoError(t, err)
	require.Equal(t, "Class 3C", renamed.Name)

	// outsiders cannot
	_, err = co.RenameGroup(ctx, "mallory", group.ChatID, "Hijacked")
	require.ErrorIs(t, err, ErrForbidden)

	// duplicate adds rejected as a whole
	_, err = co.AddUsersToGroup(ctx, "tina", group.ChatID, []string{"bob", "alice"})
	require.ErrorIs(t, err, storage.ErrAlreadyParticipant)

	// removal and deletion are owner-only
	_, err = co.RemoveUserFromGroup(ctx, "alice", group.ChatID, "alice")
	require.ErrorIs(t, err, ErrForbidden)
	_, err = co.RemoveUserFromGroup(ctx, "tina", group.ChatID, "alice")
	require.NoError(t, err)

	require.ErrorIs(t, co.DeleteGroup(ctx, "alice", group.ChatID), ErrForbidden)
	require.NoError(t, co.DeleteGroup(ctx, "tina", group.ChatID))
}

func TestUnknownEvent(t *testing.T) {
	co, _ := newTestCoordinator(t)
	c := newClient(nil)

	sendFrame(t, co, c, `{"event":"dance"}`)

	events := drain(c)
	require.Len(t, events, 1)
	require.Equal(t, EventError, events[0].Event)
}
