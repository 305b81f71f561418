package chat

import (
	"context"
	"errors"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"guardianlink/internal/storage"
)

// ErrForbidden is returned by group operations when the acting user lacks
// the required role or ownership.
var ErrForbidden = errors.New("operation not permitted")

// Coordinator owns the realtime side of the chat subsystem. It keeps the
// presence registry and room subscriptions, dispatches inbound frames, and
// drives the stores so that persistence never depends on who is connected.
type Coordinator struct {
	logger   *zap.SugaredLogger
	chats    ChatStore
	messages MessageStore
	presence *Registry
	rooms    *rooms

	framePool fastjson.ParserPool
}

func NewCoordinator(logger *zap.SugaredLogger, chats ChatStore, messages MessageStore) *Coordinator {
	return &Coordinator{
		logger:   logger,
		chats:    chats,
		messages: messages,
		presence: NewRegistry(),
		rooms:    newRooms(),
	}
}

// HandleConn serves a single websocket connection until it closes. Frames
// are processed one at a time in arrival order on this goroutine; writes go
// through the client's own write loop.
func (co *Coordinator) HandleConn(ctx context.Context, conn *websocket.Conn) {
	c := newClient(conn)
	go c.writeLoop()
	go c.keepAliveLoop()
	defer co.disconnect(c)

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		co.dispatch(ctx, c, raw)
	}
}

func (co *Coordinator) disconnect(c *Client) {
	co.presence.Unregister(c)
	co.rooms.dropClient(c)
	c.close()
}

func (co *Coordinator) dispatch(ctx context.Context, c *Client, raw []byte) {
	parser := co.framePool.Get()
	defer co.framePool.Put(parser)

	v, err := parser.ParseBytes(raw)
	if err != nil {
		c.push(errorEvent("malformed frame"))
		return
	}

	data := v.Get("data")

	switch event := string(v.GetStringBytes("event")); event {
	case EventIdentifyUser:
		co.handleIdentify(ctx, c, string(data.GetStringBytes()))
	case EventGetUsers:
		co.handleGetUsers(ctx, c, string(data.GetStringBytes()))
	case EventJoinChat:
		co.handleJoinChat(ctx, c, string(data.GetStringBytes("chatId")), string(data.GetStringBytes("userId")))
	case EventLeaveChat:
		co.handleLeaveChat(c, string(data.GetStringBytes()))
	case EventSendMessage:
		co.handleSendMessage(ctx, c, data)
	case EventMessageRead:
		co.handleMessageRead(ctx, c, data.GetInt64())
	default:
		c.push(errorEvent("unknown event"))
	}
}

func (co *Coordinator) handleIdentify(ctx context.Context, c *Client, userID string) {
	if userID == "" {
		c.push(errorEvent("user id is required"))
		return
	}

	// Re-identifying under a new id releases the old mapping first so it
	// does not keep pointing at this connection.
	if c.userID != "" && c.userID != userID {
		co.presence.Unregister(c)
	}
	c.userID = userID
	co.presence.Register(userID, c)

	// Everything sent while the user was offline is now deliverable. The
	// refreshed statuses reach clients with the next chat listing.
	if _, err := co.messages.MarkAllDelivered(ctx, userID); err != nil {
		co.logger.Errorw("upgrading undelivered messages", "user_id", userID, "error", err)
	}

	c.push(Event{Event: EventUserIdentified, Data: map[string]string{"userId": userID}})
}

func (co *Coordinator) handleGetUsers(ctx context.Context, c *Client, userID string) {
	if userID == "" {
		c.push(errorEvent("user id is required"))
		return
	}

	summaries, err := co.chats.ChatsByUser(ctx, userID)
	if err != nil {
		co.logger.Errorw("listing chats for user", "user_id", userID, "error", err)
		c.push(errorEvent("cannot list chats"))
		return
	}

	c.push(Event{Event: EventSendUsers, Data: summaries})
}

// handleJoinChat subscribes the client to the room and marks the backlog
// read in one stroke. The messages_read broadcast lets senders currently
// viewing the chat move their ticks without a per-message round trip.
func (co *Coordinator) handleJoinChat(ctx context.Context, c *Client, chatID, userID string) {
	if chatID == "" || userID == "" {
		c.push(errorEvent("chat id and user id are required"))
		return
	}

	if _, err := co.chats.FindChat(ctx, chatID); err != nil {
		if errors.Is(err, storage.ErrChatNotExist) {
			c.push(errorEvent("chat does not exist"))
			return
		}
		co.logger.Errorw("finding chat on join", "chat_id", chatID, "error", err)
		c.push(errorEvent("cannot join chat"))
		return
	}

	co.rooms.join(chatID, c)

	n, err := co.messages.MarkAllRead(ctx, chatID, userID)
	if err != nil {
		co.logger.Errorw("marking chat read on join", "chat_id", chatID, "user_id", userID, "error", err)
		return
	}
	if n > 0 {
		co.rooms.broadcast(chatID, Event{Event: EventMessagesRead, Data: map[string]string{"chatId": chatID}})
	}
}

func (co *Coordinator) handleLeaveChat(c *Client, chatID string) {
	if chatID == "" {
		c.push(errorEvent("chat id is required"))
		return
	}
	co.rooms.leave(chatID, c)
}

// handleSendMessage persists the message and fans it out. The stored status
// is decided before the append: delivered when at least one other
// participant is online, not delivered otherwise. It never changes because
// of what happens during the fan-out.
func (co *Coordinator) handleSendMessage(ctx context.Context, c *Client, data *fastjson.Value) {
	if data == nil {
		c.push(errorEvent("missing payload"))
		return
	}
	p, err := parseSendMessage(data)
	if err != nil {
		c.push(errorEvent(err.Error()))
		return
	}

	chat, err := co.chats.FindChat(ctx, p.ChatID)
	if err != nil {
		if errors.Is(err, storage.ErrChatNotExist) {
			c.push(errorEvent("chat does not exist"))
			return
		}
		co.logger.Errorw("finding chat on send", "chat_id", p.ChatID, "error", err)
		c.push(errorEvent("cannot send message"))
		return
	}

	delivered := false
	var counterpart *Client
	for _, participant := range chat.Participants {
		if participant == p.Sender {
			continue
		}
		if cl, ok := co.presence.Lookup(participant); ok {
			delivered = true
			if chat.Type == storage.ChatTypePrivate {
				counterpart = cl
			}
		}
	}

	msg, err := co.messages.AppendMessage(ctx, storage.AppendMessageParams{
		ChatID:     p.ChatID,
		Sender:     p.Sender,
		Body:       p.Body,
		Attachment: p.Attachment,
		Delivered:  delivered,
	})
	if err != nil {
		co.logger.Errorw("appending message", "chat_id", p.ChatID, "sender", p.Sender, "error", err)
		c.push(errorEvent("cannot send message"))
		return
	}
	messagesTotal.WithLabelValues(msg.Status.String()).Inc()

	co.rooms.broadcast(p.ChatID, Event{Event: EventReceiveMessage, Data: msg})

	// In a private chat the counterpart may be online without viewing the
	// chat. The room broadcast misses them, so the delivery notice goes
	// point to point.
	if counterpart != nil && !co.rooms.contains(p.ChatID, counterpart) {
		counterpart.push(Event{Event: EventMessageDelivered, Data: map[string]interface{}{
			"chatId":    p.ChatID,
			"messageId": msg.ID,
		}})
	}
}

func (co *Coordinator) handleMessageRead(ctx context.Context, c *Client, messageID int64) {
	if messageID == 0 {
		c.push(errorEvent("message id is required"))
		return
	}

	msg, err := co.messages.MarkRead(ctx, messageID)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotExist) {
			c.push(errorEvent("message does not exist"))
			return
		}
		co.logger.Errorw("marking message read", "message_id", messageID, "error", err)
		c.push(errorEvent("cannot mark message read"))
		return
	}

	co.rooms.broadcast(msg.ChatID, Event{Event: EventMessageStatusUpdate, Data: map[string]interface{}{
		"chatId":    msg.ChatID,
		"messageId": msg.ID,
		"status":    msg.Status,
	}})
}

// GetOrCreateChat returns the private chat for the participant pair,
// creating it on first use. Concurrent first-use calls converge on the same
// chat: a create that loses the race falls back to the winner's row.
func (co *Coordinator) GetOrCreateChat(ctx context.Context, participants []string) (storage.Chat, error) {
	if len(participants) < 2 {
		return storage.Chat{}, errors.New("a private chat needs two participants")
	}

	chat, err := co.chats.FindPrivateChat(ctx, participants)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, storage.ErrChatNotExist) {
		return storage.Chat{}, err
	}

	chat, err = co.chats.CreateChat(ctx, storage.CreateChatParams{
		Type:         storage.ChatTypePrivate,
		Participants: participants,
	})
	if errors.Is(err, storage.ErrChatExists) {
		return co.chats.FindPrivateChat(ctx, participants)
	}
	return chat, err
}

// CreateGroupChat creates a named group owned by the acting teacher. The
// actor is always a participant, whether or not the caller listed them.
func (co *Coordinator) CreateGroupChat(ctx context.Context, actorID string, actorRole storage.Role, name string, participants []string) (storage.Chat, error) {
	if actorRole != storage.RoleTeacher {
		return storage.Chat{}, ErrForbidden
	}
	if name == "" {
		return storage.Chat{}, errors.New("a group chat needs a name")
	}

	hasActor := false
	for _, p := range participants {
		if p == actorID {
			hasActor = true
			break
		}
	}
	if !hasActor {
		participants = append(participants, actorID)
	}

	return co.chats.CreateChat(ctx, storage.CreateChatParams{
		Type:         storage.ChatTypeGroup,
		Participants: participants,
		Name:         name,
		OwnerID:      actorID,
	})
}

// AddUsersToGroup lets any current participant grow the group.
func (co *Coordinator) AddUsersToGroup(ctx context.Context, actorID, chatID string, userIDs []string) (storage.Chat, error) {
	chat, err := co.chats.FindChat(ctx, chatID)
	if err != nil {
		return storage.Chat{}, err
	}
	if !chat.HasParticipant(actorID) {
		return storage.Chat{}, ErrForbidden
	}
	return co.chats.AddParticipants(ctx, chatID, userIDs)
}

// RenameGroup lets any current participant rename the group.
func (co *Coordinator) RenameGroup(ctx context.Context, actorID, chatID, name string) (storage.Chat, error) {
	if name == "" {
		return storage.Chat{}, errors.New("a group chat needs a name")
	}
	chat, err := co.chats.FindChat(ctx, chatID)
	if err != nil {
		return storage.Chat{}, err
	}
	if !chat.HasParticipant(actorID) {
		return storage.Chat{}, ErrForbidden
	}
	return co.chats.RenameChat(ctx, chatID, name)
}

// RemoveUserFromGroup is owner-only.
func (co *Coordinator) RemoveUserFromGroup(ctx context.Context, actorID, chatID, userID string) (storage.Chat, error) {
	chat, err := co.chats.FindChat(ctx, chatID)
	if err != nil {
		return storage.Chat{}, err
	}
	if chat.OwnerID != actorID {
		return storage.Chat{}, ErrForbidden
	}
	return co.chats.RemoveParticipant(ctx, chatID, userID)
}

// DeleteGroup is owner-only.
func (co *Coordinator) DeleteGroup(ctx context.Context, actorID, chatID string) error {
	chat, err := co.chats.FindChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.OwnerID != actorID {
		return ErrForbidden
	}
	return co.chats.DeleteGroup(ctx, chatID)
}
