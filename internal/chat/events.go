package chat

import (
	"errors"

	"github.com/valyala/fastjson"

	"guardianlink/internal/storage"
)

// Client -> server events.
const (
	EventIdentifyUser = "identify_user"
	EventGetUsers     = "get_users"
	EventJoinChat     = "join_chat"
	EventLeaveChat    = "leave_chat"
	EventSendMessage  = "send_message"
	EventMessageRead  = "message_read"
)

// Server -> client events.
const (
	EventUserIdentified      = "user_identified"
	EventSendUsers           = "send_users"
	EventReceiveMessage      = "receive_message"
	EventMessageDelivered    = "message_delivered"
	EventMessagesRead        = "messages_read"
	EventMessageStatusUpdate = "message_status_update"
	EventError               = "error"
)

// Event is a single frame on the realtime channel, both directions.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

func errorEvent(msg string) Event {
	return Event{Event: EventError, Data: map[string]string{"message": msg}}
}

type sendMessagePayload struct {
	Sender     string
	ChatID     string
	Body       string
	Attachment *storage.Attachment
}

// parseSendMessage validates the send_message payload. Missing chat or
// sender ids, or a message with neither body nor attachment, are rejected
// before any state is touched.
func parseSendMessage(v *fastjson.Value) (sendMessagePayload, error) {
	p := sendMessagePayload{
		Sender: string(v.GetStringBytes("sender")),
		ChatID: string(v.GetStringBytes("chatId")),
		Body:   string(v.GetStringBytes("message")),
	}
	if p.Sender == "" {
		return p, errors.New(`missing field "sender"`)
	}
	if p.ChatID == "" {
		return p, errors.New(`missing field "chatId"`)
	}

	if fileURL := string(v.GetStringBytes("fileUrl")); fileURL != "" {
		p.Attachment = &storage.Attachment{
			URL:      fileURL,
			MimeType: string(v.GetStringBytes("fileType")),
			FileName: string(v.GetStringBytes("fileName")),
			Size:     v.GetInt64("fileSize"),
		}
	}

	if p.Body == "" && p.Attachment == nil {
		return p, errors.New(`missing field "message"`)
	}

	return p, nil
}
