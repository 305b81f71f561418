package chat

import (
	"context"

	"guardianlink/internal/storage"
)

// ChatStore is the persistence contract the coordinator consumes for chat
// entities. The store is a dumb persistence boundary; membership and
// ownership authorization live here in the chat package.
type ChatStore interface {
	FindChat(ctx context.Context, chatID string) (storage.Chat, error)
	FindPrivateChat(ctx context.Context, participants []string) (storage.Chat, error)
	CreateChat(ctx context.Context, p storage.CreateChatParams) (storage.Chat, error)
	ChatsByUser(ctx context.Context, userID string) ([]storage.ChatSummary, error)
	AddParticipants(ctx context.Context, chatID string, userIDs []string) (storage.Chat, error)
	RemoveParticipant(ctx context.Context, chatID, userID string) (storage.Chat, error)
	RenameChat(ctx context.Context, chatID, name string) (storage.Chat, error)
	DeleteGroup(ctx context.Context, chatID string) error
}

// MessageStore is the persistence contract for messages and their delivery
// status lifecycle.
type MessageStore interface {
	AppendMessage(ctx context.Context, p storage.AppendMessageParams) (storage.Message, error)
	MessagesByChat(ctx context.Context, chatID string) ([]storage.Message, error)
	MarkRead(ctx context.Context, messageID int64) (storage.Message, error)
	MarkAllRead(ctx context.Context, chatID, exceptSender string) (int64, error)
	MarkAllDelivered(ctx context.Context, forUser string) (int64, error)
	CountUnread(ctx context.Context, chatID, forUser string) (int64, error)
}
