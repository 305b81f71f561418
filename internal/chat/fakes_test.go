package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guardianlink/internal/storage"
)

// memStore is an in-memory ChatStore and MessageStore for coordinator tests.
type memStore struct {
	mu       sync.Mutex
	seq      int64
	chats    map[string]storage.Chat
	pairs    map[string]string
	messages []*storage.Message
}

func newMemStore() *memStore {
	return &memStore{
		chats: make(map[string]storage.Chat),
		pairs: make(map[string]string),
	}
}

func (m *memStore) CreateChat(_ context.Context, p storage.CreateChatParams) (storage.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	participants := storage.CanonicalParticipants(p.Participants)
	if p.Type == storage.ChatTypePrivate {
		if _, ok := m.pairs[storage.PairKey(participants)]; ok {
			return storage.Chat{}, storage.ErrChatExists
		}
	}

	m.seq++
	c := storage.Chat{
		ID:           m.seq,
		ChatID:       fmt.Sprintf("chat-%d", m.seq),
		Type:         p.Type,
		Name:         p.Name,
		OwnerID:      p.OwnerID,
		Participants: participants,
		CreatedAt:    time.Now(),
	}
	m.chats[c.ChatID] = c
	if p.Type == storage.ChatTypePrivate {
		m.pairs[storage.PairKey(participants)] = c.ChatID
	}
	return c, nil
}

func (m *memStore) FindChat(_ context.Context, chatID string) (storage.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return storage.Chat{}, storage.ErrChatNotExist
	}
	return c, nil
}

func (m *memStore) FindPrivateChat(_ context.Context, participants []string) (storage.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chatID, ok := m.pairs[storage.PairKey(participants)]
	if !ok {
		return storage.Chat{}, storage.ErrChatNotExist
	}
	return m.chats[chatID], nil
}

func (m *memStore) ChatsByUser(_ context.Context, userID string) ([]storage.ChatSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []storage.ChatSummary
	for _, c := range m.chats {
		if !c.HasParticipant(userID) {
			continue
		}
		s := storage.ChatSummary{Chat: c}
		for _, msg := range m.messages {
			if msg.ChatID != c.ChatID {
				continue
			}
			cp := *msg
			s.LastMessage = &cp
			if msg.Sender != userID && msg.Status != storage.StatusRead {
				s.UnreadCount++
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) AddParticipants(_ context.Context, chatID string, userIDs []string) (storage.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok {
		return storage.Chat{}, storage.ErrChatNotExist
	}
	if c.Type != storage.ChatTypeGroup {
		return storage.Chat{}, storage.ErrNotGroupChat
	}
	for _, userID := range userIDs {
		if c.HasParticipant(userID) {
			return storage.Chat{}, storage.ErrAlreadyParticipant
		}
	}
	c.Participants = append(c.Participants, userIDs...)
	m.chats[chatID] = c
	return c, nil
}

func (m *memStore) RemoveParticipant(_ context.Context, chatID, userID string) (storage.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok {
		return storage.Chat{}, storage.ErrChatNotExist
	}
	if c.Type != storage.ChatTypeGroup {
		return storage.Chat{}, storage.ErrNotGroupChat
	}
	for i, p := range c.Participants {
		if p == userID {
			c.Participants = append(c.Participants[:i], c.Participants[i+1:]...)
			m.chats[chatID] = c
			return c, nil
		}
	}
	return storage.Chat{}, storage.ErrNotParticipant
}

func (m *memStore) RenameChat(_ context.Context, chatID, name string) (storage.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok {
		return storage.Chat{}, storage.ErrChatNotExist
	}
	if c.Type != storage.ChatTypeGroup {
		return storage.Chat{}, storage.ErrNotGroupChat
	}
	c.Name = name
	m.chats[chatID] = c
	return c, nil
}

func (m *memStore) DeleteGroup(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok {
		return storage.ErrChatNotExist
	}
	if c.Type != storage.ChatTypeGroup {
		return storage.ErrNotGroupChat
	}
	delete(m.chats, chatID)
	return nil
}

func (m *memStore) AppendMessage(_ context.Context, p storage.AppendMessageParams) (storage.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := storage.StatusNotDelivered
	if p.Delivered {
		status = storage.StatusDelivered
	}

	m.seq++
	msg := &storage.Message{
		ID:         m.seq,
		ChatID:     p.ChatID,
		Sender:     p.Sender,
		Body:       p.Body,
		Attachment: p.Attachment,
		Status:     status,
		CreatedAt:  time.Now(),
	}
	m.messages = append(m.messages, msg)
	return *msg, nil
}

func (m *memStore) MessagesByChat(_ context.Context, chatID string) ([]storage.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []storage.Message
	for _, msg := range m.messages {
		if msg.ChatID == chatID {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *memStore) MarkRead(_ context.Context, messageID int64) (storage.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages {
		if msg.ID == messageID {
			if msg.Status < storage.StatusRead {
				msg.Status = storage.StatusRead
			}
			return *msg, nil
		}
	}
	return storage.Message{}, storage.ErrMessageNotExist
}

func (m *memStore) MarkAllDelivered(_ context.Context, forUser string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, msg := range m.messages {
		c, ok := m.chats[msg.ChatID]
		if !ok || !c.HasParticipant(forUser) {
			continue
		}
		if msg.Sender != forUser && msg.Status < storage.StatusDelivered {
			msg.Status = storage.StatusDelivered
			n++
		}
	}
	return n, nil
}

func (m *memStore) MarkAllRead(_ context.Context, chatID, exceptSender string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, msg := range m.messages {
		if msg.ChatID == chatID && msg.Sender != exceptSender && msg.Status < storage.StatusRead {
			msg.Status = storage.StatusRead
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountUnread(_ context.Context, chatID, forUser string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, msg := range m.messages {
		if msg.ChatID == chatID && msg.Sender != forUser && msg.Status != storage.StatusRead {
			n++
		}
	}
	return n, nil
}
