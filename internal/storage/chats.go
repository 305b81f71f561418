package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

// CanonicalParticipants returns a sorted copy of ids. A private chat is keyed
// by its unordered pair, so every lookup and insert goes through this first.
func CanonicalParticipants(ids []string) []string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return sorted
}

// PairKey builds the unique lookup key for a participant set.
func PairKey(ids []string) string {
	return strings.Join(CanonicalParticipants(ids), ":")
}

type CreateChatParams struct {
	Type         ChatType
	Participants []string
	Name         string
	OwnerID      string
}

// CreateChat performs a two-step transaction (insert chat record, bulk insert
// participants) and returns the created chat. The external chat_id is a fresh
// uuid, independent of the bigserial storage id, so it stays stable across
// migrations and doubles as the socket room key.
func (s *Store) CreateChat(ctx context.Context, p CreateChatParams) (Chat, error) {
	if len(p.Participants) == 0 {
		return Chat{}, errors.New("participants must not be empty")
	}

	participants := CanonicalParticipants(p.Participants)
	chatID := uuid.NewString()

	s.logger.Debugf("Creating %s chat (%s) with %d participants", p.Type, chatID, len(participants))

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Chat{}, err
	}
	defer tx.Rollback(context.Background())

	var key interface{}
	if p.Type == ChatTypePrivate {
		key = PairKey(participants)
	}

	chat := Chat{
		ChatID:       chatID,
		Type:         p.Type,
		Name:         p.Name,
		OwnerID:      p.OwnerID,
		Participants: participants,
		CreatedAt:    time.Now(),
	}

	sql := `insert into chats (chat_id, type, name, owner_id, pair_key, created_at)
			values ($1, $2, $3, $4, $5, $6) returning id`
	err = tx.QueryRow(ctx, sql, chatID, p.Type, nullText(p.Name), nullText(p.OwnerID), key, chat.CreatedAt).Scan(&chat.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return Chat{}, ErrChatExists
		}
		return Chat{}, err
	}

	rows := make([]participantRow, 0, len(participants))
	for i, userID := range participants {
		rows = append(rows, participantRow{chatID: chat.ID, userID: userID, position: i})
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"chat_participants"}, []string{"chat_id", "user_id", "position"}, copyFromParticipants(rows))
	if err != nil {
		return Chat{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Chat{}, err
	}

	s.logger.Debugf("Created chat (%s) with id %d", chatID, chat.ID)

	return chat, nil
}

// FindPrivateChat looks up the private chat for an unordered participant set.
func (s *Store) FindPrivateChat(ctx context.Context, participants []string) (Chat, error) {
	return s.findChatBy(ctx, "pair_key = $1", PairKey(participants))
}

// FindChat looks up a chat by its external chat_id.
func (s *Store) FindChat(ctx context.Context, chatID string) (Chat, error) {
	return s.findChatBy(ctx, "chat_id = $1", chatID)
}

func (s *Store) findChatBy(ctx context.Context, cond string, arg interface{}) (Chat, error) {
	sql := `select id, chat_id, type, coalesce(name, ''), coalesce(owner_id::text, ''), created_at
			  from chats where ` + cond

	var c Chat
	err := s.db.QueryRow(ctx, sql, arg).Scan(&c.ID, &c.ChatID, &c.Type, &c.Name, &c.OwnerID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Chat{}, ErrChatNotExist
		}
		return Chat{}, err
	}

	c.Participants, err = s.participants(ctx, c.ID)
	if err != nil {
		return Chat{}, err
	}

	return c, nil
}

func (s *Store) participants(ctx context.Context, id int64) ([]string, error) {
	sql := `select user_id::text from chat_participants where chat_id = $1 order by position`

	rows, err := s.db.Query(ctx, sql, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		out = append(out, userID)
	}
	return out, rows.Err()
}

// ChatsByUser returns every chat the user participates in, newest first, each
// annotated with its last message and the user's unread count. Annotations
// are computed here at read time; the messages table stays authoritative.
func (s *Store) ChatsByUser(ctx context.Context, userID string) ([]ChatSummary, error) {
	s.logger.Debugf("Retrieving chats for user (%s)", userID)

	sql := `select c.id,
				   c.chat_id,
				   c.type,
				   coalesce(c.name, ''),
				   coalesce(c.owner_id::text, ''),
				   c.created_at,
				   array_agg(cp.user_id::text order by cp.position) as participants
			  from chats c
			  join chat_participants cp
				on cp.chat_id = c.id
			 where c.id in (select chat_id from chat_participants where user_id = $1)
			 group by c.id, c.chat_id, c.type, c.name, c.owner_id, c.created_at
			 order by c.created_at desc`

	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []ChatSummary
	for rows.Next() {
		var c ChatSummary
		var participants pgtype.TextArray
		if err := rows.Scan(&c.ID, &c.ChatID, &c.Type, &c.Name, &c.OwnerID, &c.CreatedAt, &participants); err != nil {
			return nil, err
		}
		if err := participants.AssignTo(&c.Participants); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	for i := range chats {
		last, err := s.lastMessage(ctx, chats[i].ChatID)
		if err != nil {
			return nil, err
		}
		chats[i].LastMessage = last

		unread, err := s.CountUnread(ctx, chats[i].ChatID, userID)
		if err != nil {
			return nil, err
		}
		chats[i].UnreadCount = unread
	}

	s.logger.Debugf("Retrieved %d chats", len(chats))

	return chats, nil
}

// AddParticipants adds users to a group chat. Ids already present are
// rejected as a whole, leaving participants unchanged.
func (s *Store) AddParticipants(ctx context.Context, chatID string, userIDs []string) (Chat, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Chat{}, err
	}
	defer tx.Rollback(context.Background())

	var id int64
	var chatType ChatType
	err = tx.QueryRow(ctx, `select id, type from chats where chat_id = $1 for update`, chatID).Scan(&id, &chatType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Chat{}, ErrChatNotExist
		}
		return Chat{}, err
	}
	if chatType != ChatTypeGroup {
		return Chat{}, ErrNotGroupChat
	}

	current, err := s.participants(ctx, id)
	if err != nil {
		return Chat{}, err
	}
	present := make(map[string]struct{}, len(current))
	for _, p := range current {
		present[p] = struct{}{}
	}
	for _, userID := range userIDs {
		if _, ok := present[userID]; ok {
			return Chat{}, ErrAlreadyParticipant
		}
	}

	position := len(current)
	for _, userID := range userIDs {
		_, err = tx.Exec(ctx, `insert into chat_participants (chat_id, user_id, position) values ($1, $2, $3)`, id, userID, position)
		if err != nil {
			return Chat{}, err
		}
		position++
	}

	if err := tx.Commit(ctx); err != nil {
		return Chat{}, err
	}

	return s.FindChat(ctx, chatID)
}

// RemoveParticipant removes a user from a group chat.
func (s *Store) RemoveParticipant(ctx context.Context, chatID, userID string) (Chat, error) {
	chat, err := s.FindChat(ctx, chatID)
	if err != nil {
		return Chat{}, err
	}
	if chat.Type != ChatTypeGroup {
		return Chat{}, ErrNotGroupChat
	}

	tag, err := s.db.Exec(ctx, `delete from chat_participants where chat_id = $1 and user_id = $2`, chat.ID, userID)
	if err != nil {
		return Chat{}, err
	}
	if tag.RowsAffected() == 0 {
		return Chat{}, ErrNotParticipant
	}

	return s.FindChat(ctx, chatID)
}

// RenameChat renames a group chat.
func (s *Store) RenameChat(ctx context.Context, chatID, name string) (Chat, error) {
	tag, err := s.db.Exec(ctx, `update chats set name = $2 where chat_id = $1 and type = 'group'`, chatID, name)
	if err != nil {
		return Chat{}, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.FindChat(ctx, chatID); err != nil {
			return Chat{}, err
		}
		return Chat{}, ErrNotGroupChat
	}

	return s.FindChat(ctx, chatID)
}

// DeleteGroup removes a group chat and its membership rows. Messages keep
// their chat_id string reference and are not touched.
func (s *Store) DeleteGroup(ctx context.Context, chatID string) error {
	tag, err := s.db.Exec(ctx, `delete from chats where chat_id = $1 and type = 'group'`, chatID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.FindChat(ctx, chatID); err != nil {
			return err
		}
		return ErrNotGroupChat
	}
	return nil
}

func nullText(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
