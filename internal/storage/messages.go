package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
)

type AppendMessageParams struct {
	ChatID     string
	Sender     string
	Body       string
	Attachment *Attachment
	// Delivered reflects the transport outcome at send time: true when at
	// least one other participant was reachable. The status is fixed here at
	// creation and only ever upgraded afterwards.
	Delivered bool
}

// AppendMessage persists a message with its initial status. The write does
// not depend on the originating connection staying open; the message either
// exists with its status or not at all.
func (s *Store) AppendMessage(ctx context.Context, p AppendMessageParams) (Message, error) {
	s.logger.Debugf("Appending message from user (%s) in chat (%s)", p.Sender, p.ChatID)

	m := Message{
		ChatID:     p.ChatID,
		Sender:     p.Sender,
		Body:       p.Body,
		Attachment: p.Attachment,
		Status:     StatusNotDelivered,
		CreatedAt:  time.Now(),
	}
	if p.Delivered {
		m.Status = StatusDelivered
	}

	var fileURL, fileType, fileName interface{}
	var fileSize interface{}
	if p.Attachment != nil {
		fileURL = p.Attachment.URL
		fileType = p.Attachment.MimeType
		fileName = p.Attachment.FileName
		fileSize = p.Attachment.Size
	}

	sql := `insert into messages (chat_id, sender_id, body, file_url, file_type, file_name, file_size, status, created_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9) returning id`
	err := s.db.QueryRow(ctx, sql, p.ChatID, p.Sender, p.Body, fileURL, fileType, fileName, fileSize, m.Status, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return Message{}, err
	}

	return m, nil
}

// MessagesByChat returns the full chat history sorted by creation time, ties
// broken by the insertion sequence id.
func (s *Store) MessagesByChat(ctx context.Context, chatID string) ([]Message, error) {
	s.logger.Debugf("Retrieving messages for chat (%s)", chatID)

	sql := `select id, chat_id, sender_id::text, body, file_url, file_type, file_name, file_size, status, created_at
			  from messages
			 where chat_id = $1
			 order by created_at asc, id asc`

	rows, err := s.db.Query(ctx, sql, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}

// MarkAllDelivered upgrades every undelivered message addressed to the user
// across all their chats. Runs when the user comes online; messages already
// delivered or read are untouched.
func (s *Store) MarkAllDelivered(ctx context.Context, forUser string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		update messages set status = $2
		 where sender_id <> $1
		   and status < $2
		   and chat_id in (
				select c.chat_id
				  from chats c
				  join chat_participants cp on cp.chat_id = c.id
				 where cp.user_id = $1)`,
		forUser, StatusDelivered)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkRead upgrades a message to read.
func (s *Store) MarkRead(ctx context.Context, messageID int64) (Message, error) {
	return s.upgradeStatus(ctx, messageID, StatusRead)
}

func (s *Store) upgradeStatus(ctx context.Context, messageID int64, status MessageStatus) (Message, error) {
	_, err := s.db.Exec(ctx, `update messages set status = $2 where id = $1 and status < $2`, messageID, status)
	if err != nil {
		return Message{}, err
	}
	return s.messageByID(ctx, messageID)
}

func (s *Store) messageByID(ctx context.Context, messageID int64) (Message, error) {
	sql := `select id, chat_id, sender_id::text, body, file_url, file_type, file_name, file_size, status, created_at
			  from messages where id = $1`

	row := s.db.QueryRow(ctx, sql, messageID)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotExist
		}
		return Message{}, err
	}
	return m, nil
}

// MarkAllRead bulk-upgrades every message in the chat not sent by exceptSender
// to read, regardless of whether it ever reached delivered. Returns the
// number of upgraded messages.
func (s *Store) MarkAllRead(ctx context.Context, chatID, exceptSender string) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`update messages set status = $3 where chat_id = $1 and sender_id <> $2 and status < $3`,
		chatID, exceptSender, StatusRead)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountUnread counts messages in the chat addressed to forUser that they have
// not read yet.
func (s *Store) CountUnread(ctx context.Context, chatID, forUser string) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx,
		`select count(*) from messages where chat_id = $1 and sender_id <> $2 and status < $3`,
		chatID, forUser, StatusRead).Scan(&count)
	return count, err
}

func (s *Store) lastMessage(ctx context.Context, chatID string) (*Message, error) {
	sql := `select id, chat_id, sender_id::text, body, file_url, file_type, file_name, file_size, status, created_at
			  from messages
			 where chat_id = $1
			 order by created_at desc, id desc
			 limit 1`

	row := s.db.QueryRow(ctx, sql, chatID)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	var fileURL, fileType, fileName *string
	var fileSize *int64

	err := row.Scan(&m.ID, &m.ChatID, &m.Sender, &m.Body, &fileURL, &fileType, &fileName, &fileSize, &m.Status, &m.CreatedAt)
	if err != nil {
		return Message{}, err
	}

	if fileURL != nil {
		m.Attachment = &Attachment{URL: *fileURL}
		if fileType != nil {
			m.Attachment.MimeType = *fileType
		}
		if fileName != nil {
			m.Attachment.FileName = *fileName
		}
		if fileSize != nil {
			m.Attachment.Size = *fileSize
		}
	}

	return m, nil
}
