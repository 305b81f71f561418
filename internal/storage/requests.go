package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
)

// CreateRequest records a teacher's link invitation to a guardian.
func (s *Store) CreateRequest(ctx context.Context, teacherID, guardianID, message string) (Request, error) {
	s.logger.Debugf("Creating request from teacher (%s) to guardian (%s)", teacherID, guardianID)

	r := Request{
		TeacherID:  teacherID,
		GuardianID: guardianID,
		Status:     RequestPending,
		Message:    message,
		CreatedAt:  time.Now(),
	}

	sql := `insert into requests (teacher_id, guardian_id, status, message, created_at)
			values ($1, $2, $3, $4, $5) returning id`
	err := s.db.QueryRow(ctx, sql, teacherID, guardianID, r.Status, nullText(message), r.CreatedAt).Scan(&r.ID)
	if err != nil {
		return Request{}, err
	}

	return r, nil
}

// RequestsByGuardian lists a guardian's requests, optionally filtered by
// status, oldest first.
func (s *Store) RequestsByGuardian(ctx context.Context, guardianID string, status RequestStatus) ([]Request, error) {
	sql := `select id, teacher_id::text, guardian_id::text, status, coalesce(message, ''), created_at
			  from requests
			 where guardian_id = $1 and ($2 = '' or status = $2)
			 order by created_at asc`

	rows, err := s.db.Query(ctx, sql, guardianID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []Request
	for rows.Next() {
		var r Request
		if err := rows.Scan(&r.ID, &r.TeacherID, &r.GuardianID, &r.Status, &r.Message, &r.CreatedAt); err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func (s *Store) RequestByID(ctx context.Context, id int64) (Request, error) {
	sql := `select id, teacher_id::text, guardian_id::text, status, coalesce(message, ''), created_at
			  from requests where id = $1`

	var r Request
	err := s.db.QueryRow(ctx, sql, id).Scan(&r.ID, &r.TeacherID, &r.GuardianID, &r.Status, &r.Message, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrRequestNotExist
		}
		return Request{}, err
	}
	return r, nil
}

// SettleRequest moves a pending request to accepted or rejected. Settled
// requests never transition again.
func (s *Store) SettleRequest(ctx context.Context, id int64, status RequestStatus) (Request, error) {
	sql := `update requests set status = $2
			 where id = $1 and status = 'pending'
			returning id, teacher_id::text, guardian_id::text, status, coalesce(message, ''), created_at`

	var r Request
	err := s.db.QueryRow(ctx, sql, id, status).Scan(&r.ID, &r.TeacherID, &r.GuardianID, &r.Status, &r.Message, &r.CreatedAt)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Request{}, err
	}

	if _, err := s.RequestByID(ctx, id); err != nil {
		return Request{}, err
	}
	return Request{}, ErrRequestSettled
}
