package storage

import "github.com/jackc/pgx/v4"

type participantRow struct {
	chatID   int64
	userID   string
	position int
}

type participantBulk struct {
	rows []participantRow
	idx  int
}

func copyFromParticipants(rows []participantRow) pgx.CopyFromSource {
	return &participantBulk{
		rows: rows,
		idx:  -1,
	}
}

func (pb *participantBulk) Next() bool {
	pb.idx++
	return pb.idx < len(pb.rows)
}

func (pb *participantBulk) Values() ([]interface{}, error) {
	row := pb.rows[pb.idx]
	return []interface{}{row.chatID, row.userID, row.position}, nil
}

func (pb *participantBulk) Err() error {
	return nil
}
