package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
)

type CreateUserParams struct {
	Name           string
	Email          string
	PasswordHash   string
	Role           Role
	OrganizationID string
	Status         UserStatus
	// ChildIDs is only meaningful for guardians.
	ChildIDs []string
}

// CreateUser creates a user record and, for guardians, the child links.
func (s *Store) CreateUser(ctx context.Context, p CreateUserParams) (User, error) {
	s.logger.Debugf("Creating %s user (%s)", p.Role, p.Email)

	u := User{
		ID:             uuid.NewString(),
		Name:           p.Name,
		Email:          p.Email,
		PasswordHash:   p.PasswordHash,
		Role:           p.Role,
		OrganizationID: p.OrganizationID,
		Status:         p.Status,
		CreatedAt:      time.Now(),
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return User{}, err
	}
	defer tx.Rollback(context.Background())

	sql := `insert into users (id, name, email, password_hash, role, organization_id, status, created_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = tx.Exec(ctx, sql, u.ID, u.Name, u.Email, u.PasswordHash, u.Role, nullText(u.OrganizationID), u.Status, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}

	if p.Role == RoleGuardian {
		for _, childID := range p.ChildIDs {
			_, err = tx.Exec(ctx, `insert into guardian_children (guardian_id, student_id) values ($1, $2)`, u.ID, childID)
			if err != nil {
				return User{}, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}

	attachVariant(&u, p.ChildIDs)

	s.logger.Debugf("Created user (%s) with id %s", u.Email, u.ID)

	return u, nil
}

// UserByEmail resolves a user including the role variant payload.
func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.userBy(ctx, "email = $1", email)
}

// UserByID resolves a user including the role variant payload.
func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	return s.userBy(ctx, "id = $1", id)
}

func (s *Store) userBy(ctx context.Context, cond string, arg interface{}) (User, error) {
	sql := `select id::text, name, email, password_hash, role, coalesce(organization_id::text, ''), status, created_at
			  from users where ` + cond

	var u User
	err := s.db.QueryRow(ctx, sql, arg).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.OrganizationID, &u.Status, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotExist
		}
		return User{}, err
	}

	var childIDs []string
	if u.Role == RoleGuardian {
		childIDs, err = s.guardianChildren(ctx, u.ID)
		if err != nil {
			return User{}, err
		}
	}
	attachVariant(&u, childIDs)

	return u, nil
}

func (s *Store) guardianChildren(ctx context.Context, guardianID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `select student_id::text from guardian_children where guardian_id = $1`, guardianID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// attachVariant selects the role payload by the role tag so optional fields
// do not leak across roles.
func attachVariant(u *User, childIDs []string) {
	switch u.Role {
	case RoleGuardian:
		u.Guardian = &GuardianData{ChildIDs: childIDs}
	case RoleTeacher:
		u.Teacher = &TeacherData{OrganizationID: u.OrganizationID}
	case RoleOrganizationAdmin:
		u.OrgAdmin = &OrganizationAdminData{OrganizationID: u.OrganizationID}
	}
}

// ActivateUser flips a pending account to active after code verification.
func (s *Store) ActivateUser(ctx context.Context, email string) error {
	tag, err := s.db.Exec(ctx, `update users set status = $2 where email = $1`, email, UserStatusActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotExist
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (s *Store) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	tag, err := s.db.Exec(ctx, `update users set password_hash = $2 where email = $1`, email, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotExist
	}
	return nil
}
