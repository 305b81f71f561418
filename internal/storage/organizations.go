package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
)

type CreateOrganizationParams struct {
	Name      string
	Address   Address
	CreatedBy string
}

func (s *Store) CreateOrganization(ctx context.Context, p CreateOrganizationParams) (Organization, error) {
	s.logger.Debugf("Creating organization (%s)", p.Name)

	o := Organization{
		ID:        uuid.NewString(),
		Name:      p.Name,
		Address:   p.Address,
		CreatedBy: p.CreatedBy,
		CreatedAt: time.Now(),
	}

	sql := `insert into organizations (id, name, street, city, state, country, postal_code, created_by, created_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.Exec(ctx, sql, o.ID, o.Name,
		nullText(o.Address.Street), nullText(o.Address.City), nullText(o.Address.State),
		nullText(o.Address.Country), nullText(o.Address.PostalCode),
		o.CreatedBy, o.CreatedAt)
	if err != nil {
		return Organization{}, err
	}

	return o, nil
}

func (s *Store) OrganizationByID(ctx context.Context, id string) (Organization, error) {
	sql := `select id::text, name,
				   coalesce(street, ''), coalesce(city, ''), coalesce(state, ''),
				   coalesce(country, ''), coalesce(postal_code, ''),
				   created_by::text, created_at
			  from organizations where id = $1`

	var o Organization
	err := s.db.QueryRow(ctx, sql, id).Scan(&o.ID, &o.Name,
		&o.Address.Street, &o.Address.City, &o.Address.State,
		&o.Address.Country, &o.Address.PostalCode,
		&o.CreatedBy, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Organization{}, ErrOrgNotExist
		}
		return Organization{}, err
	}
	return o, nil
}
