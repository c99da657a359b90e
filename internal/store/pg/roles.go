package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/roles"
)

var _ roles.Store = (*Store)(nil)

func (s *Store) Find(ctx context.Context, id string) (roles.Record, error) {
	var rec roles.Record
	err := s.db.QueryRowContext(ctx, `
		select id, name, created_at
		from roles
		where id = $1
	`, id).Scan(&rec.ID, &rec.Name, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return roles.Record{}, roles.ErrNotFound
	}
	if err != nil {
		return roles.Record{}, err
	}
	return rec, nil
}

func (s *Store) FindByName(ctx context.Context, name string) (roles.Record, error) {
	var rec roles.Record
	err := s.db.QueryRowContext(ctx, `
		select id, name, created_at
		from roles
		where name = $1
	`, strings.ToLower(strings.TrimSpace(name))).Scan(&rec.ID, &rec.Name, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return roles.Record{}, roles.ErrNotFound
	}
	if err != nil {
		return roles.Record{}, err
	}
	return rec, nil
}

func (s *Store) ListByNames(ctx context.Context, names []string) ([]roles.Record, error) {
	if len(names) == 0 {
		return nil, nil
	}
	ph := make([]string, len(names))
	args := make([]any, len(names))
	for i, n := range names {
		ph[i] = fmt.Sprintf("$%d", i+1)
		args[i] = strings.ToLower(strings.TrimSpace(n))
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select id, name, created_at
		from roles
		where name in (%s)
		order by name
	`, strings.Join(ph, ",")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []roles.Record
	for rows.Next() {
		var rec roles.Record
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
