package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/accounts"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/scope"
)

var _ accounts.Store = (*Store)(nil)

const accountCols = `id, email, name, password_hash, role_id, role_name, client_id, department_id, active, record_exists, created_by, modified_by, created_at, updated_at`

func (s *Store) Insert(ctx context.Context, acc accounts.Account) error {
	_, err := s.db.ExecContext(ctx, `
		insert into accounts (`+accountCols+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, acc.ID, acc.Email, acc.Name, acc.PasswordHash, nullIfEmpty(acc.RoleID), acc.RoleName,
		nullIfEmpty(acc.ClientID), nullIfEmpty(acc.DepartmentID), acc.Active, acc.Exists,
		nullIfEmpty(acc.CreatedBy), nullIfEmpty(acc.ModifiedBy), acc.CreatedAt, acc.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return accounts.ErrEmailTaken
			case pgErrForeignKeyViolation:
				return accounts.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string, cs scope.ConstraintSet) (accounts.Account, error) {
	where, args, err := whereClause(cs, []any{id})
	if err != nil {
		return accounts.Account{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		select `+accountCols+`
		from accounts
		where id = $1 and `+where, args...)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return accounts.Account{}, accounts.ErrNotFound
	}
	if err != nil {
		return accounts.Account{}, err
	}
	return acc, nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (accounts.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+accountCols+`
		from accounts
		where email = $1
	`, strings.ToLower(email))
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return accounts.Account{}, accounts.ErrNotFound
	}
	if err != nil {
		return accounts.Account{}, err
	}
	return acc, nil
}

func (s *Store) List(ctx context.Context, cs scope.ConstraintSet, p accounts.Page) ([]accounts.Account, error) {
	p = p.Normalize()
	where, args, err := whereClause(cs, nil)
	if err != nil {
		return nil, err
	}
	args = append(args, p.Limit, p.Offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select `+accountCols+`
		from accounts
		where %s
		order by created_at desc, id
		limit $%d offset $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []accounts.Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) Count(ctx context.Context, cs scope.ConstraintSet) (int, error) {
	where, args, err := whereClause(cs, nil)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `select count(*) from accounts where `+where, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Transition locks the row, re-checks the caller's scope against the fresh
// record, applies the mutation and writes it back in one transaction. The row
// lock serializes concurrent transitions on the same account.
func (s *Store) Transition(ctx context.Context, id string, cs scope.ConstraintSet, mutate func(*accounts.Account) error) (accounts.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return accounts.Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		select `+accountCols+`
		from accounts
		where id = $1
		for update
	`, id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return accounts.Account{}, accounts.ErrNotFound
	}
	if err != nil {
		return accounts.Account{}, err
	}
	if !cs.Matches(acc.Field) {
		return accounts.Account{}, accounts.ErrNotFound
	}

	if err := mutate(&acc); err != nil {
		return accounts.Account{}, err
	}

	_, err = tx.ExecContext(ctx, `
		update accounts
		set email = $2, name = $3, password_hash = $4, role_id = $5, role_name = $6,
		    client_id = $7, department_id = $8, active = $9, record_exists = $10,
		    modified_by = $11, updated_at = $12
		where id = $1
	`, acc.ID, acc.Email, acc.Name, acc.PasswordHash, nullIfEmpty(acc.RoleID), acc.RoleName,
		nullIfEmpty(acc.ClientID), nullIfEmpty(acc.DepartmentID), acc.Active, acc.Exists,
		nullIfEmpty(acc.ModifiedBy), acc.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return accounts.Account{}, accounts.ErrEmailTaken
		}
		return accounts.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return accounts.Account{}, err
	}
	return acc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (accounts.Account, error) {
	var (
		acc                                      accounts.Account
		roleID, clientID, deptID, createdBy, mod sql.NullString
	)
	err := row.Scan(&acc.ID, &acc.Email, &acc.Name, &acc.PasswordHash, &roleID, &acc.RoleName,
		&clientID, &deptID, &acc.Active, &acc.Exists, &createdBy, &mod, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return accounts.Account{}, err
	}
	acc.RoleID = roleID.String
	acc.ClientID = clientID.String
	acc.DepartmentID = deptID.String
	acc.CreatedBy = createdBy.String
	acc.ModifiedBy = mod.String
	return acc, nil
}
