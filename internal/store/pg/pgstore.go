package pg

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/scope"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, for tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// accountColumns maps scope fields onto account table columns. "exists" is a
// reserved word in SQL, hence record_exists.
var accountColumns = map[string]string{
	scope.FieldID:           "id",
	scope.FieldRoleID:       "role_id",
	scope.FieldClientID:     "client_id",
	scope.FieldDepartmentID: "department_id",
	scope.FieldActive:       "active",
	scope.FieldExists:       "record_exists",
}

// whereClause renders the constraint set as SQL. The same clause backs both
// the page query and the count so they can never disagree. Placeholders start
// at $1 plus len(args).
func whereClause(cs scope.ConstraintSet, args []any) (string, []any, error) {
	if cs.MatchesNothing() {
		return "false", args, nil
	}
	var conds []string
	for _, p := range cs.Predicates() {
		col, ok := accountColumns[p.Field]
		if !ok {
			return "", nil, fmt.Errorf("pg: no column for scope field %q", p.Field)
		}
		switch p.Op {
		case scope.OpEq:
			args = append(args, p.Values[0])
			conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
		case scope.OpIn:
			ph := make([]string, 0, len(p.Values))
			for _, v := range p.Values {
				args = append(args, v)
				ph = append(ph, fmt.Sprintf("$%d", len(args)))
			}
			conds = append(conds, fmt.Sprintf("%s in (%s)", col, strings.Join(ph, ",")))
		}
	}
	if len(conds) == 0 {
		return "true", args, nil
	}
	return strings.Join(conds, " and "), args, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
