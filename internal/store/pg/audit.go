package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/audit"
)

var _ audit.Store = (*Store)(nil)

// Append is the only write the audit table sees from this process. The table
// itself carries a trigger rejecting update and delete, so immutability holds
// even against stray SQL.
func (s *Store) Append(ctx context.Context, ev audit.Event) error {
	changes := []byte("{}")
	if len(ev.Changes) > 0 {
		b, err := json.Marshal(ev.Changes)
		if err != nil {
			return fmt.Errorf("marshal changes: %w", err)
		}
		changes = b
	}
	metadata := []byte("{}")
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = b
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_events (id, action, actor_id, actor_role, entity, entity_id, detail, changes, metadata, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, ev.ID, string(ev.Action), ev.ActorID, nullIfEmpty(ev.ActorRole), ev.Entity,
		nullIfEmpty(ev.EntityID), nullIfEmpty(ev.Detail), changes, metadata, ev.CreatedAt)
	return err
}

func (s *Store) Query(ctx context.Context, q audit.Query) ([]audit.Event, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = audit.DefaultQueryLimit
	}
	if limit > audit.MaxQueryLimit {
		limit = audit.MaxQueryLimit
	}

	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.ActorID != "" {
		add("actor_id = $%d", q.ActorID)
	}
	if q.Entity != "" {
		add("entity = $%d", q.Entity)
	}
	if q.EntityID != "" {
		add("entity_id = $%d", q.EntityID)
	}
	if q.Action != "" {
		add("action = $%d", string(q.Action))
	}
	if !q.From.IsZero() {
		add("created_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("created_at <= $%d", q.To)
	}
	where := "true"
	if len(conds) > 0 {
		where = strings.Join(conds, " and ")
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select id, action, actor_id, coalesce(actor_role,''), entity, coalesce(entity_id,''), coalesce(detail,''), changes, metadata, created_at
		from audit_events
		where %s
		order by created_at desc, id desc
		limit $%d
	`, where, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Event
	for rows.Next() {
		var (
			ev               audit.Event
			action           string
			changes, rawMeta []byte
		)
		if err := rows.Scan(&ev.ID, &action, &ev.ActorID, &ev.ActorRole, &ev.Entity, &ev.EntityID, &ev.Detail, &changes, &rawMeta, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Action = audit.Action(action)
		if len(changes) > 0 && string(changes) != "{}" {
			if err := json.Unmarshal(changes, &ev.Changes); err != nil {
				return nil, fmt.Errorf("decode changes: %w", err)
			}
		}
		if len(rawMeta) > 0 && string(rawMeta) != "{}" {
			if err := json.Unmarshal(rawMeta, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
