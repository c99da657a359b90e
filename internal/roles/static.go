package roles

import (
	"context"
	"time"
)

// StaticStore serves role records derived from the directory itself, for
// processes running without a database. IDs are stable across restarts so
// tokens minted against one process resolve in the next.
type StaticStore struct {
	byID   map[string]Record
	byName map[string]Record
}

// NewStaticStore materializes one record per directory role.
func NewStaticStore(dir *Directory) *StaticStore {
	s := &StaticStore{byID: map[string]Record{}, byName: map[string]Record{}}
	now := time.Now().UTC()
	names := append(dir.NamesByOrganization(OrgAmexing), dir.NamesByOrganization(OrgClient)...)
	for _, name := range names {
		rec := Record{ID: "role:" + name, Name: name, CreatedAt: now}
		s.byID[rec.ID] = rec
		s.byName[name] = rec
	}
	return s
}

func (s *StaticStore) Find(ctx context.Context, id string) (Record, error) {
	if rec, ok := s.byID[id]; ok {
		return rec, nil
	}
	return Record{}, ErrNotFound
}

func (s *StaticStore) FindByName(ctx context.Context, name string) (Record, error) {
	if rec, ok := s.byName[name]; ok {
		return rec, nil
	}
	return Record{}, ErrNotFound
}

func (s *StaticStore) ListByNames(ctx context.Context, names []string) ([]Record, error) {
	out := make([]Record, 0, len(names))
	for _, n := range names {
		if rec, ok := s.byName[n]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
