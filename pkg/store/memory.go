package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/copperline/chatvault/pkg/model"
)

// MemoryStore implements EntityStore and MessageLog in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	actors   map[string]model.Actor
	sources  map[string]model.Source
	messages []model.Message
	seq      uint64

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actors:  make(map[string]model.Actor),
		sources: make(map[string]model.Source),
		now:     time.Now,
	}
}

// SetClock overrides the timestamp source. Intended for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.now = now
}

func actorKey(platform, id string) string {
	return platform + "\x00" + id
}

func sourceKey(platform string, kind model.SourceKind, id string) string {
	return platform + "\x00" + string(kind) + "\x00" + id
}

func (s *MemoryStore) UpsertActor(_ context.Context, platform, id string, fields model.ActorFields) (model.Actor, error) {
	if platform == "" || id == "" {
		return model.Actor{}, fmt.Errorf("upsert actor: platform and id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := actorKey(platform, id)
	a, ok := s.actors[key]
	if !ok {
		a = model.Actor{Platform: platform, ID: id, CreatedAt: now}
	}
	applyActorFields(&a, fields)
	a.UpdatedAt = now
	s.actors[key] = a
	return a, nil
}

func applyActorFields(a *model.Actor, f model.ActorFields) {
	if f.Name != "" {
		a.Name = f.Name
	}
	if f.Phone != "" {
		a.Phone = f.Phone
	}
	if f.Handle != "" {
		a.Handle = f.Handle
	}
	if f.IsSelf {
		a.IsSelf = true
	}
}

func (s *MemoryStore) UpsertSource(_ context.Context, platform string, kind model.SourceKind, id string, fields model.SourceFields) (model.Source, error) {
	if platform == "" || id == "" {
		return model.Source{}, fmt.Errorf("upsert source: platform and id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := sourceKey(platform, kind, id)
	src, ok := s.sources[key]
	if !ok {
		src = model.Source{Platform: platform, Kind: kind, ID: id, CreatedAt: now}
	}
	if fields.Title != "" {
		src.Title = fields.Title
	}
	src.UpdatedAt = now
	s.sources[key] = src
	return src, nil
}

func (s *MemoryStore) FindActor(_ context.Context, platform, id string) (model.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.actors[actorKey(platform, id)]
	if !ok {
		return model.Actor{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) ListActors(_ context.Context, platform string) ([]model.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Actor, 0, len(s.actors))
	for _, a := range s.actors {
		if platform != "" && a.Platform != platform {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListSources(_ context.Context, kind model.SourceKind) ([]model.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Source, 0, len(s.sources))
	for _, src := range s.sources {
		if kind != "" && src.Kind != kind {
			continue
		}
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, msg model.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	msg.Seq = s.seq
	msg.ID = fmt.Sprintf("%d", s.seq)
	msg.StoredAt = s.now()
	s.messages = append(s.messages, msg)
	return msg.ID, nil
}

func (s *MemoryStore) BySource(_ context.Context, kind model.SourceKind, sourceID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Message
	for _, m := range s.messages {
		if m.SourceKind == kind && m.SourceID == sourceID {
			out = append(out, m)
		}
	}
	return orderMessages(out, limit), nil
}

func (s *MemoryStore) ByActor(_ context.Context, actorID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Message
	for _, m := range s.messages {
		if m.SenderID == actorID || m.TargetID == actorID {
			out = append(out, m)
		}
	}
	return orderMessages(out, limit), nil
}

// orderMessages sorts ascending by creation timestamp, insertion order
// breaking ties, and keeps the newest `limit` entries.
func orderMessages(msgs []model.Message, limit int) []model.Message {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].Seq < msgs[j].Seq
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}
