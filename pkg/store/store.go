// Package store defines entity and message persistence for chatvault.
//
// Two implementations are provided: an in-memory store used for tests
// and single-process setups, and a MongoDB-backed store for durable
// deployments. Both guarantee atomic upserts (first-writer-wins on
// created_at, last-writer-wins on mutable fields) and an append-only,
// totally ordered message log.
package store

import (
	"context"
	"errors"

	"github.com/copperline/chatvault/pkg/model"
)

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("record not found")

// EntityStore is idempotent upsert storage for actors and sources.
type EntityStore interface {
	// UpsertActor creates or updates the actor for (platform, id).
	// Empty string fields are treated as not supplied and leave the
	// existing value untouched; IsSelf can only be raised, never cleared.
	UpsertActor(ctx context.Context, platform, id string, fields model.ActorFields) (model.Actor, error)

	// UpsertSource creates or updates the source for (platform, kind, id).
	UpsertSource(ctx context.Context, platform string, kind model.SourceKind, id string, fields model.SourceFields) (model.Source, error)

	FindActor(ctx context.Context, platform, id string) (model.Actor, error)

	// ListActors returns actors, optionally filtered by platform ("" = all).
	ListActors(ctx context.Context, platform string) ([]model.Actor, error)

	// ListSources returns sources, optionally filtered by kind ("" = all).
	ListSources(ctx context.Context, kind model.SourceKind) ([]model.Source, error)
}

// MessageLog is append-only ordered storage for canonical messages.
// Append never deduplicates; ordering per (source kind, id) or actor is
// ascending by creation timestamp with insertion order as tiebreak.
type MessageLog interface {
	Append(ctx context.Context, msg model.Message) (string, error)

	// BySource returns messages for a group/channel/room, oldest first.
	BySource(ctx context.Context, kind model.SourceKind, sourceID string, limit int) ([]model.Message, error)

	// ByActor returns direct messages where the actor is sender or
	// target (symmetric history), oldest first.
	ByActor(ctx context.Context, actorID string, limit int) ([]model.Message, error)
}
