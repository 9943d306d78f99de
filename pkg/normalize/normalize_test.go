package normalize

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/copperline/chatvault/pkg/media"
	"github.com/copperline/chatvault/pkg/model"
	"github.com/copperline/chatvault/pkg/store"
)

type fakeMedia struct {
	name string
	err  error
}

func (f *fakeMedia) Fetch(_ context.Context, _ string, ref media.Ref) (string, model.ContentKind, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return f.name, ref.Kind, nil
}

func newTestNormalizer(t *testing.T) (*Normalizer, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return New(s, s, &fakeMedia{name: "stored.jpg"}), s
}

func groupEvent(text string) RawEvent {
	return RawEvent{
		Platform:  "telegram",
		Role:      "bot",
		PeerKind:  model.SourceGroup,
		PeerID:    "g100",
		PeerTitle: "Engineering",
		Sender:    &ActorInfo{ID: "u1", Name: "Alice"},
		Text:      text,
		Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNormalize_GroupEventNewSender(t *testing.T) {
	n, s := newTestNormalizer(t)
	ctx := context.Background()

	res, err := n.Normalize(ctx, groupEvent("hello"))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if res.Actor == nil || res.Actor.ID != "u1" {
		t.Fatalf("expected actor u1, got %+v", res.Actor)
	}
	if res.Source == nil || res.Source.Title != "Engineering" {
		t.Fatalf("expected source Engineering, got %+v", res.Source)
	}
	if res.Message == nil {
		t.Fatal("expected message")
	}
	if res.Message.SourceID != "g100" {
		t.Errorf("source_id: got %q, want g100", res.Message.SourceID)
	}
	if res.Message.TargetID != "" {
		t.Errorf("target_id must be empty for group events, got %q", res.Message.TargetID)
	}

	msgs, err := s.BySource(ctx, model.SourceGroup, "g100", 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(msgs))
	}
}

func TestNormalize_DirectEventExistingActor(t *testing.T) {
	n, s := newTestNormalizer(t)
	ctx := context.Background()

	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })
	first, err := s.UpsertActor(ctx, "telegram", "u1", model.ActorFields{Name: "Alice"})
	if err != nil {
		t.Fatalf("seed actor: %v", err)
	}

	clock = clock.Add(time.Hour)
	res, err := n.Normalize(ctx, RawEvent{
		Platform:  "telegram",
		Role:      "user",
		PeerKind:  model.SourceDirect,
		PeerID:    "u1",
		Sender:    &ActorInfo{ID: "u1", Name: "Alice"},
		Text:      "hi there",
		Timestamp: clock,
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if !res.Actor.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed: %v -> %v", first.CreatedAt, res.Actor.CreatedAt)
	}
	if !res.Actor.UpdatedAt.After(first.UpdatedAt) {
		t.Error("updated_at did not advance on resighting")
	}
	if res.Message.SourceID != "" {
		t.Errorf("direct message must have empty source_id, got %q", res.Message.SourceID)
	}
	if res.Message.TargetID != "" {
		t.Errorf("inbound direct message must have empty target_id, got %q", res.Message.TargetID)
	}
	if res.Message.SenderID != "u1" {
		t.Errorf("sender_id: got %q, want u1", res.Message.SenderID)
	}
}

func TestNormalize_RenameCommandSuppressesMessage(t *testing.T) {
	n, s := newTestNormalizer(t)
	ctx := context.Background()

	res, err := n.Normalize(ctx, groupEvent("/setname Alpha"))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !res.Renamed {
		t.Fatal("expected rename to be recognized")
	}
	if res.Message != nil {
		t.Error("rename command must not append a message")
	}
	if res.Source.Title != "Alpha" {
		t.Errorf("title: got %q, want Alpha", res.Source.Title)
	}

	msgs, err := s.BySource(ctx, model.SourceGroup, "g100", 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no stored messages, got %d", len(msgs))
	}
}

func TestNormalize_RenameRequiresArgument(t *testing.T) {
	n, _ := newTestNormalizer(t)

	res, err := n.Normalize(context.Background(), groupEvent("/setname"))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Renamed {
		t.Error("bare /setname must not rename")
	}
	if res.Message == nil {
		t.Error("non-command text should be stored as a message")
	}
}

func TestNormalize_RenameNotRecognizedInDirect(t *testing.T) {
	n, _ := newTestNormalizer(t)

	res, err := n.Normalize(context.Background(), RawEvent{
		Platform: "telegram",
		Role:     "user",
		PeerKind: model.SourceDirect,
		PeerID:   "u1",
		Sender:   &ActorInfo{ID: "u1"},
		Text:     "/setname Alpha",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Renamed {
		t.Error("rename only applies to group/channel/room contexts")
	}
	if res.Message == nil {
		t.Error("direct /setname text should be stored verbatim")
	}
}

func TestNormalize_MediaFetchFailureSkipsAppend(t *testing.T) {
	s := store.NewMemoryStore()
	fetchErr := &media.FetchError{Kind: model.ContentPhoto, Err: fmt.Errorf("connection reset")}
	n := New(s, s, &fakeMedia{err: fetchErr})

	ev := groupEvent("")
	ev.Media = &media.Ref{Kind: model.ContentPhoto, MIME: "image/jpeg"}

	_, err := n.Normalize(context.Background(), ev)
	var fe *media.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *media.FetchError, got %v", err)
	}

	msgs, qerr := s.BySource(context.Background(), model.SourceGroup, "g100", 0)
	if qerr != nil {
		t.Fatalf("query: %v", qerr)
	}
	if len(msgs) != 0 {
		t.Errorf("no message may be appended when fetch fails, got %d", len(msgs))
	}
}

func TestNormalize_MediaStoredAsFileReference(t *testing.T) {
	n, _ := newTestNormalizer(t)

	ev := groupEvent("")
	ev.Media = &media.Ref{Kind: model.ContentPhoto, MIME: "image/jpeg"}

	res, err := n.Normalize(context.Background(), ev)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Message.Kind != model.ContentPhoto {
		t.Errorf("kind: got %s, want photo", res.Message.Kind)
	}
	if res.Message.Content != "stored.jpg" {
		t.Errorf("content: got %q, want stored file name", res.Message.Content)
	}
}

func TestNormalize_ReplayIdempotentEntitiesDuplicateMessages(t *testing.T) {
	n, s := newTestNormalizer(t)
	ctx := context.Background()
	ev := groupEvent("once")

	if _, err := n.Normalize(ctx, ev); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := n.Normalize(ctx, ev); err != nil {
		t.Fatalf("second: %v", err)
	}

	actors, _ := s.ListActors(ctx, "telegram")
	if len(actors) != 1 {
		t.Errorf("expected 1 actor after replay, got %d", len(actors))
	}
	sources, _ := s.ListSources(ctx, model.SourceGroup)
	if len(sources) != 1 {
		t.Errorf("expected 1 source after replay, got %d", len(sources))
	}
	msgs, _ := s.BySource(ctx, model.SourceGroup, "g100", 0)
	if len(msgs) != 2 {
		t.Errorf("append must not deduplicate, got %d messages", len(msgs))
	}
}

func TestNormalize_MembershipFailureDoesNotFailEvent(t *testing.T) {
	n, s := newTestNormalizer(t)
	ctx := context.Background()

	ev := groupEvent("hello")
	ev.Members = func(context.Context) ([]ActorInfo, error) {
		return nil, fmt.Errorf("flood wait")
	}

	res, err := n.Normalize(ctx, ev)
	if err != nil {
		t.Fatalf("membership failure must not fail the event: %v", err)
	}
	if res.Message == nil {
		t.Error("message should still be stored")
	}

	// And a successful enumeration upserts each member.
	ev.Members = func(context.Context) ([]ActorInfo, error) {
		return []ActorInfo{{ID: "u2", Name: "Bob"}, {ID: "u3", Name: "Carol"}}, nil
	}
	if _, err := n.Normalize(ctx, ev); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	actors, _ := s.ListActors(ctx, "telegram")
	if len(actors) != 3 {
		t.Errorf("expected sender plus 2 members, got %d actors", len(actors))
	}
}

func TestNormalize_OutboundDirectSetsTarget(t *testing.T) {
	n, _ := newTestNormalizer(t)

	res, err := n.Normalize(context.Background(), RawEvent{
		Platform: "line",
		Role:     "line",
		PeerKind: model.SourceDirect,
		PeerID:   "u9",
		Target:   &ActorInfo{ID: "u9"},
		Outbound: true,
		Text:     "reply",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Message.SenderID != "" {
		t.Errorf("outbound message must have empty sender_id, got %q", res.Message.SenderID)
	}
	if res.Message.TargetID != "u9" {
		t.Errorf("target_id: got %q, want u9", res.Message.TargetID)
	}
}
