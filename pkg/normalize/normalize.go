// Package normalize converts raw inbound events from any transport
// into canonical Actor/Source/Message records.
package normalize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/copperline/chatvault/pkg/logger"
	"github.com/copperline/chatvault/pkg/media"
	"github.com/copperline/chatvault/pkg/model"
	"github.com/copperline/chatvault/pkg/store"
)

// RenameCommand is the recognized text prefix that renames a
// group/channel/room instead of storing a message.
const RenameCommand = "/setname"

// EntityKind is the closed classification of a sender or context,
// resolved once at normalization entry.
type EntityKind string

const (
	EntityIndividual EntityKind = "individual"
	EntityGroup      EntityKind = "group-entity"
	EntityChannel    EntityKind = "channel-entity"
)

// ActorInfo describes the sender (or target) of a raw event as
// reported by the network.
type ActorInfo struct {
	ID     string
	Name   string
	Phone  string
	Handle string
	IsSelf bool
}

// RawEvent is the transport-agnostic shape of one inbound or outbound
// network event, produced by a session transport.
type RawEvent struct {
	Platform  string
	Role      string // owning session role
	PeerKind  model.SourceKind
	PeerID    string
	PeerTitle string
	Sender    *ActorInfo // nil for sourceless channel posts
	Target    *ActorInfo // set for outbound direct sends
	Outbound  bool       // sent by the session's own identity
	Text      string
	Media     *media.Ref
	Timestamp time.Time // event time reported by the network

	// Members enumerates current group/channel membership. Optional;
	// refresh is best effort and never blocks message storage.
	Members func(ctx context.Context) ([]ActorInfo, error)
}

// ContextKind classifies the event's conversation context.
func (ev *RawEvent) ContextKind() EntityKind {
	switch ev.PeerKind {
	case model.SourceGroup, model.SourceRoom:
		return EntityGroup
	case model.SourceChannel:
		return EntityChannel
	default:
		return EntityIndividual
	}
}

// Result reports what one normalization pass produced.
type Result struct {
	Actor   *model.Actor
	Source  *model.Source
	Message *model.Message
	Renamed bool // rename command handled, message storage suppressed
}

// MediaFetcher is the slice of media.Store the normalizer needs.
type MediaFetcher interface {
	Fetch(ctx context.Context, platform string, ref media.Ref) (string, model.ContentKind, error)
}

type Normalizer struct {
	entities store.EntityStore
	messages store.MessageLog
	media    MediaFetcher
}

func New(entities store.EntityStore, messages store.MessageLog, mediaStore MediaFetcher) *Normalizer {
	return &Normalizer{
		entities: entities,
		messages: messages,
		media:    mediaStore,
	}
}

// Normalize upserts the entities referenced by the event and appends
// the canonical message. Media is fetched before the append so a failed
// download never leaves a dangling reference. Replaying the same event
// collapses entity upserts but appends a second message; duplicate
// detection is not this layer's concern.
func (n *Normalizer) Normalize(ctx context.Context, ev RawEvent) (*Result, error) {
	if ev.Platform == "" {
		return nil, fmt.Errorf("normalize: event without platform")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	res := &Result{}

	if ev.Sender != nil {
		actor, err := n.entities.UpsertActor(ctx, ev.Platform, ev.Sender.ID, model.ActorFields{
			Name:   ev.Sender.Name,
			Phone:  ev.Sender.Phone,
			Handle: ev.Sender.Handle,
			IsSelf: ev.Sender.IsSelf,
		})
		if err != nil {
			return nil, fmt.Errorf("normalize sender: %w", err)
		}
		res.Actor = &actor
	}

	if ev.ContextKind() != EntityIndividual {
		src, err := n.entities.UpsertSource(ctx, ev.Platform, ev.PeerKind, ev.PeerID, model.SourceFields{
			Title: ev.PeerTitle,
		})
		if err != nil {
			return nil, fmt.Errorf("normalize source: %w", err)
		}
		res.Source = &src

		if title, ok := parseRename(ev.Text); ok {
			renamed, err := n.entities.UpsertSource(ctx, ev.Platform, ev.PeerKind, ev.PeerID, model.SourceFields{
				Title: title,
			})
			if err != nil {
				return nil, fmt.Errorf("rename source: %w", err)
			}
			res.Source = &renamed
			res.Renamed = true
			n.refreshMembers(ctx, ev)
			return res, nil
		}
	}

	kind := model.ContentText
	content := ev.Text
	if ev.Media != nil {
		name, mediaKind, err := n.media.Fetch(ctx, ev.Platform, *ev.Media)
		if err != nil {
			// No message row for an event whose payload never landed.
			return nil, err
		}
		kind = mediaKind
		content = name
	}

	msg := model.Message{
		Role:       ev.Role,
		Platform:   ev.Platform,
		Kind:       kind,
		Content:    content,
		SourceKind: ev.PeerKind,
		CreatedAt:  ev.Timestamp,
	}
	if ev.PeerKind != model.SourceDirect {
		msg.SourceID = ev.PeerID
	}
	if ev.Sender != nil && !ev.Outbound {
		msg.SenderID = ev.Sender.ID
	}
	if ev.Outbound && ev.Target != nil && ev.PeerKind == model.SourceDirect {
		msg.TargetID = ev.Target.ID
	}

	id, err := n.messages.Append(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	msg.ID = id
	res.Message = &msg

	n.refreshMembers(ctx, ev)
	return res, nil
}

// refreshMembers upserts current group/channel members. Failures are
// contained here; membership staleness never fails the event.
func (n *Normalizer) refreshMembers(ctx context.Context, ev RawEvent) {
	if ev.Members == nil || ev.ContextKind() == EntityIndividual {
		return
	}
	members, err := ev.Members(ctx)
	if err != nil {
		logger.WarnCF("normalize", "membership refresh failed", map[string]any{
			"platform": ev.Platform,
			"peer":     ev.PeerID,
			"error":    err.Error(),
		})
		return
	}
	for _, m := range members {
		if m.ID == "" {
			continue
		}
		if _, err := n.entities.UpsertActor(ctx, ev.Platform, m.ID, model.ActorFields{
			Name:   m.Name,
			Phone:  m.Phone,
			Handle: m.Handle,
			IsSelf: m.IsSelf,
		}); err != nil {
			logger.WarnCF("normalize", "member upsert failed", map[string]any{
				"platform": ev.Platform,
				"actor":    m.ID,
				"error":    err.Error(),
			})
		}
	}
}

// parseRename extracts the new title from a rename command.
// "/setname Alpha" -> ("Alpha", true).
func parseRename(text string) (string, bool) {
	if !strings.HasPrefix(text, RenameCommand) {
		return "", false
	}
	rest := strings.TrimPrefix(text, RenameCommand)
	if rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
		return "", false
	}
	title := strings.TrimSpace(rest)
	if title == "" {
		return "", false
	}
	return title, true
}
