// Package model defines the canonical record types shared by every
// chatvault component: actors, sources and messages, independent of the
// originating network.
package model

import "time"

// SourceKind classifies a conversation context.
type SourceKind string

const (
	SourceDirect  SourceKind = "direct"
	SourceGroup   SourceKind = "group"
	SourceChannel SourceKind = "channel"
	SourceRoom    SourceKind = "room"
)

// ContentKind classifies a message payload.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentPhoto    ContentKind = "photo"
	ContentVideo    ContentKind = "video"
	ContentAudio    ContentKind = "audio"
	ContentDocument ContentKind = "document"
)

// Actor is a person or account participating in conversations,
// identified per platform. At most one record exists per
// (platform, actor_id) pair.
type Actor struct {
	Platform  string    `bson:"platform"         json:"platform"`
	ID        string    `bson:"actor_id"         json:"id"`
	Name      string    `bson:"name"             json:"name"`
	Phone     string    `bson:"phone,omitempty"  json:"phone,omitempty"`
	Handle    string    `bson:"handle,omitempty" json:"handle,omitempty"`
	IsSelf    bool      `bson:"is_self"          json:"is_self"`
	CreatedAt time.Time `bson:"created_at"       json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"       json:"updated_at"`
}

// ActorFields are the mutable attributes written by an upsert.
// Identity (platform, id) and created_at are never touched by updates.
type ActorFields struct {
	Name   string
	Phone  string
	Handle string
	IsSelf bool
}

// Source is a group/channel/room conversation context. Direct
// conversations have no Source record; they are addressed by actor id.
type Source struct {
	Platform  string     `bson:"platform"   json:"platform"`
	Kind      SourceKind `bson:"kind"       json:"kind"`
	ID        string     `bson:"source_id"  json:"id"`
	Title     string     `bson:"title"      json:"title"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}

// SourceFields are the mutable attributes written by an upsert.
type SourceFields struct {
	Title string
}

// Message is one inbound or outbound event in canonical form.
// Messages are immutable once stored.
//
// Exactly one of SourceID / TargetID is meaningful: group, channel and
// room messages carry SourceID; direct messages carry the actor pair
// (SenderID for inbound, TargetID for outbound-from-self sends).
type Message struct {
	ID         string      `bson:"_id,omitempty"       json:"id"`
	Role       string      `bson:"role"                json:"role"` // owning session role
	Platform   string      `bson:"platform"            json:"platform"`
	Kind       ContentKind `bson:"kind"                json:"kind"`
	Content    string      `bson:"content"             json:"content"` // inline text or stored media file name
	SourceKind SourceKind  `bson:"source_kind"         json:"source_kind"`
	SourceID   string      `bson:"source_id,omitempty" json:"source_id,omitempty"`
	SenderID   string      `bson:"sender_id,omitempty" json:"sender_id,omitempty"`
	TargetID   string      `bson:"target_id,omitempty" json:"target_id,omitempty"`
	CreatedAt  time.Time   `bson:"created_at"          json:"created_at"` // event time reported by the network
	StoredAt   time.Time   `bson:"stored_at"           json:"stored_at"`
	Seq        uint64      `bson:"seq"                 json:"-"` // insertion order, tiebreak for equal created_at
}
