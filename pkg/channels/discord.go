package channels

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/copperline/chatvault/pkg/logger"
	"github.com/copperline/chatvault/pkg/media"
	"github.com/copperline/chatvault/pkg/model"
	"github.com/copperline/chatvault/pkg/normalize"
	"github.com/copperline/chatvault/pkg/session"
)

// DiscordTransport connects through the Discord gateway. Inbound
// MESSAGE_CREATE events flow from the gateway handler into an internal
// queue that Receive drains.
type DiscordTransport struct {
	*BaseTransport
	token  string
	dg     *discordgo.Session
	selfID string
	events chan normalize.RawEvent
	fatal  chan error
	client *http.Client
}

func NewDiscordTransport(role, token string, allowFrom []string) *DiscordTransport {
	return &DiscordTransport{
		BaseTransport: NewBaseTransport("discord", role, allowFrom),
		token:         token,
		client:        &http.Client{Timeout: 2 * time.Minute},
	}
}

func (t *DiscordTransport) Connect(ctx context.Context) error {
	if t.token == "" {
		return fmt.Errorf("discord %s: empty token: %w", t.Role(), session.ErrAuthentication)
	}

	dg, err := discordgo.New("Bot " + t.token)
	if err != nil {
		return fmt.Errorf("discord init: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers

	t.events = make(chan normalize.RawEvent, 64)
	t.fatal = make(chan error, 1)
	dg.AddHandler(t.onMessageCreate)
	dg.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		select {
		case t.fatal <- fmt.Errorf("discord gateway disconnected"):
		default:
		}
	})

	if err := dg.Open(); err != nil {
		if isDiscordAuthError(err) {
			return fmt.Errorf("discord open: %v: %w", err, session.ErrAuthentication)
		}
		return fmt.Errorf("discord open: %w", err)
	}

	if dg.State != nil && dg.State.User != nil {
		t.selfID = dg.State.User.ID
	}
	t.dg = dg
	t.SetRunning(true)
	return nil
}

func (t *DiscordTransport) Receive(ctx context.Context) (normalize.RawEvent, error) {
	select {
	case <-ctx.Done():
		return normalize.RawEvent{}, ctx.Err()
	case err := <-t.fatal:
		return normalize.RawEvent{}, err
	case ev := <-t.events:
		return ev, nil
	}
}

// SendDirect opens (or reuses) a DM channel with the user and sends
// there. A raw channel ID also works as a target.
func (t *DiscordTransport) SendDirect(ctx context.Context, targetID, text string) error {
	channelID := targetID
	if ch, err := t.dg.UserChannelCreate(targetID, discordgo.WithContext(ctx)); err == nil {
		channelID = ch.ID
	}
	_, err := t.dg.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Broadcast has no single-call equivalent on Discord.
func (t *DiscordTransport) Broadcast(_ context.Context, _ string) error {
	return fmt.Errorf("discord does not support broadcast")
}

func (t *DiscordTransport) Close() error {
	t.SetRunning(false)
	if t.dg == nil {
		return nil
	}
	err := t.dg.Close()
	t.dg = nil
	return err
}

func (t *DiscordTransport) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == "" {
		return
	}
	if !t.IsAllowed(compoundID(m.Author.ID, m.Author.Username)) {
		return
	}

	ev := normalize.RawEvent{
		Platform:  t.Platform(),
		Role:      t.Role(),
		Text:      m.Content,
		Timestamp: m.Timestamp.UTC(),
		Sender: &normalize.ActorInfo{
			ID:     m.Author.ID,
			Name:   firstNonEmpty(m.Author.GlobalName, m.Author.Username),
			Handle: m.Author.Username,
			IsSelf: m.Author.ID == t.selfID,
		},
	}
	ev.Outbound = ev.Sender.IsSelf

	if m.GuildID == "" {
		ev.PeerKind = model.SourceDirect
		ev.PeerID = m.ChannelID
		if ev.Outbound {
			ev.Target = &normalize.ActorInfo{ID: m.ChannelID}
		}
	} else {
		ev.PeerKind = model.SourceChannel
		ev.PeerID = m.ChannelID
		if ch, err := s.Channel(m.ChannelID); err == nil {
			ev.PeerTitle = ch.Name
		}
		guildID := m.GuildID
		ev.Members = func(ctx context.Context) ([]normalize.ActorInfo, error) {
			return t.listMembers(ctx, guildID)
		}
	}

	if ref := t.attachmentRef(m.Attachments); ref != nil {
		ev.Media = ref
	}

	select {
	case t.events <- ev:
	default:
		logger.WarnC("discord", "event queue full, dropping gateway event")
	}
}

func (t *DiscordTransport) attachmentRef(attachments []*discordgo.MessageAttachment) *media.Ref {
	if len(attachments) == 0 {
		return nil
	}
	att := attachments[0]

	kind := model.ContentDocument
	switch {
	case strings.HasPrefix(att.ContentType, "image/"):
		kind = model.ContentPhoto
	case strings.HasPrefix(att.ContentType, "video/"):
		kind = model.ContentVideo
	case strings.HasPrefix(att.ContentType, "audio/"):
		kind = model.ContentAudio
	}

	url := att.URL
	return &media.Ref{
		Kind: kind,
		MIME: att.ContentType,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, err
			}
			resp, err := t.client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("discord attachment download: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				return nil, fmt.Errorf("discord attachment download: status %d", resp.StatusCode)
			}
			return resp.Body, nil
		},
	}
}

func (t *DiscordTransport) listMembers(ctx context.Context, guildID string) ([]normalize.ActorInfo, error) {
	members, err := t.dg.GuildMembers(guildID, "", 1000, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord guild members: %w", err)
	}
	out := make([]normalize.ActorInfo, 0, len(members))
	for _, m := range members {
		if m.User == nil {
			continue
		}
		out = append(out, normalize.ActorInfo{
			ID:     m.User.ID,
			Name:   firstNonEmpty(m.Nick, m.User.GlobalName, m.User.Username),
			Handle: m.User.Username,
			IsSelf: m.User.ID == t.selfID,
		})
	}
	return out, nil
}

func isDiscordAuthError(err error) bool {
	if err == nil {
		return false
	}
	if err == discordgo.ErrUnauthorized {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Authentication failed") || strings.Contains(msg, "401")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
